package onboard

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartyhall/meshbbs-gateway/internal/scheduler"
)

type fakePinger struct {
	result bool
	calls  int
}

func (f *fakePinger) Ping(to, channel uint32, timeout time.Duration) bool {
	f.calls++
	return f.result
}

type fakeEnqueuer struct {
	envs []scheduler.MessageEnvelope
}

func (f *fakeEnqueuer) Enqueue(env scheduler.MessageEnvelope) {
	f.envs = append(f.envs, env)
}

type fakeStore struct {
	welcomed map[uint32]int
	lastAt   map[uint32]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{welcomed: make(map[uint32]int), lastAt: make(map[uint32]time.Time)}
}

func (f *fakeStore) IsWelcomed(id uint32) bool          { return f.welcomed[id] > 0 }
func (f *fakeStore) Count(id uint32) int                { return f.welcomed[id] }
func (f *fakeStore) LastWelcomedAt(id uint32) time.Time { return f.lastAt[id] }
func (f *fakeStore) MarkWelcomed(id uint32, now time.Time) error {
	f.welcomed[id]++
	f.lastAt[id] = now
	return nil
}

func testConfig() Config {
	return Config{
		MaxWelcomesPerNode: 1,
		Cooldown:           10 * time.Minute,
		PingTimeout:        120 * time.Second,
		GuideChunkBytes:    200,
		GuideChunkSpacing:  5 * time.Second,
		GreetingDelay:      11 * time.Second,
		StartupScanWindow:  time.Hour,
		StartupStagger:     30 * time.Second,
		Channel:            0,
		GuideText:          "welcome to the BBS",
		GreetingText:       "a new node has joined",
	}
}

func newTestOnboarder(pinger *fakePinger, store *fakeStore) (*Onboarder, *fakeEnqueuer) {
	eq := &fakeEnqueuer{}
	logger := log.NewWithOptions(io.Discard, log.Options{})
	return New(testConfig(), pinger, eq, store, logger), eq
}

func TestIsDefaultNamePattern(t *testing.T) {
	assert.True(t, IsDefaultName("Meshtastic a1b2"))
	assert.True(t, IsDefaultName("Meshtastic A1B2"))
	assert.False(t, IsDefaultName("Meshtastic a1b2c"))
	assert.False(t, IsDefaultName("KD5XYZ-base"))
	assert.False(t, IsDefaultName(""))
}

// Scenario 5: welcome requires a reachable node — unreachable case.
func TestConsiderSkipsUnreachableNode(t *testing.T) {
	pinger := &fakePinger{result: false}
	store := newFakeStore()
	o, eq := newTestOnboarder(pinger, store)

	o.Consider(0x1234, "Meshtastic a1b2", time.Now())

	assert.Equal(t, 1, pinger.calls)
	assert.Empty(t, eq.envs)
	assert.False(t, store.IsWelcomed(0x1234))
}

// Scenario 5: welcome requires a reachable node — reachable case.
func TestConsiderWelcomesReachableNode(t *testing.T) {
	pinger := &fakePinger{result: true}
	store := newFakeStore()
	o, eq := newTestOnboarder(pinger, store)

	now := time.Now()
	o.Consider(0x1234, "Meshtastic a1b2", now)

	require.True(t, store.IsWelcomed(0x1234))
	require.NotEmpty(t, eq.envs)

	var sawGuide, sawGreeting bool
	var greetingEarliest time.Time
	for _, env := range eq.envs {
		if env.Category == scheduler.CategorySystem {
			sawGuide = true
			assert.False(t, env.Payload.IsBroadcast)
		}
		if env.Category == scheduler.CategoryHelpBroadcast {
			sawGreeting = true
			assert.True(t, env.Payload.IsBroadcast)
			greetingEarliest = env.Earliest
		}
	}
	assert.True(t, sawGuide)
	assert.True(t, sawGreeting)
	assert.True(t, greetingEarliest.Sub(now) >= 11*time.Second)
}

func TestConsiderIgnoresCustomName(t *testing.T) {
	pinger := &fakePinger{result: true}
	store := newFakeStore()
	o, _ := newTestOnboarder(pinger, store)

	o.Consider(0x1234, "Alice's Station", time.Now())

	assert.Equal(t, 0, pinger.calls)
	assert.False(t, store.IsWelcomed(0x1234))
}

func TestEligibleRespectsMaxWelcomesAndCooldown(t *testing.T) {
	pinger := &fakePinger{result: true}
	store := newFakeStore()
	o, _ := newTestOnboarder(pinger, store)

	now := time.Now()
	require.True(t, o.Eligible(1, "Meshtastic a1b2", now))

	o.Consider(1, "Meshtastic a1b2", now)
	assert.False(t, o.Eligible(1, "Meshtastic a1b2", now.Add(11*time.Minute)), "a node at max_welcomes_per_node must not be welcomed again")
	assert.False(t, o.Eligible(2, "Meshtastic c3d4", now.Add(time.Minute)), "global cooldown should block a second welcome soon after")
	assert.True(t, o.Eligible(2, "Meshtastic c3d4", now.Add(11*time.Minute)))
}

func TestPlanStartupScanFiltersWindowAndStaggers(t *testing.T) {
	pinger := &fakePinger{result: true}
	store := newFakeStore()
	o, _ := newTestOnboarder(pinger, store)

	now := time.Now()
	entries := []CacheEntry{
		{ID: 1, LongName: "Meshtastic aaaa", LastSeen: now.Add(-10 * time.Minute)},
		{ID: 2, LongName: "Meshtastic bbbb", LastSeen: now.Add(-2 * time.Hour)}, // outside window
		{ID: 3, LongName: "Custom Name", LastSeen: now.Add(-5 * time.Minute)},   // not default
		{ID: 4, LongName: "Meshtastic dddd", LastSeen: now.Add(-20 * time.Minute)},
	}

	plan := o.PlanStartupScan(entries, now)
	require.Len(t, plan, 2)
	assert.Equal(t, uint32(1), plan[0].Entry.ID)
	assert.Equal(t, time.Duration(0), plan[0].Delay)
	assert.Equal(t, uint32(4), plan[1].Entry.ID)
	assert.Equal(t, 30*time.Second, plan[1].Delay)
}
