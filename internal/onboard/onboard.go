// Package onboard implements the welcome/onboarding state machine: it
// watches for newly detected nodes still carrying their factory default
// name, verifies they are actually reachable with a ping, and only then
// sends a chunked private guide followed by a public greeting. Grounded
// on the teacher's beacon.go, which similarly keeps the "should I
// transmit" decision (there: a UTC-minute-boundary check) separate from
// the transmit call itself, so the decision logic can be tested without
// a real serial port.
//
// The ACK that counts as "reachable" may be produced by the radio
// firmware rather than by the destination node, so a successful ping
// shows link-layer reachability, not that the end node itself is alive.
package onboard

import (
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/smartyhall/meshbbs-gateway/internal/chunk"
	"github.com/smartyhall/meshbbs-gateway/internal/scheduler"
)

// defaultNamePattern matches the factory default Meshtastic device name,
// "Meshtastic" followed by exactly four hex digits, case-insensitive.
var defaultNamePattern = regexp.MustCompile(`(?i)^Meshtastic [0-9a-f]{4}$`)

// IsDefaultName reports whether name is the unmodified factory default.
// Any other name is "custom" and never triggers a welcome.
func IsDefaultName(name string) bool {
	return defaultNamePattern.MatchString(name)
}

// Pinger sends a reachability probe and reports whether it was ACKed
// within timeout. Satisfied by *writer.Task via a thin adapter in
// internal/gateway, so this package can be unit-tested without a real
// radio.
type Pinger interface {
	Ping(to, channel uint32, timeout time.Duration) bool
}

// Enqueuer accepts scheduler envelopes. Satisfied by *scheduler.Scheduler.
type Enqueuer interface {
	Enqueue(env scheduler.MessageEnvelope)
}

// Store tracks which nodes have already been welcomed, how many times,
// and when. Satisfied by *welcomed.Store.
type Store interface {
	IsWelcomed(id uint32) bool
	Count(id uint32) int
	LastWelcomedAt(id uint32) time.Time
	MarkWelcomed(id uint32, now time.Time) error
}

// Config holds the onboarding tuning knobs from spec section 6 /
// SPEC_FULL's config.OnboardConfig, already converted to durations.
type Config struct {
	MaxWelcomesPerNode int
	Cooldown           time.Duration
	PingTimeout        time.Duration
	GuideChunkBytes    int
	GuideChunkSpacing  time.Duration
	GreetingDelay      time.Duration
	StartupScanWindow  time.Duration
	StartupStagger     time.Duration

	// Channel is the broadcast channel index used for the public
	// greeting and the startup ping.
	Channel uint32
	// GuideText and GreetingText are the message bodies the onboarder
	// sends; left to the embedding application to fill in (out of
	// scope here per spec section 1's BBS-content exclusion), but a
	// zero value simply means neither message is sent.
	GuideText    string
	GreetingText string
}

// Onboarder runs the eligibility check and ping-gated send protocol.
// It depends only on the three interfaces above, never on a concrete
// writer, scheduler, or serial port, so its logic is reachable from
// table-driven tests with fakes. Consider blocks on a ping, so the
// gateway runs each candidate's Consider call in its own goroutine
// (live NodeDetected events and the staggered startup scan alike);
// lastGlobalWelcome is therefore guarded by a mutex rather than
// assumed single-threaded.
type Onboarder struct {
	cfg     Config
	pinger  Pinger
	enqueue Enqueuer
	store   Store
	log     *log.Logger

	mu                sync.Mutex
	lastGlobalWelcome time.Time
}

// New constructs an Onboarder.
func New(cfg Config, pinger Pinger, enqueue Enqueuer, store Store, logger *log.Logger) *Onboarder {
	return &Onboarder{cfg: cfg, pinger: pinger, enqueue: enqueue, store: store, log: logger}
}

// Eligible reports whether id with the given advertised name should be
// considered for onboarding right now: default name, under the per-node
// welcome cap, and the global cooldown since the last welcome elsewhere
// has elapsed.
func (o *Onboarder) Eligible(id uint32, name string, now time.Time) bool {
	if !IsDefaultName(name) {
		return false
	}
	if o.store.Count(id) >= o.cfg.MaxWelcomesPerNode {
		return false
	}

	o.mu.Lock()
	last := o.lastGlobalWelcome
	o.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < o.cfg.Cooldown {
		return false
	}
	return true
}

// Consider runs the full gated protocol for a node that just became
// eligible: ping it, and only on a true ACK enqueue the guide and
// greeting and record the welcome. A ping that resolves false or times
// out aborts silently; the node is never marked welcomed and may be
// retried on its next appearance.
func (o *Onboarder) Consider(id uint32, name string, now time.Time) {
	if !o.Eligible(id, name, now) {
		return
	}

	reachable := o.pinger.Ping(id, o.cfg.Channel, o.cfg.PingTimeout)
	if !reachable {
		o.log.Debug("welcome ping unreachable, skipping", "node", id)
		return
	}

	sentGuide := o.sendGuide(id, now)
	o.sendGreeting(id, now, sentGuide)

	if err := o.store.MarkWelcomed(id, now); err != nil {
		o.log.Warn("persist welcomed node", "node", id, "err", err)
	}

	o.mu.Lock()
	o.lastGlobalWelcome = now
	o.mu.Unlock()
}

func (o *Onboarder) sendGuide(id uint32, now time.Time) bool {
	if o.cfg.GuideText == "" {
		return false
	}
	chunks := chunk.Split(o.cfg.GuideText, o.cfg.GuideChunkBytes)
	for i, c := range chunks {
		o.enqueue.Enqueue(scheduler.MessageEnvelope{
			Category: scheduler.CategorySystem,
			Priority: scheduler.PriorityNormal,
			Earliest: now.Add(time.Duration(i) * o.cfg.GuideChunkSpacing),
			Enqueued: now,
			Payload: scheduler.OutgoingMessage{
				Dest:    id,
				Content: c,
			},
		})
	}
	return len(chunks) > 0
}

func (o *Onboarder) sendGreeting(id uint32, now time.Time, afterGuide bool) {
	if o.cfg.GreetingText == "" {
		return
	}
	base := now
	if afterGuide {
		base = now.Add(o.cfg.GreetingDelay)
	}
	chunks := chunk.Split(o.cfg.GreetingText, o.cfg.GuideChunkBytes)
	for i, c := range chunks {
		o.enqueue.Enqueue(scheduler.MessageEnvelope{
			Category: scheduler.CategoryHelpBroadcast,
			Priority: scheduler.PriorityLow,
			Earliest: base.Add(time.Duration(i) * o.cfg.GuideChunkSpacing),
			Enqueued: now,
			Payload: scheduler.OutgoingMessage{
				IsBroadcast: true,
				Channel:     o.cfg.Channel,
				Content:     c,
			},
		})
	}
}

// CacheEntry is the subset of nodecache.Node the startup scan needs,
// kept minimal so this package doesn't import nodecache directly.
type CacheEntry struct {
	ID       uint32
	LongName string
	LastSeen time.Time
}

// StaggeredCandidate is one node the startup scan wants considered, and
// when: Delay from the moment the scan ran.
type StaggeredCandidate struct {
	Entry CacheEntry
	Delay time.Duration
}

// PlanStartupScan filters entries to those last seen within
// StartupScanWindow and returns them staggered StartupStagger apart, in
// cache iteration order, so a restart with many eligible nodes doesn't
// burst-ping all of them at once. It performs no I/O and blocks on
// nothing: the caller (internal/gateway, which owns the single
// cooperative event loop and a real timer) is responsible for calling
// Consider for each candidate once its Delay has elapsed.
func (o *Onboarder) PlanStartupScan(entries []CacheEntry, now time.Time) []StaggeredCandidate {
	var plan []StaggeredCandidate
	for _, e := range entries {
		if now.Sub(e.LastSeen) > o.cfg.StartupScanWindow {
			continue
		}
		if !IsDefaultName(e.LongName) || o.store.IsWelcomed(e.ID) {
			continue
		}
		plan = append(plan, StaggeredCandidate{
			Entry: e,
			Delay: time.Duration(len(plan)) * o.cfg.StartupStagger,
		})
	}
	return plan
}
