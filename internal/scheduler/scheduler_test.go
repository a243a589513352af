package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, maxQueue int) (*Scheduler, chan OutgoingMessage) {
	t.Helper()
	out := make(chan OutgoingMessage, 64)
	s := New(out, maxQueue, 5*time.Second, 2*time.Second, 0)
	return s, out
}

// Scenario 1: DM preemption over queued broadcasts.
func TestDirectPreemptsQueuedBroadcasts(t *testing.T) {
	s, out := newTestScheduler(t, 64)

	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Enqueue(MessageEnvelope{
			Category: CategoryBroadcast,
			Priority: PriorityLow,
			Earliest: now,
			Enqueued: now,
			Payload:  OutgoingMessage{Content: "broadcast"},
		})
	}
	s.Enqueue(MessageEnvelope{
		Category: CategoryDirect,
		Priority: PriorityHigh,
		Earliest: now,
		Enqueued: now,
		Payload:  OutgoingMessage{Dest: 42, Content: "dm"},
	})

	tickTime := now
	for i := 0; i < 6; i++ {
		s.Tick(tickTime)
		tickTime = tickTime.Add(2100 * time.Millisecond)
	}

	require.Len(t, out, 6)
	first := <-out
	assert.Equal(t, uint32(42), first.Dest)
	for i := 0; i < 5; i++ {
		m := <-out
		assert.Equal(t, "broadcast", m.Content)
	}
}

// Scenario 2: overflow drop policy.
func TestOverflowDropsWeakestOldestVictim(t *testing.T) {
	s, _ := newTestScheduler(t, 3)

	t0 := time.Unix(0, 0)
	s.Enqueue(MessageEnvelope{Priority: PriorityNormal, Earliest: t0, Enqueued: t0, Payload: OutgoingMessage{Content: "normal"}})
	s.Enqueue(MessageEnvelope{Priority: PriorityLow, Earliest: t0.Add(time.Second), Enqueued: t0.Add(time.Second), Payload: OutgoingMessage{Content: "low1"}})
	s.Enqueue(MessageEnvelope{Priority: PriorityLow, Earliest: t0.Add(2 * time.Second), Enqueued: t0.Add(2 * time.Second), Payload: OutgoingMessage{Content: "low2"}})
	s.Enqueue(MessageEnvelope{Priority: PriorityHigh, Earliest: t0.Add(3 * time.Second), Enqueued: t0.Add(3 * time.Second), Payload: OutgoingMessage{Content: "high"}})

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.QueueLen)
	assert.EqualValues(t, 1, snap.DroppedOverflow)

	contents := make([]string, 0, 3)
	for _, e := range s.entries {
		contents = append(contents, e.env.Payload.Content)
	}
	assert.ElementsMatch(t, []string{"normal", "low2", "high"}, contents)
}

func TestEnqueueNeverExceedsMaxQueue(t *testing.T) {
	s, _ := newTestScheduler(t, 5)
	now := time.Now()
	for i := 0; i < 50; i++ {
		s.Enqueue(MessageEnvelope{Priority: PriorityNormal, Earliest: now, Enqueued: now})
		assert.LessOrEqual(t, s.Snapshot().QueueLen, 5)
	}
}

func TestAgingPromotesAfterThreshold(t *testing.T) {
	s, _ := newTestScheduler(t, 64)
	now := time.Now()
	s.Enqueue(MessageEnvelope{Priority: PriorityBackground, Earliest: now.Add(time.Hour), Enqueued: now})

	s.Tick(now.Add(5100 * time.Millisecond))
	s.mu.Lock()
	p := s.entries[0].env.Priority
	s.mu.Unlock()
	assert.Equal(t, PriorityLow, p)
	assert.EqualValues(t, 1, s.Snapshot().Escalations)
}

func TestDispatchRespectsMinSendGap(t *testing.T) {
	s, out := newTestScheduler(t, 64)
	now := time.Now()
	s.Enqueue(MessageEnvelope{Priority: PriorityHigh, Earliest: now, Enqueued: now, Payload: OutgoingMessage{Content: "a"}})
	s.Enqueue(MessageEnvelope{Priority: PriorityHigh, Earliest: now, Enqueued: now, Payload: OutgoingMessage{Content: "b"}})

	s.Tick(now)
	require.Len(t, out, 1)

	s.Tick(now.Add(time.Second))
	assert.Len(t, out, 1, "second dispatch must wait for min_send_gap")

	s.Tick(now.Add(2100 * time.Millisecond))
	assert.Len(t, out, 2)
}
