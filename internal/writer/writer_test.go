package writer

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartyhall/meshbbs-gateway/internal/gwlog"
	"github.com/smartyhall/meshbbs-gateway/internal/meshpb"
	"github.com/smartyhall/meshbbs-gateway/internal/scheduler"
)

type fakeRetryEnqueuer struct {
	calls []struct {
		id    uint32
		delay time.Duration
	}
}

func (f *fakeRetryEnqueuer) EnqueueRetry(id uint32, delay time.Duration) {
	f.calls = append(f.calls, struct {
		id    uint32
		delay time.Duration
	}{id, delay})
}

func newTestTask(t *testing.T) *Task {
	t.Helper()
	out := make(chan scheduler.OutgoingMessage, 16)
	task := New(nil, out, []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second},
		2*time.Second, 1200*time.Millisecond, 600*time.Millisecond, gwlog.New(gwlog.LevelError, io.Discard))
	task.haveNodeID = true
	task.ourNodeID = 0x1000
	// writePacket normally touches the serial port; tests stub it out so
	// pending-table bookkeeping can be exercised without real hardware.
	task.writePacketFn = func(uint32, uint32, string, uint32, bool, uint32) bool { return true }
	return task
}

// Scenario 3: reliable-DM retry with transient rate-limit.
func TestRetryTransientRoutingErrorExtendsBackoffWithoutConsumingAttempt(t *testing.T) {
	task := newTestTask(t)
	fake := &fakeRetryEnqueuer{}
	task.retryEnqueuer = fake

	task.sendText(scheduler.OutgoingMessage{Dest: 0x1234, Content: "hi", IsBroadcast: false})
	require.Len(t, task.pending, 1)

	var id uint32
	for k := range task.pending {
		id = k
	}
	require.Equal(t, 1, task.pending[id].attempts)

	task.handleRoutingError(id, meshpb.RoutingErrorRateLimitExceeded)
	assert.Equal(t, 1, task.pending[id].attempts, "transient error must not advance attempts")
	assert.EqualValues(t, 1, task.stats.Transient)

	task.handleAck(id)
	_, stillPending := task.pending[id]
	assert.False(t, stillPending)
	assert.EqualValues(t, 1, task.stats.Acked)
}

// Scenario 4: ping resolves true on ACK.
func TestSendPingResolvesTrueOnAck(t *testing.T) {
	task := newTestTask(t)

	resp := make(chan bool, 1)
	task.sendPing(SendPing{To: 0x5678, Channel: 0, Response: resp})
	require.Len(t, task.pendingPing, 1)

	var id uint32
	for k := range task.pendingPing {
		id = k
	}

	task.handleAck(id)

	select {
	case v := <-resp:
		assert.True(t, v)
	default:
		t.Fatal("expected ping response to resolve")
	}
	assert.Empty(t, task.pendingPing)
}

func TestSendPingResolvesFalseOnPermanentRoutingError(t *testing.T) {
	task := newTestTask(t)

	resp := make(chan bool, 1)
	task.sendPing(SendPing{To: 0x5678, Response: resp})
	var id uint32
	for k := range task.pendingPing {
		id = k
	}

	task.handleRoutingError(id, meshpb.RoutingErrorNoRoute)

	select {
	case v := <-resp:
		assert.False(t, v)
	default:
		t.Fatal("expected ping response to resolve")
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	task := newTestTask(t)
	task.sendText(scheduler.OutgoingMessage{Dest: 0x1234, Content: "hi"})

	var id uint32
	for k := range task.pending {
		id = k
	}

	p := task.pending[id]
	p.nextDue = time.Now().Add(-time.Second)
	task.handleRetry(id) // attempt 2
	p.nextDue = time.Now().Add(-time.Second)
	task.handleRetry(id) // attempt 3, hits max on next call
	p.nextDue = time.Now().Add(-time.Second)
	task.handleRetry(id)

	_, ok := task.pending[id]
	assert.False(t, ok)
	assert.EqualValues(t, 1, task.stats.Failed)
}

func TestRetryOfUnknownIDIsIgnored(t *testing.T) {
	task := newTestTask(t)
	task.handleRetry(0xdeadbeef) // must not panic
}

func TestPacingDelayEnforcesDMToDMGap(t *testing.T) {
	task := newTestTask(t)
	now := time.Now()
	// Push lastSend far enough into the past that the min-send-gap gate is
	// already satisfied, so only the dm-to-dm gate is under test.
	task.lastSend = now.Add(-task.minSendGap - time.Second)
	task.lastSendWasDM = true
	task.lastReliableDMAt = now

	wait := task.pacingDelay(now.Add(100*time.Millisecond), true)
	assert.Equal(t, task.dmToDMGap-100*time.Millisecond, wait)
}

func TestPacingDelayEnforcesPostDMBroadcastGap(t *testing.T) {
	task := newTestTask(t)
	now := time.Now()
	// Same isolation as above, but for the post-DM broadcast gate.
	task.lastSend = now.Add(-task.minSendGap - time.Second)
	task.lastSendWasDM = true
	task.lastReliableDMAt = now

	wait := task.pacingDelay(now.Add(100*time.Millisecond), false)
	assert.Equal(t, task.postDMBroadcastGap-100*time.Millisecond, wait)
}

func TestSendTextDropsWhenNodeIDUnknown(t *testing.T) {
	task := newTestTask(t)
	task.haveNodeID = false

	task.sendText(scheduler.OutgoingMessage{Dest: 1, Content: "hi"})
	assert.Empty(t, task.pending)
	assert.Zero(t, task.stats.Sent)
}

func TestBroadcastWithAckTracksPendingBroadcast(t *testing.T) {
	task := newTestTask(t)
	task.sendText(scheduler.OutgoingMessage{IsBroadcast: true, RequestAck: true, Content: "ident KD5XYZ"})
	require.Len(t, task.pendingBroadcast, 1)

	var bp *broadcastPending
	for _, p := range task.pendingBroadcast {
		bp = p
	}
	assert.True(t, bp.identBeacon)
}

func TestExpireBroadcastPendingDropsAfterTTL(t *testing.T) {
	task := newTestTask(t)
	task.sendText(scheduler.OutgoingMessage{IsBroadcast: true, RequestAck: true, Content: "weather update"})
	require.Len(t, task.pendingBroadcast, 1)

	task.expireBroadcastPending(time.Now().Add(broadcastAckTTL + time.Second))
	assert.Empty(t, task.pendingBroadcast)
}
