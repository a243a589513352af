// Package writer implements the gateway's outbound path: it serializes
// packets onto the shared serial port, enforces the pacing gates, tracks
// reliable deliveries, retries on a fixed backoff schedule, and resolves
// reachability pings — all from a single cooperative goroutine, the same
// model the teacher uses for its own protocol state machines (e.g.
// digipeater.go's single-threaded packet loop).
package writer

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/smartyhall/meshbbs-gateway/internal/gatewayerr"
	"github.com/smartyhall/meshbbs-gateway/internal/meshpb"
	"github.com/smartyhall/meshbbs-gateway/internal/radioport"
	"github.com/smartyhall/meshbbs-gateway/internal/scheduler"
	"github.com/smartyhall/meshbbs-gateway/internal/serialcodec"
)

const (
	maxAttempts        = 3
	hopLimit           = 3
	pingPayload        = "."
	previewLen         = 40
	broadcastAckTTL    = 10 * time.Second
	broadcastSweepTick = time.Second
)

// RetryEnqueuer lets the writer schedule its own Retry envelopes without
// depending on the scheduler package directly; the gateway facade hands
// the writer its *scheduler.Scheduler, which satisfies this interface
// through its EnqueueRetry method. Retry state itself (pending
// table, attempt counter, backoff index) lives entirely in the writer,
// per the design note that the scheduler merely provides timing.
type RetryEnqueuer interface {
	EnqueueRetry(id uint32, delay time.Duration)
}

// Control is the writer's closed command vocabulary. New control
// operations are added as new variants, matched exhaustively in
// handleControl, never by type assertion chains elsewhere.
type Control interface {
	isControl()
}

// Shutdown asks the writer to release the port and return from Run.
type Shutdown struct{}

func (Shutdown) isControl() {}

// SetNodeID latches the gateway's own node id, learned once from the
// reader's NodeIdLearned event. Later calls are ignored.
type SetNodeID struct{ ID uint32 }

func (SetNodeID) isControl() {}

// ConfigRequest sends the single WantConfigId request the writer issues
// at startup to solicit the radio's full node database.
type ConfigRequest struct{ WantConfigID uint32 }

func (ConfigRequest) isControl() {}

// Heartbeat sends an immediate heartbeat frame, independent of the 30s
// ticker in Run.
type Heartbeat struct{}

func (Heartbeat) isControl() {}

// SetSchedulerHandle wires the scheduler the writer enqueues Retry
// envelopes onto. Optional: a writer with no handle still sends and
// tracks pending state, it just can't self-schedule retries.
type SetSchedulerHandle struct{ Handle RetryEnqueuer }

func (SetSchedulerHandle) isControl() {}

// SendPing requests a reachability probe to To on Channel. Response
// should be a buffered (capacity ≥ 1) channel; the writer resolves it
// exactly once, with true on ACK and false on permanent failure. A
// caller-supplied external timeout is the caller's responsibility.
type SendPing struct {
	To       uint32
	Channel  uint32
	Response chan<- bool
}

func (SendPing) isControl() {}

// ackReceived and routingErrorMsg correlate reader-observed ACKs and
// routing errors back to this writer's pending tables. The gateway
// facade translates reader.AckReceived / reader.RoutingError events into
// these via NotifyAck / NotifyRoutingError.
type ackReceived struct{ ID uint32 }

func (ackReceived) isControl() {}

type routingErrorMsg struct {
	ID     uint32
	Reason meshpb.RoutingError
}

func (routingErrorMsg) isControl() {}

type pendingSend struct {
	dest       uint32
	channel    uint32
	content    string
	preview    string
	attempts   int
	backoffIdx int
	nextDue    time.Time
	sentAt     time.Time
}

type broadcastPending struct {
	channel     uint32
	preview     string
	expiresAt   time.Time
	identBeacon bool
}

// isIdentBeaconPreview reports whether a broadcast's preview looks like a
// periodic station-identification beacon (glossary: "Ident beacon") as
// opposed to an ordinary ack-requesting broadcast, so an unacknowledged
// expiry can be logged at a more visible level: a station failing to
// identify itself is operationally more notable than a dropped reply.
// The embedding application (out of scope here per spec section 1) is
// expected to lead ident content with this marker.
func isIdentBeaconPreview(preview string) bool {
	return strings.HasPrefix(strings.ToLower(preview), "ident")
}

type pendingPing struct {
	target uint32
	resp   chan<- bool
}

// Stats mirrors the scheduler's counter style: plain monotone counts,
// logged on the 30s heartbeat tick rather than exported as Prometheus
// metrics (no metrics client is in scope for this repository).
type Stats struct {
	Sent               uint64
	Acked              uint64
	Failed             uint64
	Transient          uint64
	BroadcastConfirmed uint64
	PingsResolved      uint64
}

// Task is the writer's cooperative single-goroutine state machine.
type Task struct {
	port     *radioport.Port
	log      *log.Logger
	outgoing <-chan scheduler.OutgoingMessage
	control  chan Control

	backoff            []time.Duration
	minSendGap         time.Duration
	postDMBroadcastGap time.Duration
	dmToDMGap          time.Duration

	newPacketID   func() uint32
	writePacketFn func(dest, channel uint32, content string, id uint32, wantAck bool, priority uint32) bool

	ourNodeID  uint32
	haveNodeID bool

	pending          map[uint32]*pendingSend
	pendingBroadcast map[uint32]*broadcastPending
	pendingPing      map[uint32]*pendingPing

	lastSend         time.Time
	lastSendWasDM    bool
	lastReliableDMAt time.Time

	retryEnqueuer RetryEnqueuer

	stats Stats
}

// New constructs a writer Task. backoff is the retry schedule in order
// (index 0 used for the first retry); non-positive or empty slices are
// the caller's responsibility to repair (internal/config.Validate does
// this before the writer ever sees it).
func New(port *radioport.Port, outgoing <-chan scheduler.OutgoingMessage, backoff []time.Duration, minSendGap, postDMBroadcastGap, dmToDMGap time.Duration, logger *log.Logger) *Task {
	t := &Task{
		port:               port,
		log:                logger,
		outgoing:           outgoing,
		control:            make(chan Control, 16),
		backoff:            backoff,
		minSendGap:         minSendGap,
		postDMBroadcastGap: postDMBroadcastGap,
		dmToDMGap:          dmToDMGap,
		newPacketID:        defaultPacketID,
		pending:            make(map[uint32]*pendingSend),
		pendingBroadcast:   make(map[uint32]*broadcastPending),
		pendingPing:        make(map[uint32]*pendingPing),
	}
	t.writePacketFn = t.writePacketOverSerial
	return t
}

// Control returns the channel callers send Control values on.
func (t *Task) Control() chan<- Control {
	return t.control
}

// NotifyAck correlates a reader-observed ACK to this writer's pending
// state. Safe to call from the reader's goroutine.
func (t *Task) NotifyAck(id uint32) {
	t.control <- ackReceived{ID: id}
}

// NotifyRoutingError correlates a reader-observed routing error.
func (t *Task) NotifyRoutingError(id uint32, reason meshpb.RoutingError) {
	t.control <- routingErrorMsg{ID: id, Reason: reason}
}

// Snapshot returns a copy of the writer's counters.
func (t *Task) Snapshot() Stats {
	return t.stats
}

// Run drives the writer's select loop until stop closes or a Shutdown
// control message arrives. The serial port is never touched except
// inside a WriteFrame call, each one a single lock/write/unlock.
func (t *Task) Run(stop <-chan struct{}) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	broadcastSweep := time.NewTicker(broadcastSweepTick)
	defer broadcastSweep.Stop()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-t.outgoing:
			if !ok {
				t.log.Warn("outgoing queue closed", "err", gatewayerr.ErrSchedulerClosed)
				return
			}
			t.handleOutgoing(msg)
		case ctrl := <-t.control:
			if !t.handleControl(ctrl) {
				return
			}
		case <-heartbeat.C:
			t.sendHeartbeat()
			t.log.Info("writer stats", "sent", t.stats.Sent, "acked", t.stats.Acked, "failed", t.stats.Failed,
				"transient", t.stats.Transient, "broadcast_confirmed", t.stats.BroadcastConfirmed, "pings_resolved", t.stats.PingsResolved)
		case <-broadcastSweep.C:
			t.expireBroadcastPending(time.Now())
		}
	}
}

// expireBroadcastPending drops ack-requesting broadcasts whose TTL has
// elapsed without a confirming AckReceived/RoutingError. Expiry is not a
// retry per §4.3; an expired ident beacon logs at Warn rather than Debug
// since a station that never identifies is operationally notable.
func (t *Task) expireBroadcastPending(now time.Time) {
	for id, bp := range t.pendingBroadcast {
		if now.Before(bp.expiresAt) {
			continue
		}
		delete(t.pendingBroadcast, id)
		if bp.identBeacon {
			t.log.Warn("ident beacon expired unacked", "id", id, "channel", bp.channel, "preview", bp.preview)
		} else {
			t.log.Debug("broadcast-with-ack expired", "id", id, "channel", bp.channel, "preview", bp.preview)
		}
	}
}

func (t *Task) handleControl(c Control) bool {
	switch m := c.(type) {
	case Shutdown:
		return false
	case SetNodeID:
		if !t.haveNodeID {
			t.ourNodeID = m.ID
			t.haveNodeID = true
		}
	case ConfigRequest:
		t.sendWantConfig(m.WantConfigID)
	case Heartbeat:
		t.sendHeartbeat()
	case SetSchedulerHandle:
		t.retryEnqueuer = m.Handle
	case SendPing:
		t.sendPing(m)
	case ackReceived:
		t.handleAck(m.ID)
	case routingErrorMsg:
		t.handleRoutingError(m.ID, m.Reason)
	}
	return true
}

func (t *Task) handleOutgoing(msg scheduler.OutgoingMessage) {
	if msg.RetryID != 0 {
		t.handleRetry(msg.RetryID)
		return
	}
	t.sendText(msg)
}

// pacingDelay returns how long the caller must wait before this send may
// proceed, given the previous send's timing. All three gates apply
// additively; the largest required wait wins.
func (t *Task) pacingDelay(now time.Time, isDM bool) time.Duration {
	var wait time.Duration
	if !t.lastSend.IsZero() {
		if d := t.minSendGap - now.Sub(t.lastSend); d > wait {
			wait = d
		}
	}
	if t.lastSendWasDM {
		if isDM {
			if d := t.dmToDMGap - now.Sub(t.lastReliableDMAt); d > wait {
				wait = d
			}
		} else if d := t.postDMBroadcastGap - now.Sub(t.lastReliableDMAt); d > wait {
			wait = d
		}
	}
	return wait
}

func (t *Task) sendText(msg scheduler.OutgoingMessage) {
	if !t.haveNodeID {
		t.log.Warn("dropping send", "err", gatewayerr.ErrNodeIDUnknown, "dest", msg.Dest)
		return
	}

	isDM := !msg.IsBroadcast
	now := time.Now()
	if wait := t.pacingDelay(now, isDM); wait > 0 {
		time.Sleep(wait)
		now = time.Now()
	}

	var id uint32
	wantAck := msg.RequestAck
	var priority uint32
	if isDM {
		id = t.newPacketID()
		wantAck = true
		priority = 70
	} else if msg.RequestAck {
		id = t.newPacketID()
	}

	if !t.writePacketFn(msg.Dest, msg.Channel, msg.Content, id, wantAck, priority) {
		return
	}

	t.lastSend = now
	t.lastSendWasDM = isDM

	switch {
	case isDM:
		t.lastReliableDMAt = now
		t.pending[id] = &pendingSend{
			dest:       msg.Dest,
			channel:    msg.Channel,
			content:    msg.Content,
			preview:    preview(msg.Content),
			attempts:   1,
			backoffIdx: 0,
			nextDue:    now.Add(t.backoffAt(0)),
			sentAt:     now,
		}
		if t.retryEnqueuer != nil {
			t.retryEnqueuer.EnqueueRetry(id, t.backoffAt(0))
		}
		t.sendHeartbeat()
	case msg.RequestAck:
		p := preview(msg.Content)
		t.pendingBroadcast[id] = &broadcastPending{
			channel:     msg.Channel,
			preview:     p,
			expiresAt:   now.Add(broadcastAckTTL),
			identBeacon: isIdentBeaconPreview(p),
		}
	}
	t.stats.Sent++
}

func (t *Task) handleRetry(id uint32) {
	p, ok := t.pending[id]
	if !ok {
		return // stale: already ACKed or failed
	}

	now := time.Now()
	if now.Before(p.nextDue) {
		if t.retryEnqueuer != nil {
			t.retryEnqueuer.EnqueueRetry(id, p.nextDue.Sub(now))
		}
		return
	}
	if p.attempts >= maxAttempts {
		delete(t.pending, id)
		t.stats.Failed++
		return
	}

	if !t.writePacketFn(p.dest, p.channel, p.content, id, true, 70) {
		return
	}

	p.attempts++
	p.backoffIdx = min(p.backoffIdx+1, len(t.backoff)-1)
	p.nextDue = time.Now().Add(t.backoffAt(p.backoffIdx))
	if p.attempts < maxAttempts && t.retryEnqueuer != nil {
		t.retryEnqueuer.EnqueueRetry(id, t.backoffAt(p.backoffIdx))
	}
}

func (t *Task) handleAck(id uint32) {
	if _, ok := t.pending[id]; ok {
		delete(t.pending, id)
		t.stats.Acked++
		return
	}
	if _, ok := t.pendingBroadcast[id]; ok {
		delete(t.pendingBroadcast, id)
		t.stats.BroadcastConfirmed++
		return
	}
	if pp, ok := t.pendingPing[id]; ok {
		delete(t.pendingPing, id)
		resolveBool(pp.resp, true)
		t.stats.PingsResolved++
	}
}

func (t *Task) handleRoutingError(id uint32, reason meshpb.RoutingError) {
	if p, ok := t.pending[id]; ok {
		if reason.Transient() {
			p.nextDue = time.Now().Add(t.backoffAt(p.backoffIdx))
			t.stats.Transient++
			if t.retryEnqueuer != nil {
				t.retryEnqueuer.EnqueueRetry(id, t.backoffAt(p.backoffIdx))
			}
			return
		}
		delete(t.pending, id)
		t.stats.Failed++
		return
	}
	if _, ok := t.pendingBroadcast[id]; ok {
		delete(t.pendingBroadcast, id)
		return
	}
	if pp, ok := t.pendingPing[id]; ok {
		delete(t.pendingPing, id)
		resolveBool(pp.resp, false)
		t.stats.PingsResolved++
	}
}

func (t *Task) sendPing(m SendPing) {
	if !t.haveNodeID {
		resolveBool(m.Response, false)
		return
	}
	id := t.newPacketID()
	if !t.writePacketFn(m.To, m.Channel, pingPayload, id, true, 70) {
		resolveBool(m.Response, false)
		return
	}
	t.pendingPing[id] = &pendingPing{target: m.To, resp: m.Response}
}

func (t *Task) sendWantConfig(wantConfigID uint32) {
	toRadio := &meshpb.ToRadio{WantConfigID: wantConfigID}
	frame, err := serialcodec.EncodeFrame(toRadio.Marshal())
	if err != nil {
		t.log.Error("encode want_config_id", "err", err)
		return
	}
	if err := t.port.WriteFrame(frame); err != nil {
		t.log.Error("write want_config_id", "err", err)
	}
}

func (t *Task) sendHeartbeat() {
	// A Task built without a port (as the unit tests build it) has nowhere
	// to send the heartbeat.
	if t.port == nil {
		return
	}
	toRadio := &meshpb.ToRadio{Heartbeat: true}
	frame, err := serialcodec.EncodeFrame(toRadio.Marshal())
	if err != nil {
		t.log.Error("encode heartbeat", "err", err)
		return
	}
	if err := t.port.WriteFrame(frame); err != nil {
		t.log.Error("write heartbeat", "err", err)
	}
}

func (t *Task) writePacketOverSerial(dest, channel uint32, content string, id uint32, wantAck bool, priority uint32) bool {
	pkt := &meshpb.MeshPacket{
		From:     t.ourNodeID,
		To:       dest,
		Channel:  channel,
		Decoded:  &meshpb.Data{PortNum: meshpb.PortTextMessage, Payload: []byte(content)},
		ID:       id,
		HopLimit: hopLimit,
		WantAck:  wantAck,
		Priority: priority,
	}
	toRadio := &meshpb.ToRadio{Packet: pkt}
	frame, err := serialcodec.EncodeFrame(toRadio.Marshal())
	if err != nil {
		if errors.Is(err, gatewayerr.ErrPayloadTooLarge) {
			t.log.Error("dropping oversized text packet", "dest", dest, "err", err)
		} else {
			t.log.Error("encode text packet", "dest", dest, "err", err)
		}
		return false
	}
	if err := t.port.WriteFrame(frame); err != nil {
		t.log.Error("write text packet", "dest", dest, "err", err)
		return false
	}
	return true
}

func (t *Task) backoffAt(idx int) time.Duration {
	if len(t.backoff) == 0 {
		return 4 * time.Second
	}
	if idx < 0 || idx >= len(t.backoff) {
		idx = len(t.backoff) - 1
	}
	return t.backoff[idx]
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "…"
}

func resolveBool(ch chan<- bool, v bool) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

func defaultPacketID() uint32 {
	now := time.Now()
	id := uint32(now.Unix()) ^ uint32(now.UnixNano())
	if id == 0 {
		id = 1
	}
	return id
}
