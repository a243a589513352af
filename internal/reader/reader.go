// Package reader implements the gateway's inbound path: polling the
// shared serial port, framing and decoding inbound packets, and emitting
// typed events upward, the same single-cooperative-goroutine model the
// writer uses for its own loop.
package reader

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/smartyhall/meshbbs-gateway/internal/meshpb"
	"github.com/smartyhall/meshbbs-gateway/internal/nodecache"
	"github.com/smartyhall/meshbbs-gateway/internal/radioport"
	"github.com/smartyhall/meshbbs-gateway/internal/serialcodec"
)

const (
	pollInterval  = 10 * time.Millisecond
	pruneInterval = 10 * time.Minute
	cacheMaxAge   = 24 * time.Hour
	ioBackoff     = 50 * time.Millisecond
	eventBuffer   = 4096
)

// Direct is the tri-state classification of a TextEvent's destination,
// resolving the Open Question of what to do before our own node id is
// known: rather than silently defaulting to broadcast, such packets are
// marked DirectUnknown so a caller can decide how to buffer or warn.
type Direct int

const (
	DirectUnknown Direct = iota
	DirectYes
	DirectNo
)

func (d Direct) String() string {
	switch d {
	case DirectYes:
		return "direct"
	case DirectNo:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Event is the reader's closed event vocabulary, matched exhaustively by
// consumers rather than extended through a type hierarchy.
type Event interface {
	isEvent()
}

// TextEvent reports one decoded text or compressed-text packet.
type TextEvent struct {
	Source   uint32
	Dest     uint32
	IsDirect Direct
	Channel  uint32
	Content  string
}

func (TextEvent) isEvent() {}

// NodeDetected reports a node-info update, whether learned from the
// startup cache scan or from live traffic.
type NodeDetected struct {
	ID          uint32
	LongName    string
	ShortName   string
	FromStartup bool
}

func (NodeDetected) isEvent() {}

// NodeIdLearned fires exactly once, the first time a my-info packet
// reveals this gateway's own node id.
type NodeIdLearned struct{ ID uint32 }

func (NodeIdLearned) isEvent() {}

// AckReceived fires for an explicit ACK packet or a routing-status of OK,
// destined for the writer's pending tables.
type AckReceived struct{ ID uint32 }

func (AckReceived) isEvent() {}

// RoutingError fires for a routing-app packet carrying a failure reason.
type RoutingError struct {
	ID     uint32
	Reason meshpb.RoutingError
}

func (RoutingError) isEvent() {}

// Task owns the serial port handle (shared with the writer behind its own
// mutex), the frame decoder, and the node cache.
type Task struct {
	port    *radioport.Port
	decoder *serialcodec.FrameDecoder
	cache   *nodecache.Cache
	log     *log.Logger
	events  chan Event

	wantConfigID           uint32
	haveMyInfo             bool
	haveRadioConfig        bool
	haveModuleConfig       bool
	configCompleteMatching bool

	ourNodeID     uint32
	haveOurNodeID bool
}

// New constructs a reader Task over an already-open port and a cache
// loaded from disk at startup.
func New(port *radioport.Port, cache *nodecache.Cache, logger *log.Logger) *Task {
	return &Task{
		port:    port,
		decoder: serialcodec.NewFrameDecoder(),
		cache:   cache,
		log:     logger,
		events:  make(chan Event, eventBuffer),
	}
}

// Events returns the channel every decoded event is sent on, in the
// order frames were decoded from the serial stream. The channel is
// generously buffered to approximate the spec's documented unbounded
// inbound channel; a consumer that falls permanently behind will
// eventually stall Run, so consumers must drain promptly.
func (t *Task) Events() <-chan Event {
	return t.events
}

// SetWantConfigID records the id the writer used in its single
// WantConfigId request, so a later ConfigCompleteId can be matched
// against it rather than accepted from any stray request.
func (t *Task) SetWantConfigID(id uint32) {
	t.wantConfigID = id
}

// InitialSyncComplete reports whether MyInfo, radio Config, and a
// matching ConfigCompleteId have all been observed.
func (t *Task) InitialSyncComplete() bool {
	return t.haveMyInfo && t.haveRadioConfig && t.configCompleteMatching
}

// Run polls the serial port on a ~10ms tick and prunes the node cache on
// a 10-minute tick, until stop is closed. It never exits on I/O error.
func (t *Task) Run(stop <-chan struct{}) {
	defer close(t.events)

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-stop:
			return
		case <-poll.C:
			t.pollOnce()
		case now := <-prune.C:
			if err := t.cache.Prune(now.UTC(), cacheMaxAge); err != nil {
				t.log.Warn("prune node cache", "err", err)
			}
		}
	}
}

func (t *Task) pollOnce() {
	b, err := t.port.ReadByte()
	if err != nil {
		if errors.Is(err, radioport.ErrTimeout) {
			return
		}
		t.log.Debug("serial read error", "err", err)
		time.Sleep(ioBackoff)
		return
	}

	for _, frame := range t.decoder.Feed([]byte{b}) {
		t.handleFrame(frame)
	}
	for _, frame := range t.decoder.FeedSLIP() {
		t.handleFrame(frame)
	}
}

func (t *Task) handleFrame(b []byte) {
	fr := &meshpb.FromRadio{}
	if err := fr.Unmarshal(b); err != nil {
		t.log.Debug("decode frame", "err", err, "bytes", hex.Dump(b))
		return
	}

	now := time.Now().UTC()
	switch {
	case fr.MyInfo != nil:
		t.handleMyInfo(fr.MyInfo)
	case fr.NodeInfo != nil:
		t.handleUserUpdate(fr.NodeInfo.Num, fr.NodeInfo.User, now, true)
	case fr.Config != nil:
		t.haveRadioConfig = true
	case fr.ModuleConfig != nil:
		t.haveModuleConfig = true
	case fr.HasConfigComplete:
		if fr.ConfigCompleteID == t.wantConfigID {
			t.configCompleteMatching = true
		}
	case fr.Packet != nil:
		t.handlePacket(fr.Packet, now)
	}
}

func (t *Task) handlePacket(p *meshpb.MeshPacket, now time.Time) {
	if p.Decoded == nil {
		return
	}
	d := p.Decoded

	switch d.PortNum {
	case meshpb.PortTextMessage, meshpb.PortTextMessageCompressed:
		is := DirectUnknown
		if t.haveOurNodeID {
			if p.To == t.ourNodeID {
				is = DirectYes
			} else {
				is = DirectNo
			}
		}
		t.events <- TextEvent{Source: p.From, Dest: p.To, IsDirect: is, Channel: p.Channel, Content: string(d.Payload)}

	case meshpb.PortNodeInfo:
		u := &meshpb.User{}
		if err := u.Unmarshal(d.Payload); err != nil {
			t.log.Debug("decode node info payload", "err", err)
			return
		}
		t.handleUserUpdate(p.From, u, now, false)

	case meshpb.PortRouting:
		r := &meshpb.Routing{}
		if err := r.Unmarshal(d.Payload); err != nil {
			t.log.Debug("decode routing payload", "err", err)
			return
		}
		if r.ErrorReason == meshpb.RoutingErrorNone {
			t.events <- AckReceived{ID: d.RequestID}
		} else {
			t.events <- RoutingError{ID: d.RequestID, Reason: r.ErrorReason}
		}
	}
}

func (t *Task) handleMyInfo(m *meshpb.MyInfo) {
	t.haveMyInfo = true
	if t.haveOurNodeID {
		return
	}
	t.ourNodeID = m.MyNodeNum
	t.haveOurNodeID = true
	t.events <- NodeIdLearned{ID: m.MyNodeNum}
}

func (t *Task) handleUserUpdate(id uint32, u *meshpb.User, now time.Time, fromStartup bool) {
	if u == nil || (u.LongName == "" && u.ShortName == "") {
		return
	}
	t.cache.Upsert(id, u.LongName, u.ShortName, now)
	t.events <- NodeDetected{ID: id, LongName: u.LongName, ShortName: u.ShortName, FromStartup: fromStartup}
}
