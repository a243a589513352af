// Package gateway is the facade that wires the serial port, reader,
// writer, scheduler, and onboarding subsystems into one running process
// and exposes the §6 external interfaces (Enqueue, Snapshot, SendPing,
// Shutdown) to an embedding application. The embedding BBS session/
// public-command layer is out of scope for this repository; it is
// represented here only by the Application interface a real one would
// satisfy, plus a logging demo consumer in cmd/meshbbs-gatewayd.
package gateway

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/smartyhall/meshbbs-gateway/internal/config"
	"github.com/smartyhall/meshbbs-gateway/internal/gwlog"
	"github.com/smartyhall/meshbbs-gateway/internal/nodecache"
	"github.com/smartyhall/meshbbs-gateway/internal/onboard"
	"github.com/smartyhall/meshbbs-gateway/internal/radioport"
	"github.com/smartyhall/meshbbs-gateway/internal/reader"
	"github.com/smartyhall/meshbbs-gateway/internal/scheduler"
	"github.com/smartyhall/meshbbs-gateway/internal/welcomed"
	"github.com/smartyhall/meshbbs-gateway/internal/writer"
)

// Application is the minimal contract the embedding BBS/command layer
// needs from the core: a place to receive reader events. Everything else
// (session state, command parsing, persistence) is the application's own
// concern, out of scope here per spec section 1.
type Application interface {
	HandleEvent(reader.Event)
}

// Gateway owns the shared serial port and the reader, writer, and
// scheduler cooperative tasks, starting and stopping them together.
type Gateway struct {
	cfg config.Config
	log *log.Logger

	port      *radioport.Port
	cache     *nodecache.Cache
	welcomes  *welcomed.Store
	readerT   *reader.Task
	writerT   *writer.Task
	sched     *scheduler.Scheduler
	onboarder *onboard.Onboarder

	stopReader    chan struct{}
	stopWriter    chan struct{}
	stopScheduler chan struct{}
}

// Open opens the serial port, loads persisted state, and constructs every
// task, but does not yet start them (see Run).
func Open(cfg config.Config, cachePath, welcomedPath string, app Application) (*Gateway, error) {
	port, err := radioport.Open(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		return nil, err
	}

	cache, err := nodecache.Load(cachePath)
	if err != nil {
		port.Close()
		return nil, err
	}
	welcomes, err := welcomed.Load(welcomedPath)
	if err != nil {
		port.Close()
		return nil, err
	}

	root := gwlog.New(gwlog.LevelInfo, nil)
	if cfg.Log.Level != "" {
		if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
			root.SetLevel(lvl)
		}
	}

	outgoing := make(chan scheduler.OutgoingMessage, 4*cfg.Pacing.SchedulerMaxQueue)
	sched := scheduler.New(outgoing, cfg.Pacing.SchedulerMaxQueue, cfg.Pacing.SchedulerAgingThreshold(),
		cfg.Pacing.MinSendGap(), cfg.Pacing.SchedulerStatsInterval())

	wt := writer.New(port, outgoing, cfg.Pacing.DMResendBackoff(), cfg.Pacing.MinSendGap(),
		cfg.Pacing.PostDMBroadcastGap(), cfg.Pacing.DMToDMGap(), gwlog.For(root, "writer"))
	wt.Control() <- writer.SetSchedulerHandle{Handle: sched}

	rt := reader.New(port, cache, gwlog.For(root, "reader"))

	onboardCfg := onboard.Config{
		MaxWelcomesPerNode: cfg.Onboard.MaxWelcomesPerNode,
		Cooldown:           time.Duration(cfg.Onboard.CooldownMinutes) * time.Minute,
		PingTimeout:        time.Duration(cfg.Onboard.PingTimeoutSeconds) * time.Second,
		GuideChunkBytes:    cfg.Onboard.GuideChunkBytes,
		GuideChunkSpacing:  time.Duration(cfg.Onboard.GuideChunkSpacingSeconds) * time.Second,
		GreetingDelay:      time.Duration(cfg.Onboard.GreetingDelaySeconds) * time.Second,
		StartupScanWindow:  time.Duration(cfg.Onboard.StartupScanWindowMinutes) * time.Minute,
		StartupStagger:     time.Duration(cfg.Onboard.StartupStaggerSeconds) * time.Second,
	}
	onb := onboard.New(onboardCfg, pingerAdapter{wt}, sched, welcomes, gwlog.For(root, "onboard"))

	return &Gateway{
		cfg:           cfg,
		log:           root,
		port:          port,
		cache:         cache,
		welcomes:      welcomes,
		readerT:       rt,
		writerT:       wt,
		sched:         sched,
		onboarder:     onb,
		stopReader:    make(chan struct{}),
		stopWriter:    make(chan struct{}),
		stopScheduler: make(chan struct{}),
	}, nil
}

// pingerAdapter satisfies onboard.Pinger on top of the writer's
// control-channel SendPing/response protocol, translating a synchronous
// call into the writer's async one-shot with a caller-supplied timeout,
// per spec section 4.5 step 1.
type pingerAdapter struct{ w *writer.Task }

func (p pingerAdapter) Ping(to, channel uint32, timeout time.Duration) bool {
	resp := make(chan bool, 1)
	p.w.Control() <- writer.SendPing{To: to, Channel: channel, Response: resp}
	select {
	case ok := <-resp:
		return ok
	case <-time.After(timeout):
		return false
	}
}

// Enqueue hands an envelope to the scheduler. Never blocks, never
// errors, and may silently drop under overflow per §6.
func (g *Gateway) Enqueue(env scheduler.MessageEnvelope) {
	g.sched.Enqueue(env)
}

// Snapshot returns the scheduler's current counters and queue length.
func (g *Gateway) Snapshot() scheduler.Stats {
	return g.sched.Snapshot()
}

// SendPing issues a reachability probe and blocks up to timeout for its
// resolution, for use by an embedding application (e.g. a BBS "ping"
// command) beyond the onboarding subsystem's own internal use.
func (g *Gateway) SendPing(to, channel uint32, timeout time.Duration) bool {
	return pingerAdapter{g.writerT}.Ping(to, channel, timeout)
}

// Run starts the reader, writer, and scheduler tasks and the event pump
// that dispatches reader events to app and to the writer's ACK/routing-
// error correlation, performs the startup WantConfigId handshake, and
// blocks until Shutdown is called.
func (g *Gateway) Run(app Application) {
	go g.readerT.Run(g.stopReader)
	go g.writerT.Run(g.stopWriter)
	go g.sched.Run(g.stopScheduler, func(s scheduler.Stats) {
		g.log.Info("scheduler stats", "dispatched", s.Dispatched, "dropped", s.DroppedTotal,
			"overflow", s.DroppedOverflow, "escalations", s.Escalations, "queue_len", s.QueueLen)
	})

	wantConfigID := randomNonzeroID()
	g.readerT.SetWantConfigID(wantConfigID)
	g.writerT.Control() <- writer.ConfigRequest{WantConfigID: wantConfigID}

	g.pumpEvents(app)
}

// pumpEvents is the application-facing half of the event loop: it
// reads every reader.Event, forwards AckReceived/RoutingError to the
// writer's correlation tables, latches our_node_id into the writer on
// NodeIdLearned, runs onboarding eligibility checks on NodeDetected, and
// otherwise forwards the event to app.
func (g *Gateway) pumpEvents(app Application) {
	scanned := false
	for ev := range g.readerT.Events() {
		switch e := ev.(type) {
		case reader.NodeIdLearned:
			g.writerT.Control() <- writer.SetNodeID{ID: e.ID}
			if !scanned {
				scanned = true
				g.runStartupScan()
			}
		case reader.AckReceived:
			g.writerT.NotifyAck(e.ID)
		case reader.RoutingError:
			g.writerT.NotifyRoutingError(e.ID, e.Reason)
		case reader.NodeDetected:
			if !e.FromStartup {
				// Consider blocks on a ping round-trip, whose ACK is
				// itself delivered through this very event loop
				// (AckReceived -> writerT.NotifyAck); running it inline
				// here would deadlock the pump against its own ACK.
				id, name := e.ID, e.LongName
				go g.onboarder.Consider(id, name, time.Now())
			}
			app.HandleEvent(ev)
			continue
		}
		app.HandleEvent(ev)
	}
}

// runStartupScan plans the onboarding startup scan from the node cache
// and fires each candidate after its stagger delay via its own
// time.AfterFunc timer, so nothing here sleeps; each candidate's Consider
// then runs on the timer's own goroutine.
func (g *Gateway) runStartupScan() {
	now := time.Now()
	var entries []onboard.CacheEntry
	for id, n := range g.cache.RecentlySeen(now, time.Duration(g.cfg.Onboard.StartupScanWindowMinutes)*time.Minute) {
		entries = append(entries, onboard.CacheEntry{ID: id, LongName: n.LongName, LastSeen: n.LastSeen})
	}

	for _, c := range g.onboarder.PlanStartupScan(entries, now) {
		c := c
		time.AfterFunc(c.Delay, func() {
			g.onboarder.Consider(c.Entry.ID, c.Entry.LongName, time.Now())
		})
	}
}

// Shutdown stops the reader, writer, and scheduler tasks and closes the
// serial port. Safe to call once.
func (g *Gateway) Shutdown() {
	g.writerT.Control() <- writer.Shutdown{}
	close(g.stopReader)
	close(g.stopScheduler)
	g.port.Close()
}

func randomNonzeroID() uint32 {
	id := uint32(time.Now().UnixNano())
	if id == 0 {
		id = 1
	}
	return id
}
