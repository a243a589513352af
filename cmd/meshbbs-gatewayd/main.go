// Command meshbbs-gatewayd runs the radio I/O and message-dispatch core
// standalone, with a demo Application that logs every reader event
// instead of driving a real BBS session layer (out of scope for this
// repository; see spec.md section 1 and internal/gateway).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/smartyhall/meshbbs-gateway/internal/config"
	"github.com/smartyhall/meshbbs-gateway/internal/gateway"
	"github.com/smartyhall/meshbbs-gateway/internal/gwlog"
	"github.com/smartyhall/meshbbs-gateway/internal/reader"
)

func main() {
	var (
		configFile   = pflag.StringP("config-file", "c", "", "YAML configuration file; flags below override its values")
		device       = pflag.StringP("device", "p", "", "Serial device the radio is attached to (overrides config file)")
		baud         = pflag.IntP("baud", "b", 0, "Serial baud rate (overrides config file)")
		cachePath    = pflag.String("node-cache", "nodecache.json", "Path to the persisted node cache")
		welcomedPath = pflag.String("welcomed", "welcomed.json", "Path to the persisted welcomed-nodes store")
		help         = pflag.BoolP("help", "h", false, "Display help text")
	)
	pflag.Parse()

	if *help {
		fmt.Fprintln(os.Stderr, "meshbbs-gatewayd: radio I/O and message-dispatch gateway for a Meshtastic BBS")
		pflag.PrintDefaults()
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "meshbbs-gatewayd:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	cfg.Validate()

	logger := gwlog.New(gwlog.LevelInfo, nil)

	gw, err := gateway.Open(cfg, *cachePath, *welcomedPath, loggingApplication{logger})
	if err != nil {
		logger.Fatal("open gateway", "err", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutdown signal received")
		gw.Shutdown()
	}()

	gw.Run(loggingApplication{logger})
}

// loggingApplication is the demo Application consumer referenced in
// SPEC_FULL.md's system overview: it logs every reader event rather than
// driving a real interactive BBS session, which is out of scope here.
type loggingApplication struct {
	log interface {
		Info(msg interface{}, kv ...interface{})
		Warn(msg interface{}, kv ...interface{})
	}
}

func (a loggingApplication) HandleEvent(ev reader.Event) {
	switch e := ev.(type) {
	case reader.TextEvent:
		if e.IsDirect == reader.DirectUnknown {
			a.log.Warn("dropping text event: direct/broadcast still indeterminate", "source", e.Source, "dest", e.Dest)
			return
		}
		a.log.Info("text", "source", e.Source, "dest", e.Dest, "direct", e.IsDirect, "channel", e.Channel, "content", e.Content)
	case reader.NodeDetected:
		a.log.Info("node detected", "id", e.ID, "long_name", e.LongName, "short_name", e.ShortName, "from_startup", e.FromStartup)
	case reader.NodeIdLearned:
		a.log.Info("our node id learned", "id", e.ID)
	default:
		a.log.Warn("unhandled reader event", "type", fmt.Sprintf("%T", ev))
	}
}
