// Command meshbbs-radiotool is a small bench utility for exercising a
// Meshtastic radio directly: dump decoded frames as they arrive, or send
// a single reachability ping and report whether it was ACKed. It exists
// for field debugging a serial link without standing up the full
// gatewayd process, the same role the teacher's cmd/tnctest plays for a
// raw KISS TNC connection.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/smartyhall/meshbbs-gateway/internal/gwlog"
	"github.com/smartyhall/meshbbs-gateway/internal/meshpb"
	"github.com/smartyhall/meshbbs-gateway/internal/radioport"
	"github.com/smartyhall/meshbbs-gateway/internal/serialcodec"
)

func main() {
	var (
		device   = pflag.StringP("device", "p", "/dev/ttyUSB0", "Serial device the radio is attached to")
		baud     = pflag.IntP("baud", "b", 115200, "Serial baud rate")
		pingTo   = pflag.Uint32("ping", 0, "Send a single reachability ping to this node id and exit (0 disables)")
		channel  = pflag.Uint32P("channel", "c", 0, "Channel index for the ping")
		timeout  = pflag.Duration("timeout", 30*time.Second, "How long to wait for the ping's ACK")
		tsFormat = pflag.StringP("timestamp-format", "T", "%H:%M:%S", "strftime format for dumped-frame timestamps")
		useSLIP  = pflag.Bool("slip", false, "Frame the outbound ping with SLIP instead of the length-prefixed header, for firmware variants that speak SLIP")
		help     = pflag.BoolP("help", "h", false, "Display help text")
	)
	pflag.Parse()

	if *help {
		fmt.Fprintln(os.Stderr, "meshbbs-radiotool: dump frames from or ping a Meshtastic radio over serial")
		pflag.PrintDefaults()
		return
	}

	logger := gwlog.New(gwlog.LevelInfo, nil)

	ts, err := strftime.New(*tsFormat)
	if err != nil {
		logger.Fatal("parse timestamp format", "err", err)
	}

	port, err := radioport.Open(*device, *baud)
	if err != nil {
		logger.Fatal("open serial port", "err", err)
	}
	defer port.Close()

	if *pingTo != 0 {
		os.Exit(runPing(port, logger, *pingTo, *channel, *timeout, *useSLIP))
	}
	dumpFrames(port, logger, ts)
}

func dumpFrames(port *radioport.Port, logger interface {
	Info(msg interface{}, kv ...interface{})
	Warn(msg interface{}, kv ...interface{})
	Debug(msg interface{}, kv ...interface{})
}, ts *strftime.Strftime) {
	const silentPortWarnAfter = 5 * time.Second

	decoder := serialcodec.NewFrameDecoder()
	opened := time.Now()
	warned := false
	for {
		b, err := port.ReadByte()
		if err != nil {
			if errors.Is(err, radioport.ErrTimeout) {
				if !warned && !decoder.BinaryFramesSeen && time.Since(opened) > silentPortWarnAfter {
					warned = true
					logger.Warn("no binary frames decoded yet; check device/baud or that the radio is talking protobuf", "since", opened)
				}
				continue
			}
			logger.Debug("read error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		frames := decoder.Feed([]byte{b})
		frames = append(frames, decoder.FeedSLIP()...)
		for _, frame := range frames {
			logger.Info("frame", "at", ts.FormatString(time.Now()), "bytes", len(frame), "hex", hex.EncodeToString(frame))

			fr := &meshpb.FromRadio{}
			if err := fr.Unmarshal(frame); err != nil {
				logger.Debug("decode frame", "err", err)
				continue
			}
			describeFromRadio(logger, fr)
		}
	}
}

func describeFromRadio(logger interface {
	Info(msg interface{}, kv ...interface{})
}, fr *meshpb.FromRadio) {
	switch {
	case fr.MyInfo != nil:
		logger.Info("my_info", "node", fr.MyInfo.MyNodeNum)
	case fr.NodeInfo != nil && fr.NodeInfo.User != nil:
		logger.Info("node_info", "id", fr.NodeInfo.Num, "long_name", fr.NodeInfo.User.LongName, "short_name", fr.NodeInfo.User.ShortName)
	case fr.Packet != nil && fr.Packet.Decoded != nil:
		logger.Info("packet", "from", fr.Packet.From, "to", fr.Packet.To, "port", fr.Packet.Decoded.PortNum)
	case fr.HasConfigComplete:
		logger.Info("config_complete", "id", fr.ConfigCompleteID)
	}
}

func runPing(port *radioport.Port, logger interface {
	Info(msg interface{}, kv ...interface{})
	Error(msg interface{}, kv ...interface{})
}, to, channel uint32, timeout time.Duration, useSLIP bool) int {
	pkt := &meshpb.MeshPacket{
		From:     0,
		To:       to,
		Channel:  channel,
		Decoded:  &meshpb.Data{PortNum: meshpb.PortTextMessage, Payload: []byte(".")},
		ID:       pingID(),
		HopLimit: 3,
		WantAck:  true,
		Priority: 70,
	}
	payload := (&meshpb.ToRadio{Packet: pkt}).Marshal()

	var frame []byte
	if useSLIP {
		frame = serialcodec.EncodeSLIP(payload)
	} else {
		var err error
		frame, err = serialcodec.EncodeFrame(payload)
		if err != nil {
			logger.Error("encode ping", "err", err)
			return 1
		}
	}
	if err := port.WriteFrame(frame); err != nil {
		logger.Error("write ping", "err", err)
		return 1
	}

	logger.Info("ping sent, waiting for ack", "to", to, "timeout", timeout)

	decoder := serialcodec.NewFrameDecoder()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b, err := port.ReadByte()
		if err != nil {
			continue
		}
		for _, frame := range append(decoder.Feed([]byte{b}), decoder.FeedSLIP()...) {
			fr := &meshpb.FromRadio{}
			if fr.Unmarshal(frame) != nil || fr.Packet == nil || fr.Packet.Decoded == nil {
				continue
			}
			if fr.Packet.Decoded.PortNum != meshpb.PortRouting || fr.Packet.Decoded.RequestID != pkt.ID {
				continue
			}
			r := &meshpb.Routing{}
			if r.Unmarshal(fr.Packet.Decoded.Payload) != nil {
				continue
			}
			if r.ErrorReason == meshpb.RoutingErrorNone {
				logger.Info("ping acked", "to", to)
				return 0
			}
			logger.Error("ping failed", "to", to, "reason", r.ErrorReason)
			return 1
		}
	}
	logger.Error("ping timed out", "to", to)
	return 1
}

func pingID() uint32 {
	now := time.Now()
	id := uint32(now.Unix()) ^ uint32(now.UnixNano())
	if id == 0 {
		id = 1
	}
	return id
}
