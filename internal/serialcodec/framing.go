// Package serialcodec implements the framed serial encoding used between
// the gateway and the Meshtastic radio: a 4-byte length-prefixed header for
// outbound frames, and a dual length-prefixed/SLIP decoder for inbound
// bytes. It is the Go-native analogue of the teacher's KISS frame decoder
// (src/kiss_frame.go): a rolling buffer fed one read() at a time, realigned
// on garbage rather than aborted.
package serialcodec

import (
	"fmt"

	"github.com/smartyhall/meshbbs-gateway/internal/gatewayerr"
)

const (
	header1 = 0x94
	header2 = 0xC3

	maxFrameLen = 8192
	maxPayload  = 65535
)

// EncodeFrame wraps payload in the outbound header: 0x94, 0xC3, len_hi,
// len_lo, followed by the payload bytes.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("serialcodec: %w (%d > %d)", gatewayerr.ErrPayloadTooLarge, len(payload), maxPayload)
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, header1, header2, byte(len(payload)>>8), byte(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// FrameDecoder accumulates bytes from the serial port and extracts
// complete frames using two parallel strategies: a length-prefixed header
// and a SLIP-delimited stream. Both are fed the same bytes: the
// length-prefixed strategy through a rolling buffer, SLIP through its own
// decoder state. Feed returns length-prefixed frames and FeedSLIP returns
// SLIP frames, both as plain payload bytes.
type FrameDecoder struct {
	buf  []byte
	slip slipDecoder

	// BinaryFramesSeen latches true the first time either framing strategy
	// yields a complete frame. Diagnostic commands elsewhere use this to
	// tell a freshly-opened, still-silent port from one that is plainly
	// talking text instead of protobuf.
	BinaryFramesSeen bool
}

// NewFrameDecoder returns a decoder with an empty rolling buffer.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends newly-read bytes to the rolling buffer and the SLIP decoder
// and returns every complete frame extracted by the length-prefixed
// strategy, in the order found. Callers should separately drain
// FeedSLIP for SLIP frames decoded from the same bytes.
func (d *FrameDecoder) Feed(p []byte) [][]byte {
	d.buf = append(d.buf, p...)
	d.slip.feed(p)

	var frames [][]byte
	for {
		frame, ok := d.extractOne()
		if !ok {
			break
		}
		frames = append(frames, frame)
		d.BinaryFramesSeen = true
	}
	return frames
}

// FeedSLIP drains any complete SLIP-framed payloads decoded so far.
// Empty frames (two delimiters back to back) are silently skipped.
func (d *FrameDecoder) FeedSLIP() [][]byte {
	frames := d.slip.drain()
	if len(frames) > 0 {
		d.BinaryFramesSeen = true
	}
	return frames
}

// extractOne pulls a single length-prefixed frame out of the rolling
// buffer, realigning on garbage per spec: if the leading bytes aren't the
// 0x94 0xC3 header, scan forward for the next 0x94 and discard everything
// before it; if none is found, the buffer is junk and gets cleared.
// Lengths of 0 or > maxFrameLen are rejected by shifting one byte and
// retrying, never by reading past the buffer.
func (d *FrameDecoder) extractOne() ([]byte, bool) {
	for {
		if len(d.buf) < 4 {
			return nil, false
		}

		if d.buf[0] != header1 || d.buf[1] != header2 {
			idx := indexByte(d.buf[1:], header1)
			if idx < 0 {
				d.buf = d.buf[:0]
				return nil, false
			}
			d.buf = d.buf[idx+1:]
			continue
		}

		length := int(d.buf[2])<<8 | int(d.buf[3])
		if length == 0 || length > maxFrameLen {
			d.buf = d.buf[1:]
			continue
		}

		if len(d.buf) < 4+length {
			return nil, false
		}

		frame := append([]byte(nil), d.buf[4:4+length]...)
		d.buf = d.buf[4+length:]
		return frame, true
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
