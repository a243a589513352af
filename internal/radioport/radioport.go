// Package radioport wraps the physical serial link to the radio, hiding
// operating-system differences the way the teacher's serial_port.go does,
// generalized from a single fixed TNC device to any Meshtastic-speaking
// serial radio and from a bare speed-set to the open sequence this
// protocol actually requires (DTR/RTS assertion, settle delay, buffer
// drain, a read timeout enforced at the termios level).
package radioport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

const (
	openSettleDelay = 150 * time.Millisecond
	readTimeout     = 500 * time.Millisecond
)

// errTimeout is returned by ReadByte when the OS-level read timeout
// elapses with no byte available. It is not a link failure.
var errTimeout = errors.New("radioport: read timeout")

// ErrTimeout is the sentinel a caller should compare against with
// errors.Is to distinguish "no data yet" from a genuine I/O failure.
var ErrTimeout = errTimeout

// Port is a duplex serial connection shared by the reader and writer
// tasks. All access goes through the mutex: WriteFrame and ReadByte each
// hold it only across their own single read or write call, never across
// a channel receive or sleep.
type Port struct {
	mu sync.Mutex
	t  *term.Term
}

// Open opens device at baud, asserts DTR/RTS, sleeps for the link to
// settle, drains any bytes already buffered by the OS, and arms a
// 500ms read timeout at the termios level (VMIN=0, VTIME=5).
func Open(device string, baud int) (*Port, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("radioport: open %s: %w", device, err)
	}

	if baud != 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, fmt.Errorf("radioport: set speed %d: %w", baud, err)
		}
	}

	fd := int(t.Fd())
	if err := armReadTimeout(fd, readTimeout); err != nil {
		t.Close()
		return nil, fmt.Errorf("radioport: arm read timeout: %w", err)
	}
	if err := assertDTRRTS(fd); err != nil {
		t.Close()
		return nil, fmt.Errorf("radioport: assert DTR/RTS: %w", err)
	}

	time.Sleep(openSettleDelay)
	drain(fd)

	return &Port{t: t}, nil
}

// WriteFrame writes b with a single write call in one critical section;
// there is no separate flush step. No other blocking call may occur while
// the lock is held.
func (p *Port) WriteFrame(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.t.Write(b)
	if err != nil {
		return fmt.Errorf("radioport: write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("radioport: short write: %d of %d bytes", n, len(b))
	}
	return nil
}

// ReadByte reads a single byte, blocking at most the configured read
// timeout. A timeout is reported as (0, errTimeout); callers treat it
// identically to "no data available" per the codec's failure semantics,
// not as a hard error.
func (p *Port) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf [1]byte
	n, err := p.t.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("radioport: read: %w", err)
	}
	if n == 0 {
		return 0, errTimeout
	}
	return buf[0], nil
}

// Close releases the underlying device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t.Close()
}

func drain(fd int) {
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}

func armReadTimeout(fd int, d time.Duration) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = uint8(d / (100 * time.Millisecond))
	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}

// assertDTRRTS asserts the DTR and RTS modem-control lines, which many
// USB-serial Meshtastic radios use to detect an attached host. pkg/term
// exposes no DTR/RTS call directly, so this goes through the same
// TIOCMBIS ioctl the kernel's own stty DTR/RTS handling uses.
func assertDTRRTS(fd int) error {
	bits := unix.TIOCM_DTR | unix.TIOCM_RTS
	return unix.IoctlSetInt(fd, unix.TIOCMBIS, bits)
}
