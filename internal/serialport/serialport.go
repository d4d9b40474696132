// Package serialport owns one physical serial port: 8N1 framing,
// mandatory hardware RTS/CTS flow control (the radios stall without it),
// and a short read timeout so a receive loop built on top of it can
// interleave shutdown checks.
package serialport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
)

// DefaultReadTimeout is the per-read deadline; it is kept at no more than
// 100ms so a receiver loop can poll for cancellation and arbiter pause
// requests without noticeable latency.
const DefaultReadTimeout = 100 * time.Millisecond

// Port is a serial link with hardware flow control enabled. It is owned
// exclusively by one network receiver task; the control-plane arbiter
// borrows it (via the Quiesce handshake in internal/receiver) rather than
// opening a second handle.
type Port struct {
	cfg  Config
	conn *serial.Port
	fd   int // raw fd opened on the same device, used only for termios ioctls
}

// Config describes how to open one link's serial port.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the device with 8N1 framing and enables CRTSCTS hardware
// flow control, which tarm/serial has no knob for and so is applied
// directly via termios after open.
func Open(cfg Config) (*Port, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	conn, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: opening %s: %w", cfg.Device, err)
	}

	p := &Port{cfg: cfg, conn: conn}

	fd, err := openRawFD(cfg.Device)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("serialport: opening raw fd for %s: %w", cfg.Device, err)
	}
	p.fd = fd

	if err := enableFlowControl(p.fd); err != nil {
		conn.Close()
		closeRawFD(p.fd)
		return nil, fmt.Errorf("serialport: enabling flow control on %s: %w", cfg.Device, err)
	}

	return p, nil
}

// Read fills buf from the port, returning (0, nil) on a read timeout so
// callers can distinguish "no data yet" from a hard transport error.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := p.conn.Read(buf)
	if err != nil && isTimeout(err) {
		return 0, nil
	}
	return n, err
}

// WriteAll performs an atomic write: the underlying layer must not split
// a burst shorter than 256 bytes, which the command-mode escape sequence
// depends on (see internal/arbiter).
func (p *Port) WriteAll(b []byte) error {
	if len(b) > 256 {
		return fmt.Errorf("serialport: WriteAll burst of %d bytes exceeds the 256-byte atomicity guarantee", len(b))
	}
	n, err := p.conn.Write(b)
	if err != nil {
		return fmt.Errorf("serialport: write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("serialport: short write: wrote %d of %d bytes", n, len(b))
	}
	return nil
}

// ResetInput drains pending input bytes. Used only by the control-plane
// arbiter while the receiver is paused, immediately before the command
// escape sequence, per the strict-timing discipline in §4.5.
func (p *Port) ResetInput() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}

// Close closes the underlying port and its auxiliary termios fd.
func (p *Port) Close() error {
	closeRawFD(p.fd)
	return p.conn.Close()
}

// queryMAC and queryRSSI are the radio module's out-of-band binary
// commands, issued on the same 0xCC channel the control-plane arbiter
// later uses for full command-mode sessions, but usable without first
// entering command mode.
var (
	queryMACCmd  = []byte{0xCC, 0x10}
	queryRSSICmd = []byte{0xCC, 0x22}
)

// QueryMAC sends the 2-byte MAC query and reads back the 4-byte response
// (header byte 0xCC followed by a 3-byte MAC). It is only safe to call
// while the receiver loop is paused, since it reads raw bytes off the
// same port the demultiplexer otherwise owns.
func (p *Port) QueryMAC() ([3]byte, error) {
	var mac [3]byte
	if err := p.WriteAll(queryMACCmd); err != nil {
		return mac, err
	}
	resp := make([]byte, 4)
	if err := p.readFull(resp); err != nil {
		return mac, fmt.Errorf("serialport: MAC query: %w", err)
	}
	if resp[0] != 0xCC {
		return mac, fmt.Errorf("serialport: MAC query: unexpected header byte %#02x", resp[0])
	}
	copy(mac[:], resp[1:4])
	return mac, nil
}

// QueryRSSI sends the 2-byte RSSI query and reads back the 2-byte
// response (header byte 0xCC followed by the raw RSSI byte), returning
// the raw byte for internal/frame.MapRSSI to interpret. Only safe while
// the receiver loop is paused.
func (p *Port) QueryRSSI() (byte, error) {
	if err := p.WriteAll(queryRSSICmd); err != nil {
		return 0, err
	}
	resp := make([]byte, 2)
	if err := p.readFull(resp); err != nil {
		return 0, fmt.Errorf("serialport: RSSI query: %w", err)
	}
	if resp[0] != 0xCC {
		return 0, fmt.Errorf("serialport: RSSI query: unexpected header byte %#02x", resp[0])
	}
	return resp[1], nil
}

// readFull blocks (across read-timeout retries) until buf is completely
// filled, bounded by a short overall deadline; the out-of-band queries
// are best-effort preflight checks, never part of the hot read loop.
func (p *Port) readFull(buf []byte) error {
	deadline := time.Now().Add(2 * time.Second)
	got := 0
	for got < len(buf) {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %d/%d bytes", got, len(buf))
		}
		n, err := p.Read(buf[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
