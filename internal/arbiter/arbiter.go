// Package arbiter serializes control-plane (command-mode) sessions
// against a link's receive loop, implementing the strict escape/exit
// timing discipline one radio module's firmware requires to share its
// one physical port between streamed sensor frames and command/response
// traffic.
package arbiter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gasmesh/gateway/internal/receiver"
	"github.com/gasmesh/gateway/internal/serialport"
	"github.com/gasmesh/gateway/pkg/log"
)

// State is a link's position in the command-mode state machine.
type State int

const (
	StateData State = iota
	StateEntering
	StateCommand
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateData:
		return "DATA"
	case StateEntering:
		return "ENTERING"
	case StateCommand:
		return "COMMAND"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// ErrBusy is returned by Begin when another session already holds this
// link's command-mode lock.
var ErrBusy = errors.New("arbiter: link busy with another command-mode session")

var (
	escapeSeq   = []byte{0x41, 0x54, 0x2B, 0x2B, 0x2B, 0x0D} // "AT+++\r"
	enterOKResp = []byte{0xCC, 0x43, 0x4F, 0x4D}             // CC 'C' 'O' 'M'
	exitSeq     = []byte{0xCC, 0x41, 0x54, 0x4F, 0x0D}       // CC 'A' 'T' 'O' '\r'
	exitOKResp  = []byte{0xCC, 0x44, 0x41, 0x54}             // CC 'D' 'A' 'T'
)

// Config configures one link's arbiter.
type Config struct {
	LinkID string

	// SessionTimeout bounds how long Begin waits for the receiver to
	// acknowledge a pause request; per-command response timeouts are
	// passed to Session.Do by each caller. Default: 2s.
	SessionTimeout time.Duration

	// EscapeGuardDelay is the "interface timeout" the radio needs before
	// and after the escape sequence. Default: 1ms (spec documents 600µs;
	// 1ms gives margin).
	EscapeGuardDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 2 * time.Second
	}
	if c.EscapeGuardDelay <= 0 {
		c.EscapeGuardDelay = time.Millisecond
	}
	return c
}

// serialConn is the slice of *serialport.Port a session needs. Sessions
// hold it as an interface (rather than the concrete type) so tests can
// exercise the state machine and timing discipline against a fake port
// without real hardware.
type serialConn interface {
	Read(p []byte) (int, error)
	WriteAll(p []byte) error
	ResetInput() error
}

// linkPort is the slice of *receiver.Receiver the arbiter borrows: the
// pause/resume handshake and the currently open port.
type linkPort interface {
	Quiesce() *receiver.Quiesce
	Port() *serialport.Port
}

// Arbiter serializes command-mode sessions for one link. Only one
// Session may be open at a time; concurrent Begin calls fail with
// ErrBusy rather than queueing, since a stuck session should be visible
// immediately rather than silently backing up callers.
type Arbiter struct {
	cfg  Config
	recv linkPort
	sem  chan struct{}
}

// New constructs an Arbiter for one link, borrowing its port from recv.
func New(cfg Config, recv linkPort) *Arbiter {
	return &Arbiter{
		cfg:  cfg.withDefaults(),
		recv: recv,
		sem:  make(chan struct{}, 1),
	}
}

// Session is one open command-mode session. Callers must call End
// exactly once, regardless of whether the operations they ran
// succeeded — End always attempts the exit sequence before releasing
// the link, because leaving the radio in command mode silently loses
// every sensor frame that arrives afterward.
type Session struct {
	arb   *Arbiter
	port  serialConn
	state State
}

// State returns the session's current position in the state machine.
func (s *Session) State() State { return s.state }

// Begin acquires the link's command-mode lock, pauses the receiver, and
// runs the escape sequence. On any failure the receiver is resumed and
// the lock released before returning, so a failed Begin requires no
// matching End call.
func (a *Arbiter) Begin(ctx context.Context) (*Session, error) {
	select {
	case a.sem <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	s := &Session{arb: a, state: StateEntering}
	if err := s.enter(ctx); err != nil {
		s.state = StateData
		<-a.sem
		return nil, err
	}
	s.state = StateCommand
	return s, nil
}

func (s *Session) enter(ctx context.Context) error {
	tag := log.Component("link", s.arb.cfg.LinkID)
	q := s.arb.recv.Quiesce()

	if err := q.RequestPause(ctx, s.arb.cfg.SessionTimeout); err != nil {
		return fmt.Errorf("arbiter: requesting pause: %w", err)
	}

	port := s.arb.recv.Port()
	if port == nil {
		q.Release()
		return errors.New("arbiter: link is not connected")
	}
	s.port = port

	if err := port.ResetInput(); err != nil {
		q.Release()
		return fmt.Errorf("arbiter: draining input: %w", err)
	}

	time.Sleep(s.arb.cfg.EscapeGuardDelay)
	if err := port.WriteAll(escapeSeq); err != nil {
		q.Release()
		return fmt.Errorf("arbiter: writing escape sequence: %w", err)
	}
	time.Sleep(s.arb.cfg.EscapeGuardDelay)

	resp := make([]byte, len(enterOKResp))
	if err := readExact(port, resp, 2*time.Second); err != nil {
		q.Release()
		return fmt.Errorf("arbiter: reading escape response: %w", err)
	}
	if !bytes.Equal(resp, enterOKResp) {
		q.Release()
		return fmt.Errorf("arbiter: unexpected escape response % X", resp)
	}

	log.Debugf("%sentered command mode", tag)
	return nil
}

// Do runs one command-mode transaction: write req, then read exactly
// respLen bytes within timeout. Only valid while the session is in
// StateCommand.
func (s *Session) Do(req []byte, respLen int, timeout time.Duration) ([]byte, error) {
	if s.state != StateCommand {
		return nil, fmt.Errorf("arbiter: operation not allowed in state %s", s.state)
	}
	if err := s.port.WriteAll(req); err != nil {
		return nil, fmt.Errorf("arbiter: writing command: %w", err)
	}
	resp := make([]byte, respLen)
	if err := readExact(s.port, resp, timeout); err != nil {
		return nil, fmt.Errorf("arbiter: reading response: %w", err)
	}
	return resp, nil
}

// Write sends req without waiting for or validating a response, for the
// one documented operation (soft reset) that has none. Only valid while
// the session is in StateCommand.
func (s *Session) Write(req []byte) error {
	if s.state != StateCommand {
		return fmt.Errorf("arbiter: operation not allowed in state %s", s.state)
	}
	if err := s.port.WriteAll(req); err != nil {
		return fmt.Errorf("arbiter: writing command: %w", err)
	}
	return nil
}

// Abandon releases the link without attempting the exit sequence, for
// operations that leave the radio rebooting (soft reset, the firmware
// upgrade sequence's reset step) and certain not to respond to one.
func (s *Session) Abandon() {
	s.arb.recv.Quiesce().Release()
	<-s.arb.sem
	s.state = StateData
}

// End sends the exit sequence unconditionally, then resumes the
// receiver and releases the link, regardless of the exit sequence's own
// outcome. The returned error reports only whether the radio
// acknowledged the exit cleanly; the link is released either way.
func (s *Session) End() error {
	tag := log.Component("link", s.arb.cfg.LinkID)
	s.state = StateExiting
	defer func() {
		s.arb.recv.Quiesce().Release()
		<-s.arb.sem
	}()

	if err := s.port.WriteAll(exitSeq); err != nil {
		return fmt.Errorf("arbiter: writing exit sequence: %w", err)
	}

	resp := make([]byte, len(exitOKResp))
	if err := readExact(s.port, resp, 2*time.Second); err != nil {
		return fmt.Errorf("arbiter: reading exit response: %w", err)
	}
	if !bytes.Equal(resp, exitOKResp) {
		return fmt.Errorf("arbiter: unexpected exit response % X", resp)
	}

	s.state = StateData
	log.Debugf("%sexited command mode", tag)
	return nil
}

// readExact blocks, across the port's short read timeout, until buf is
// completely filled or the overall deadline elapses.
func readExact(port serialConn, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %d/%d bytes", got, len(buf))
		}
		n, err := port.Read(buf[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}
