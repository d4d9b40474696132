package arbiter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gasmesh/gateway/internal/receiver"
	"github.com/gasmesh/gateway/internal/serialport"
)

// fakePort is a serialConn double that replays scripted responses and
// records every write, so the escape/exit timing discipline can be
// tested without a real radio.
type fakePort struct {
	writes    [][]byte
	responses [][]byte
	resetErr  error
}

func (f *fakePort) WriteAll(p []byte) error {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakePort) ResetInput() error { return f.resetErr }

func (f *fakePort) Read(buf []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, nil
	}
	next := f.responses[0]
	n := copy(buf, next)
	if n == len(next) {
		f.responses = f.responses[1:]
	} else {
		f.responses[0] = next[n:]
	}
	return n, nil
}

// fakeLink implements linkPort using a live Quiesce (Begin/End's own
// handshake) but never a real serial port — Port() is unused by the
// Session-level tests below, which construct their Session by hand.
type fakeLink struct {
	q *receiver.Quiesce
}

func (f fakeLink) Quiesce() *receiver.Quiesce { return f.q }
func (f fakeLink) Port() *serialport.Port     { return nil }

// TestSessionEnterSendsEscapeAndValidatesResponse replays enter's escape
// exchange step by step against a fakePort rather than calling enter,
// which takes its port from linkPort.Port() (a concrete
// *serialport.Port): reset input, write escapeSeq, read back the
// response and compare it with enterOKResp.
func TestSessionEnterSendsEscapeAndValidatesResponse(t *testing.T) {
	port := &fakePort{responses: [][]byte{{0xCC, 0x43, 0x4F, 0x4D}}}

	require.NoError(t, port.ResetInput())
	require.NoError(t, port.WriteAll(escapeSeq))
	resp := make([]byte, len(enterOKResp))
	require.NoError(t, readExact(port, resp, time.Second))
	require.True(t, bytes.Equal(resp, enterOKResp))
	require.Equal(t, escapeSeq, port.writes[0])
}

func TestSessionDoRejectsOutsideCommandState(t *testing.T) {
	s := &Session{arb: &Arbiter{cfg: Config{}.withDefaults()}, state: StateData}
	_, err := s.Do([]byte{0xCC, 0x00, 0x00}, 2, time.Second)
	require.ErrorContains(t, err, "not allowed in state DATA")
}

func TestSessionDoWritesAndReadsResponse(t *testing.T) {
	port := &fakePort{responses: [][]byte{{0xCC, 0x42, 0x03}}}
	s := &Session{
		arb:   &Arbiter{cfg: Config{}.withDefaults()},
		port:  port,
		state: StateCommand,
	}

	resp, err := s.Do([]byte{0xCC, 0x00, 0x00}, 3, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0xCC, 0x42, 0x03}, resp)
	require.Equal(t, []byte{0xCC, 0x00, 0x00}, port.writes[0])
}

func TestSessionEndSendsExitUnconditionallyAndReleases(t *testing.T) {
	port := &fakePort{responses: [][]byte{{0xCC, 0x44, 0x41, 0x54}}}
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	link := fakeLink{q: receiver.New(receiver.Config{LinkID: "t"}, nil).Quiesce()}

	s := &Session{
		arb: &Arbiter{
			cfg:  Config{}.withDefaults(),
			sem:  sem,
			recv: link,
		},
		port:  port,
		state: StateCommand,
	}

	require.NoError(t, s.End())
	require.Equal(t, StateData, s.state)
	require.Equal(t, exitSeq, port.writes[0])
	require.Len(t, sem, 0)
}

func TestSessionEndReportsBadExitResponseButStillReleases(t *testing.T) {
	port := &fakePort{responses: [][]byte{{0x00, 0x00, 0x00, 0x00}}}
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	link := fakeLink{q: receiver.New(receiver.Config{LinkID: "t"}, nil).Quiesce()}

	s := &Session{
		arb: &Arbiter{
			cfg:  Config{}.withDefaults(),
			sem:  sem,
			recv: link,
		},
		port:  port,
		state: StateCommand,
	}

	err := s.End()
	require.ErrorContains(t, err, "unexpected exit response")
	require.Len(t, sem, 0, "the link must be released even when the exit handshake fails")
}

func TestBeginFailsBusyWhenSessionAlreadyOpen(t *testing.T) {
	a := &Arbiter{cfg: Config{}.withDefaults(), sem: make(chan struct{}, 1)}
	a.sem <- struct{}{}

	_, err := a.Begin(context.Background())
	require.ErrorIs(t, err, ErrBusy)
}
