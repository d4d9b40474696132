// Package radio implements the control-plane operations (§4.8) built on
// top of an arbiter session: status, EEPROM read/write, live channel
// change, soft reset, and the firmware upgrade sequence. Every operation
// opens its own session, so two operations never interleave on the wire
// even if called concurrently — the arbiter's one-session-at-a-time rule
// serializes them.
package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/gasmesh/gateway/internal/arbiter"
	"github.com/gasmesh/gateway/pkg/log"
)

// RangeStatus is the third byte of a Status/VerifyUpgrade response.
type RangeStatus byte

const (
	StatusOutOfRange RangeStatus = 0x01
	StatusServer     RangeStatus = 0x02
	StatusInRange    RangeStatus = 0x03
)

func (s RangeStatus) String() string {
	switch s {
	case StatusOutOfRange:
		return "out-of-range"
	case StatusServer:
		return "server"
	case StatusInRange:
		return "in-range"
	default:
		return fmt.Sprintf("unknown(%#02x)", byte(s))
	}
}

// Status is the radio's reported firmware revision and range state.
type Status struct {
	Firmware byte
	State    RangeStatus
}

// defaultTimeout is the 2s typical command-mode response timeout;
// individual operations override it where §4.8 documents a longer one.
const defaultTimeout = 2 * time.Second

// Client runs control-plane operations against one link's arbiter.
type Client struct {
	arb               *arbiter.Arbiter
	linkID            string
	firmwareChunkSize int
}

// New constructs a Client. firmwareChunkSize bounds each firmware write
// chunk (default 128, max 255, per §4.8).
func New(arb *arbiter.Arbiter, linkID string, firmwareChunkSize int) *Client {
	if firmwareChunkSize <= 0 {
		firmwareChunkSize = 128
	}
	if firmwareChunkSize > 255 {
		firmwareChunkSize = 255
	}
	return &Client{arb: arb, linkID: linkID, firmwareChunkSize: firmwareChunkSize}
}

// Status runs CC 00 00 → CC <firmware> <status>.
func (c *Client) Status(ctx context.Context) (Status, error) {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return Status{}, err
	}
	defer s.End()

	resp, err := s.Do([]byte{0xCC, 0x00, 0x00}, 3, defaultTimeout)
	if err != nil {
		return Status{}, err
	}
	if resp[0] != 0xCC {
		return Status{}, fmt.Errorf("radio: status: unexpected header %#02x", resp[0])
	}
	return Status{Firmware: resp[1], State: RangeStatus(resp[2])}, nil
}

// ReadEEPROM runs CC C0 <addr> <len> → CC <addr> <len> <data...>.
func (c *Client) ReadEEPROM(ctx context.Context, addr, length byte) ([]byte, error) {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.End()
	return c.readEEPROM(s, addr, length)
}

func (c *Client) readEEPROM(s *arbiter.Session, addr, length byte) ([]byte, error) {
	req := []byte{0xCC, 0xC0, addr, length}
	resp, err := s.Do(req, 3+int(length), defaultTimeout)
	if err != nil {
		return nil, err
	}
	if resp[0] != 0xCC || resp[1] != addr || resp[2] != length {
		return nil, fmt.Errorf("radio: read-eeprom: unexpected response header % X", resp[:3])
	}
	return append([]byte(nil), resp[3:]...), nil
}

// WriteEEPROM runs CC C1 <addr> <len> <data...> → <addr> <len>
// <last_byte>. The response is not CC-prefixed — a documented wart in
// the radio's own command grammar, not a bug here.
func (c *Client) WriteEEPROM(ctx context.Context, addr byte, data []byte) error {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.End()
	return c.writeEEPROM(s, addr, data)
}

func (c *Client) writeEEPROM(s *arbiter.Session, addr byte, data []byte) error {
	req := append([]byte{0xCC, 0xC1, addr, byte(len(data))}, data...)
	resp, err := s.Do(req, 3, defaultTimeout)
	if err != nil {
		return err
	}
	if resp[0] != addr || resp[1] != byte(len(data)) || resp[2] != data[len(data)-1] {
		return fmt.Errorf("radio: write-eeprom: unexpected response % X", resp)
	}
	return nil
}

// ChangeChannel runs CC 02 <chan> → CC <chan>. The change is
// non-persistent; ATWR-style persistence goes through WriteEEPROM.
func (c *Client) ChangeChannel(ctx context.Context, channel byte) error {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.End()

	resp, err := s.Do([]byte{0xCC, 0x02, channel}, 2, defaultTimeout)
	if err != nil {
		return err
	}
	if resp[0] != 0xCC || resp[1] != channel {
		return fmt.Errorf("radio: change-channel: unexpected response % X", resp)
	}
	return nil
}

// VerifyUpgrade runs CC 00 02 → CC <firmware> <status>, the post-upgrade
// check that the new image reports a sane range status.
func (c *Client) VerifyUpgrade(ctx context.Context) (Status, error) {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return Status{}, err
	}
	defer s.End()

	resp, err := s.Do([]byte{0xCC, 0x00, 0x02}, 3, defaultTimeout)
	if err != nil {
		return Status{}, err
	}
	if resp[0] != 0xCC {
		return Status{}, fmt.Errorf("radio: verify-upgrade: unexpected header %#02x", resp[0])
	}
	return Status{Firmware: resp[1], State: RangeStatus(resp[2])}, nil
}

// SoftReset runs CC FF, which has no response. The radio reboots
// immediately, so the session is abandoned rather than exited — writing
// the normal exit sequence to a rebooting radio would only waste the
// 2s exit timeout waiting for a response that will never come.
func (c *Client) SoftReset(ctx context.Context) error {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.Write([]byte{0xCC, 0xFF}); err != nil {
		s.Abandon()
		return err
	}
	s.Abandon()
	log.Infof("%ssoft reset sent", log.Component("link", c.linkID))
	return nil
}
