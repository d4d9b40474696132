package radio

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gasmesh/gateway/internal/arbiter"
	"github.com/gasmesh/gateway/pkg/log"
)

// firmwareWriteStatus mirrors the third byte of a Firmware write
// response (the byte after the 0xCC 0xC4 echo).
type firmwareWriteStatus byte

const (
	fwOK          firmwareWriteStatus = 0
	fwTimeout     firmwareWriteStatus = 3
	fwUnerased    firmwareWriteStatus = 4
	fwOutOfBounds firmwareWriteStatus = 6
)

func (s firmwareWriteStatus) String() string {
	switch s {
	case fwOK:
		return "ok"
	case fwTimeout:
		return "timeout"
	case fwUnerased:
		return "un-erased"
	case fwOutOfBounds:
		return "out-of-bounds"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// eraseBoundary is the address at which a firmware write first incurs
// the radio's internal 300ms erase delay.
const eraseBoundary = 0x0800

// eraseDelay is added to a chunk's response timeout the first time a
// write crosses eraseBoundary.
const eraseDelay = 300 * time.Millisecond

// decryptTimeout is the documented 5s command-mode timeout for the
// image decrypt step.
const decryptTimeout = 5 * time.Second

// postResetSettle is the minimum wait after a soft reset before the
// link is reopened and re-entered for verification.
const postResetSettle = 3 * time.Second

// maxImageMismatches bounds the whole-image tolerance for chunks that
// fail their single retry.
const maxImageMismatches = 3

// UpgradeResult summarizes a completed firmware upgrade attempt.
type UpgradeResult struct {
	ChunksWritten int
	Mismatches    int
	VerifyStatus  RangeStatus
	Firmware      byte
}

// Reopener reopens the underlying link after a soft reset, since the
// firmware upgrade sequence's final verify step needs a fresh session
// on a radio that has just rebooted. The gateway's link orchestration
// supplies this; radio itself knows nothing about serial ports.
type Reopener interface {
	Reopen(ctx context.Context) error
}

// Upgrade runs the full firmware-upgrade sequence: enter, erase,
// chunked write/read-back/compare (retry once on mismatch; up to 3
// mismatches across the whole image are tolerated and the fourth
// aborts), decrypt, reset, wait, reopen, verify.
// Failure at any step before Decrypt leaves the radio in an
// inconsistent (erased or partially written) state; recovery is a
// re-upgrade, performed by the operator.
func (c *Client) Upgrade(ctx context.Context, image []byte, reopen Reopener) (UpgradeResult, error) {
	tag := log.Component("link", c.linkID)
	result := UpgradeResult{}

	s, err := c.arb.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("radio: upgrade: entering command mode: %w", err)
	}

	if err := c.erase(s); err != nil {
		s.End()
		return result, fmt.Errorf("radio: upgrade: erase: %w", err)
	}

	erasedCrossed := false
	for addr := 0; addr < len(image); addr += c.firmwareChunkSize {
		end := addr + c.firmwareChunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[addr:end]

		crossesErase := !erasedCrossed && addr+len(chunk) > eraseBoundary
		ok, err := c.writeAndVerifyChunk(s, uint16(addr), chunk, crossesErase)
		if crossesErase {
			erasedCrossed = true
		}
		if err != nil {
			s.End()
			return result, fmt.Errorf("radio: upgrade: chunk at %#04x: %w", addr, err)
		}
		result.ChunksWritten++
		if !ok {
			result.Mismatches++
			log.Warnf("%sfirmware chunk at %#04x mismatched after retry", tag, addr)
			if result.Mismatches > maxImageMismatches {
				s.End()
				return result, fmt.Errorf("radio: upgrade: exceeded %d mismatched chunks", maxImageMismatches)
			}
		}
	}

	if err := c.decrypt(s); err != nil {
		s.End()
		return result, fmt.Errorf("radio: upgrade: decrypt: %w", err)
	}

	if err := s.Write([]byte{0xCC, 0xFF}); err != nil {
		s.Abandon()
		return result, fmt.Errorf("radio: upgrade: reset: %w", err)
	}
	s.Abandon()
	log.Infof("%sfirmware decrypted, reset sent, settling before verify", tag)

	time.Sleep(postResetSettle)

	if reopen != nil {
		if err := reopen.Reopen(ctx); err != nil {
			return result, fmt.Errorf("radio: upgrade: reopening link: %w", err)
		}
	}

	status, err := c.VerifyUpgrade(ctx)
	if err != nil {
		return result, fmt.Errorf("radio: upgrade: verify: %w", err)
	}
	result.Firmware = status.Firmware
	result.VerifyStatus = status.State

	log.Infof("%sfirmware upgrade complete: firmware=%#02x status=%s chunks=%d mismatches=%d",
		tag, result.Firmware, result.VerifyStatus, result.ChunksWritten, result.Mismatches)
	return result, nil
}

func (c *Client) erase(s *arbiter.Session) error {
	resp, err := s.Do([]byte{0xCC, 0xC6}, 2, 2*time.Second)
	if err != nil {
		return err
	}
	if resp[0] != 0xCC || resp[1] != 0xC6 {
		return fmt.Errorf("unexpected erase response % X", resp)
	}
	return nil
}

func (c *Client) decrypt(s *arbiter.Session) error {
	resp, err := s.Do([]byte{0xCC, 0xC5}, 3, decryptTimeout)
	if err != nil {
		return err
	}
	if resp[0] != 0xCC || resp[1] != 0xC5 {
		return fmt.Errorf("unexpected decrypt response % X", resp)
	}
	if firmwareWriteStatus(resp[2]) != fwOK {
		return fmt.Errorf("decrypt reported status %s", firmwareWriteStatus(resp[2]))
	}
	return nil
}

// writeAndVerifyChunk writes one chunk, reads it back, and compares.
// On mismatch it retries exactly once; ok is false only if both the
// original write and the retry mismatch (which still counts as a
// successfully-written chunk towards the whole-image tolerance).
func (c *Client) writeAndVerifyChunk(s *arbiter.Session, addr uint16, chunk []byte, crossesErase bool) (ok bool, err error) {
	timeout := 2 * time.Second
	if crossesErase {
		timeout += eraseDelay
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := c.firmwareWrite(s, addr, chunk, timeout); err != nil {
			return false, err
		}
		readBack, err := c.firmwareRead(s, addr, uint16(len(chunk)))
		if err != nil {
			return false, err
		}
		if bytes.Equal(readBack, chunk) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) firmwareWrite(s *arbiter.Session, addr uint16, data []byte, timeout time.Duration) error {
	req := make([]byte, 0, 6+len(data))
	req = append(req, 0xCC, 0xC4, byte(addr>>8), byte(addr), byte(len(data)>>8), byte(len(data)))
	req = append(req, data...)

	resp, err := s.Do(req, 5, timeout)
	if err != nil {
		return err
	}
	if resp[0] != 0xCC || resp[1] != 0xC4 {
		return fmt.Errorf("unexpected firmware-write response header % X", resp[:2])
	}
	status := firmwareWriteStatus(resp[2])
	if status != fwOK {
		return fmt.Errorf("firmware write at %#04x reported status %s", addr, status)
	}
	return nil
}

func (c *Client) firmwareRead(s *arbiter.Session, addr, length uint16) ([]byte, error) {
	req := []byte{0xCC, 0xC9, byte(addr >> 8), byte(addr), byte(length >> 8), byte(length)}
	resp, err := s.Do(req, 5+int(length), 2*time.Second)
	if err != nil {
		return nil, err
	}
	if resp[0] != 0xCC || resp[1] != 0xC9 {
		return nil, fmt.Errorf("unexpected firmware-read response header % X", resp[:2])
	}
	if firmwareWriteStatus(resp[2]) != fwOK {
		return nil, fmt.Errorf("firmware read at %#04x reported status %s", addr, firmwareWriteStatus(resp[2]))
	}
	return append([]byte(nil), resp[5:]...), nil
}
