package radio

import (
	"context"
	"fmt"
)

// EEPROM offsets for the RadioProfile fields. No byte-offset map is
// documented for the radio module, so these are a chosen contiguous
// layout: one byte each for channel, mode, API control, baud and RF
// power, followed by the 4-byte system ID (0x00-0x08).
const (
	offsetChannel   byte = 0x00
	offsetMode      byte = 0x01
	offsetAPICtrl   byte = 0x02
	offsetBaud      byte = 0x03
	offsetRFPower   byte = 0x04
	offsetSystemID  byte = 0x05 // 4 bytes
	profileEEPROMLen      = 9
)

// RadioProfile is the subset of EEPROM-resident configuration the
// gateway cares about: channel, mode, API control, baud, RF power, and
// system ID, at the offsets above.
type RadioProfile struct {
	Channel    byte
	Mode       byte
	APIControl byte
	Baud       byte
	RFPower    byte
	SystemID   [4]byte
}

// FieldDiff is one field where a snapshot and a desired profile differ.
type FieldDiff struct {
	Field string
	Got   byte
	Want  byte
}

// Snapshot reads the full RadioProfile EEPROM region in one
// command-mode session.
func (c *Client) Snapshot(ctx context.Context) (RadioProfile, error) {
	s, err := c.arb.Begin(ctx)
	if err != nil {
		return RadioProfile{}, err
	}
	defer s.End()

	raw, err := c.readEEPROM(s, offsetChannel, profileEEPROMLen)
	if err != nil {
		return RadioProfile{}, fmt.Errorf("radio: snapshot: %w", err)
	}

	return RadioProfile{
		Channel:    raw[offsetChannel],
		Mode:       raw[offsetMode],
		APIControl: raw[offsetAPICtrl],
		Baud:       raw[offsetBaud],
		RFPower:    raw[offsetRFPower],
		SystemID:   [4]byte{raw[offsetSystemID], raw[offsetSystemID+1], raw[offsetSystemID+2], raw[offsetSystemID+3]},
	}, nil
}

// Diff compares a snapshot against a desired profile and reports every
// field that differs. It performs no writes — profile changes happen
// only through the caller applying the one documented address-change
// command (ChangeChannel) or an explicit WriteEEPROM call after
// reviewing the diff.
func (got RadioProfile) Diff(want RadioProfile) []FieldDiff {
	var diffs []FieldDiff
	add := func(field string, g, w byte) {
		if g != w {
			diffs = append(diffs, FieldDiff{Field: field, Got: g, Want: w})
		}
	}

	add("channel", got.Channel, want.Channel)
	add("mode", got.Mode, want.Mode)
	add("api_control", got.APIControl, want.APIControl)
	add("baud", got.Baud, want.Baud)
	add("rf_power", got.RFPower, want.RFPower)
	for i := range got.SystemID {
		add(fmt.Sprintf("system_id[%d]", i), got.SystemID[i], want.SystemID[i])
	}
	return diffs
}
