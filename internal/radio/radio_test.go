package radio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The Client's wire operations all require a live arbiter.Session tied
// to a real or fake serial port; internal/arbiter's own test suite
// covers that plumbing. Here we cover the logic that doesn't need one:
// status/code rendering and the pure profile diff.

func TestRangeStatusString(t *testing.T) {
	require.Equal(t, "in-range", StatusInRange.String())
	require.Equal(t, "out-of-range", StatusOutOfRange.String())
	require.Contains(t, RangeStatus(0x99).String(), "unknown")
}

func TestFirmwareWriteStatusString(t *testing.T) {
	require.Equal(t, "ok", fwOK.String())
	require.Equal(t, "un-erased", fwUnerased.String())
	require.Equal(t, "out-of-bounds", fwOutOfBounds.String())
}

func TestRadioProfileDiffReportsOnlyMismatches(t *testing.T) {
	got := RadioProfile{
		Channel:    3,
		Mode:       1,
		APIControl: 0,
		Baud:       9,
		RFPower:    5,
		SystemID:   [4]byte{1, 2, 3, 4},
	}
	want := got
	want.Channel = 7
	want.SystemID[2] = 0xFF

	diffs := got.Diff(want)

	require.Len(t, diffs, 2)
	require.Equal(t, FieldDiff{Field: "channel", Got: 3, Want: 7}, diffs[0])
	require.Equal(t, FieldDiff{Field: "system_id[2]", Got: 3, Want: 0xFF}, diffs[1])
}

func TestRadioProfileDiffEmptyWhenEqual(t *testing.T) {
	p := RadioProfile{Channel: 1, Mode: 1, APIControl: 1, Baud: 1, RFPower: 1}
	require.Empty(t, p.Diff(p))
}

func TestNewClampsFirmwareChunkSize(t *testing.T) {
	c := New(nil, "link", 0)
	require.Equal(t, 128, c.firmwareChunkSize)

	c = New(nil, "link", 9999)
	require.Equal(t, 255, c.firmwareChunkSize)

	c = New(nil, "link", 64)
	require.Equal(t, 64, c.firmwareChunkSize)
}
