//go:build !linux

package serialport

import "fmt"

// Hardware flow control here is Linux-specific (the only platform the
// gateway ships on); other GOOS builds compile for local development
// only and fail fast if actually opened.
func openRawFD(device string) (int, error) {
	return 0, fmt.Errorf("serialport: hardware flow control is only supported on linux")
}

func closeRawFD(fd int) {}

func enableFlowControl(fd int) error {
	return nil
}
