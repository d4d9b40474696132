//go:build linux

package serialport

import "golang.org/x/sys/unix"

// openRawFD opens a second handle on the same device purely for termios
// ioctls; tarm/serial's *serial.Port exposes no file descriptor, and the
// CRTSCTS / TCFLSH operations the radios require have no equivalent in
// its API.
func openRawFD(device string) (int, error) {
	return unix.Open(device, unix.O_RDWR|unix.O_NOCTTY, 0)
}

func closeRawFD(fd int) {
	unix.Close(fd)
}

// enableFlowControl turns on CRTSCTS: the radios require hardware
// RTS/CTS and stall without it, a knob tarm/serial does not expose.
func enableFlowControl(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Cflag |= unix.CRTSCTS
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
