package link

import (
	"errors"
	"fmt"
	"os"

	"go.bug.st/serial"
)

// SerialTransport is a Transport over a serial port.
type SerialTransport struct {
	serial.Port
	name string
}

// OpenSerial opens the serial device configured as 8N1.
func OpenSerial(device string, baud int) (*SerialTransport, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: serial device not specified", ErrNoTransport)
	}
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTransport, err)
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			return nil, fmt.Errorf("%w: %v", ErrNoTransport, err)
		}
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return &SerialTransport{Port: port, name: device}, nil
}

// Name returns the device path.
func (t *SerialTransport) Name() string {
	return t.name
}

// String implements fmt.Stringer.
func (t *SerialTransport) String() string {
	return "serial:" + t.name
}
