package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens the serial device at path with the given options. The
// returned port implements TimeoutSerialPorter.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial device names present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
