package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sort"
	"strings"

	"go.bug.st/serial"
)

// DeviceLister enumerates serial ports.
type DeviceLister func() ([]string, error)

// SerialPorts lists serial ports known to the OS, sorted.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)

	return ports, nil
}

// DeviceCheck is the outcome of looking for a rig device.
type DeviceCheck struct {
	Device    string
	Present   bool
	Available []string
	Err       string
}

// CheckDevice reports whether device exists. Network devices
// (host:port) and filesystem paths that the enumerator misses, such as
// udev symlinks, are accepted as present.
func CheckDevice(device string, list DeviceLister) DeviceCheck {
	device = strings.TrimSpace(device)
	check := DeviceCheck{Device: device}
	if device == "" {
		return check
	}
	if _, _, err := net.SplitHostPort(device); err == nil {
		check.Present = true
		return check
	}
	if list == nil {
		list = SerialPorts
	}

	ports, err := list()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		check.Err = err.Error()
	}
	check.Available = ports
	if slices.ContainsFunc(ports, func(p string) bool { return strings.EqualFold(p, device) }) {
		check.Present = true
		return check
	}
	if _, statErr := os.Stat(device); statErr == nil {
		check.Present = true
	}

	return check
}
