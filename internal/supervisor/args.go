package supervisor

import (
	"strconv"
	"strings"
)

const (
	DefaultPort = 4532
	// DummyModel is the hamlib test rig, which needs no device.
	DummyModel = 1
)

// BuildArgs derives the rigctld command line. The device is only passed
// for real rigs and the port only when it differs from the default.
func BuildArgs(model int, device string, port int) []string {
	if model <= 0 {
		model = DummyModel
	}
	args := []string{"-m", strconv.Itoa(model)}
	if device = strings.TrimSpace(device); model != DummyModel && device != "" {
		args = append(args, "-r", device)
	}
	if port > 0 && port != DefaultPort {
		args = append(args, "-t", strconv.Itoa(port))
	}

	return args
}
