package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"github.com/skobkin/riglink/internal/rigctl"
)

// Report is the result of one diagnostics run. Every run builds a fresh one.
type Report struct {
	ProcessRunning    bool      `json:"processRunning"`
	ProcessPath       string    `json:"processPath,omitempty"`
	ProcessPID        int       `json:"processPid,omitempty"`
	PortListening     bool      `json:"portListening"`
	PortInUseByOther  bool      `json:"portInUseByOther"`
	TCPConnectable    bool      `json:"tcpConnectable"`
	FirewallOK        bool      `json:"firewallOk"`
	FirewallError     string    `json:"firewallError,omitempty"`
	IsExternalRigctld bool      `json:"isExternalRigctld"`
	BinaryPath        string    `json:"binaryPath,omitempty"`
	BinaryFound       bool      `json:"binaryFound"`
	BinaryVersion     string    `json:"binaryVersion,omitempty"`
	Device            string    `json:"device,omitempty"`
	DevicePresent     bool      `json:"devicePresent"`
	AvailablePorts    []string  `json:"availablePorts,omitempty"`
	HostReachable     *bool     `json:"hostReachable,omitempty"`
	Errors            []string  `json:"errors,omitempty"`
	Suggestions       []string  `json:"suggestions"`
	Timestamp         time.Time `json:"timestamp"`
}

// Healthy means the daemon runs, listens and accepts connections.
func (r Report) Healthy() bool {
	return r.ProcessRunning && r.PortListening && r.TCPConnectable
}

const (
	msgNotRunning      = `rigctld is not running. Click "Connect" to start it, or start it manually.`
	msgBinaryMissing   = "rigctld not found. You may need to install Hamlib or configure the path."
	msgExternal        = "An external rigctld instance is running. riglink will connect to it instead of starting its own."
	msgUnreachable     = "Port is listening but TCP connection failed. This may be a firewall issue."
	msgAdministrator   = "Try running riglink as Administrator or check Windows Firewall settings."
	msgFirewallMissing = `Windows Firewall may be blocking the connection. Click "Add Firewall Exception" in settings.`
	MsgHealthy         = "Everything looks good! rigctld is running and accessible."
)

// Suggest derives hints from a report. Each rule is independent; all
// matching rules contribute, in a fixed order.
func Suggest(r Report, port int, firewallSupported bool) []string {
	suggestions := []string{}

	if !r.ProcessRunning && !r.PortListening {
		suggestions = append(suggestions, msgNotRunning)
		if !r.BinaryFound {
			suggestions = append(suggestions, msgBinaryMissing)
		}
	}
	if r.PortInUseByOther {
		suggestions = append(suggestions, fmt.Sprintf("Port %d is in use by another application. Check if another ham radio program is using rigctld.", port))
	}
	if r.IsExternalRigctld {
		suggestions = append(suggestions, msgExternal)
	}
	if r.PortListening && !r.TCPConnectable {
		suggestions = append(suggestions, msgUnreachable)
		if firewallSupported {
			suggestions = append(suggestions, msgAdministrator)
		}
	}
	if !r.FirewallOK && firewallSupported {
		suggestions = append(suggestions, msgFirewallMissing)
		if r.FirewallError != "" {
			suggestions = append(suggestions, "Firewall error: "+r.FirewallError)
		}
	}
	if r.Device != "" && !r.DevicePresent {
		if len(r.AvailablePorts) == 0 {
			suggestions = append(suggestions, fmt.Sprintf("Rig device %s was not found and no serial ports were detected. Check the cable and driver.", r.Device))
		} else {
			suggestions = append(suggestions, fmt.Sprintf("Rig device %s was not found. Available serial ports: %s.", r.Device, strings.Join(r.AvailablePorts, ", ")))
		}
	}
	if r.HostReachable != nil && !*r.HostReachable && !r.TCPConnectable {
		suggestions = append(suggestions, "The rigctld host did not answer ping. Check the network path to it.")
	}
	if rigctl.HamlibOutdated(r.BinaryVersion) {
		suggestions = append(suggestions, fmt.Sprintf("Hamlib %s is older than %s. Upgrade Hamlib if commands fail or return odd values.",
			strings.TrimPrefix(r.BinaryVersion, "v"), strings.TrimPrefix(rigctl.MinimumHamlibVersion, "v")))
	}
	if r.Healthy() {
		suggestions = append(suggestions, MsgHealthy)
	}

	return suggestions
}
