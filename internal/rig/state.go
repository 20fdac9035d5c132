package rig

import "time"

// RigState is the last known radio state. Failed polls leave fields untouched.
type RigState struct {
	FrequencyHz      int64     `json:"frequencyHz"`
	Mode             string    `json:"mode"`
	PassbandHz       int       `json:"passbandHz"`
	VFO              string    `json:"vfo"`
	PTT              bool      `json:"ptt"`
	Split            bool      `json:"split"`
	SplitFrequencyHz *int64    `json:"splitFrequencyHz,omitempty"`
	SplitMode        *string   `json:"splitMode,omitempty"`
	RITHz            int       `json:"ritHz"`
	XITHz            int       `json:"xitHz"`
	SignalStrength   *int      `json:"signalStrength,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Support is a tri-state capability answer.
type Support int

const (
	SupportUnknown Support = iota
	SupportYes
	SupportNo
)

func (s Support) String() string {
	switch s {
	case SupportYes:
		return "supported"
	case SupportNo:
		return "unsupported"
	default:
		return "unknown"
	}
}

// smeterErrorThreshold is how many consecutive failures it takes before
// the status text reports an error. Polling continues regardless.
const smeterErrorThreshold = 3

// SmeterStatus tracks S-meter availability for the current connection.
type SmeterStatus struct {
	Supported          Support   `json:"supported"`
	LastError          string    `json:"lastError,omitempty"`
	LastSuccessfulRead time.Time `json:"lastSuccessfulRead,omitempty"`
	ConsecutiveErrors  int       `json:"consecutiveErrors"`
}

func (s SmeterStatus) Text() string {
	switch {
	case s.Supported == SupportUnknown:
		return "Checking..."
	case s.Supported == SupportNo:
		return "Not supported"
	case s.ConsecutiveErrors > smeterErrorThreshold:
		return "Error"
	default:
		return "OK"
	}
}
