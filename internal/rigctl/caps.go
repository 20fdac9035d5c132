package rigctl

import (
	"slices"
	"strings"
)

// LevelStrength is the level name rigctld reports for the S-meter.
const LevelStrength = "STRENGTH"

// Capabilities is the subset of a dump_caps report used by the client.
type Capabilities struct {
	ModelName      string       `json:"modelName"`
	MfgName        string       `json:"mfgName"`
	BackendVersion string       `json:"backendVersion"`
	RigType        string       `json:"rigType"`
	PTTType        string       `json:"pttType"`
	DCDType        string       `json:"dcdType"`
	PortType       string       `json:"portType"`
	SerialSpeed    string       `json:"serialSpeed"`
	Modes          []string     `json:"modes"`
	VFOs           []string     `json:"vfos"`
	Functions      []string     `json:"functions"`
	Levels         []string     `json:"levels"`
	TxRanges       []TxRange    `json:"txRanges"`
	RxRanges       []RxRange    `json:"rxRanges"`
	TuningSteps    []TuningStep `json:"tuningSteps"`
	Filters        []Filter     `json:"filters"`
}

type TxRange struct {
	MinFreq   int64    `json:"minFreq"`
	MaxFreq   int64    `json:"maxFreq"`
	Modes     []string `json:"modes"`
	LowPower  int      `json:"lowPower"`
	HighPower int      `json:"highPower"`
}

type RxRange struct {
	MinFreq int64    `json:"minFreq"`
	MaxFreq int64    `json:"maxFreq"`
	Modes   []string `json:"modes"`
}

type TuningStep struct {
	Step  int64    `json:"step"`
	Modes []string `json:"modes"`
}

type Filter struct {
	Width int64    `json:"width"`
	Modes []string `json:"modes"`
}

// HasLevel reports whether the rig can read the named level.
func (c *Capabilities) HasLevel(level string) bool {
	if c == nil {
		return false
	}

	return slices.Contains(c.Levels, level)
}

type capField func(c *Capabilities, value string)

var scalarCapFields = map[string]capField{
	"Model name":      func(c *Capabilities, v string) { c.ModelName = v },
	"Mfg name":        func(c *Capabilities, v string) { c.MfgName = v },
	"Backend version": func(c *Capabilities, v string) { c.BackendVersion = v },
	"Rig type":        func(c *Capabilities, v string) { c.RigType = v },
	"PTT type":        func(c *Capabilities, v string) { c.PTTType = v },
	"DCD type":        func(c *Capabilities, v string) { c.DCDType = v },
	"Port type":       func(c *Capabilities, v string) { c.PortType = v },
	"Serial speed":    func(c *Capabilities, v string) { c.SerialSpeed = v },
	"Mode list":       func(c *Capabilities, v string) { c.Modes = strings.Fields(v) },
	"VFO list":        func(c *Capabilities, v string) { c.VFOs = strings.Fields(v) },
	"Get functions":   func(c *Capabilities, v string) { c.Functions = strings.Fields(v) },
	"Get level":       func(c *Capabilities, v string) { c.Levels = levelNames(v) },
}

// ParseCapabilities maps "Label:\tValue" lines onto Capabilities.
// Unknown labels are skipped.
func ParseCapabilities(lines []string) Capabilities {
	caps := Capabilities{
		Modes:       []string{},
		VFOs:        []string{},
		Functions:   []string{},
		Levels:      []string{},
		TxRanges:    []TxRange{},
		RxRanges:    []RxRange{},
		TuningSteps: []TuningStep{},
		Filters:     []Filter{},
	}

	for _, line := range lines {
		label, value, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":")
		if !ok {
			continue
		}
		set, known := scalarCapFields[strings.TrimSpace(label)]
		if !known {
			continue
		}
		set(&caps, strings.Trim(value, " \t"))
	}

	return caps
}

// levelNames strips the "(min..max/step)" ranges newer daemons append to
// level names, e.g. "STRENGTH(-54..60/0)".
func levelNames(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if idx := strings.IndexByte(f, '('); idx > 0 {
			f = f[:idx]
		}
		out = append(out, f)
	}

	return out
}
