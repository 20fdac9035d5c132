package rigctl

import (
	"strconv"
	"strings"
)

// Short command names understood by rigctld.
const (
	CmdGetFreq      = "f"
	CmdSetFreq      = "F"
	CmdGetMode      = "m"
	CmdSetMode      = "M"
	CmdGetVFO       = "v"
	CmdSetVFO       = "V"
	CmdGetPTT       = "t"
	CmdSetPTT       = "T"
	CmdGetSplitVFO  = "s"
	CmdSetSplitVFO  = "S"
	CmdGetSplitFreq = "i"
	CmdSetSplitFreq = "I"
	CmdGetRIT       = "j"
	CmdSetRIT       = "J"
	CmdGetXIT       = "z"
	CmdSetXIT       = "Z"
	CmdGetLevel     = "l"
	CmdDumpCaps     = "dump_caps"
)

func GetFrequency() string { return CmdGetFreq }

func SetFrequency(hz int64) string {
	return join(CmdSetFreq, strconv.FormatInt(hz, 10))
}

func GetMode() string { return CmdGetMode }

// SetMode sets mode and passband; a zero passband keeps the rig default.
func SetMode(mode string, passbandHz int) string {
	return join(CmdSetMode, strings.ToUpper(strings.TrimSpace(mode)), strconv.Itoa(passbandHz))
}

func GetVFO() string { return CmdGetVFO }

func SetVFO(vfo string) string {
	return join(CmdSetVFO, strings.TrimSpace(vfo))
}

func GetPTT() string { return CmdGetPTT }

func SetPTT(on bool) string {
	return join(CmdSetPTT, boolFlag(on))
}

func GetSplit() string { return CmdGetSplitVFO }

// SetSplit toggles split operation, transmitting on VFOB when enabled.
func SetSplit(on bool) string {
	return join(CmdSetSplitVFO, boolFlag(on), "VFOB")
}

func GetSplitFrequency() string { return CmdGetSplitFreq }

func SetSplitFrequency(hz int64) string {
	return join(CmdSetSplitFreq, strconv.FormatInt(hz, 10))
}

func GetRIT() string { return CmdGetRIT }

func SetRIT(hz int) string {
	return join(CmdSetRIT, strconv.Itoa(hz))
}

func GetXIT() string { return CmdGetXIT }

func SetXIT(hz int) string {
	return join(CmdSetXIT, strconv.Itoa(hz))
}

func GetStrength() string {
	return join(CmdGetLevel, LevelStrength)
}

func DumpCaps() string { return CmdDumpCaps }

// ParseBool reads rigctld's 0/1 flags.
func ParseBool(raw string) bool {
	return strings.TrimSpace(raw) == "1"
}

// ParseInt reads an integer value, falling back to 0 like the daemon's
// own clients do for empty or garbled fields.
func ParseInt(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}

	return 0
}

func boolFlag(on bool) string {
	if on {
		return "1"
	}

	return "0"
}

func join(parts ...string) string {
	return strings.Join(parts, " ")
}
