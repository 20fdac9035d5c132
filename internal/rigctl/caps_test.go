package rigctl

import (
	"reflect"
	"testing"
)

func TestParseCapabilitiesModeList(t *testing.T) {
	caps := ParseCapabilities([]string{"Mode list:\tAM CW FM LSB USB\n"})

	want := []string{"AM", "CW", "FM", "LSB", "USB"}
	if !reflect.DeepEqual(caps.Modes, want) {
		t.Fatalf("expected modes %v, got %v", want, caps.Modes)
	}
}

func TestParseCapabilitiesScalarsAndLists(t *testing.T) {
	lines := []string{
		"Caps dump for model: 1",
		"Model name:\tDummy",
		"Mfg name:\tHamlib",
		"Backend version:\t20221128.0",
		"Rig type:\tOther",
		"PTT type:\tRig capable",
		"DCD type:\tRig capable",
		"Port type:\tNone",
		"Serial speed:\t0..0 baud, 8N1, ctrl=NONE",
		"VFO list:\tVFOA VFOB  MEM",
		"Get functions:\tFAGC NB ",
		"Get level:\tPREAMP(0..0/0) STRENGTH(-54..60/0) RFPOWER",
		"Can set Frequency:\tY",
		"Totally new label:\tsomething",
	}

	caps := ParseCapabilities(lines)

	if caps.ModelName != "Dummy" || caps.MfgName != "Hamlib" || caps.BackendVersion != "20221128.0" {
		t.Fatalf("unexpected identity fields: %+v", caps)
	}
	if caps.RigType != "Other" || caps.PTTType != "Rig capable" || caps.DCDType != "Rig capable" || caps.PortType != "None" {
		t.Fatalf("unexpected type fields: %+v", caps)
	}
	if caps.SerialSpeed != "0..0 baud, 8N1, ctrl=NONE" {
		t.Fatalf("unexpected serial speed: %q", caps.SerialSpeed)
	}
	if !reflect.DeepEqual(caps.VFOs, []string{"VFOA", "VFOB", "MEM"}) {
		t.Fatalf("unexpected vfos: %v", caps.VFOs)
	}
	if !reflect.DeepEqual(caps.Functions, []string{"FAGC", "NB"}) {
		t.Fatalf("unexpected functions: %v", caps.Functions)
	}
	if !reflect.DeepEqual(caps.Levels, []string{"PREAMP", "STRENGTH", "RFPOWER"}) {
		t.Fatalf("unexpected levels: %v", caps.Levels)
	}
	if !caps.HasLevel(LevelStrength) {
		t.Fatalf("expected STRENGTH level")
	}
}

func TestParseCapabilitiesEmptyInputHasEmptyLists(t *testing.T) {
	caps := ParseCapabilities(nil)
	if caps.Modes == nil || caps.Levels == nil || caps.TxRanges == nil {
		t.Fatalf("expected non-nil empty lists, got %+v", caps)
	}
	if caps.HasLevel(LevelStrength) {
		t.Fatalf("expected no STRENGTH level")
	}

	var missing *Capabilities
	if missing.HasLevel(LevelStrength) {
		t.Fatalf("nil capabilities must not report levels")
	}
}
