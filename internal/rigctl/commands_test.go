package rigctl

import "testing"

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{got: SetFrequency(7074000), want: "F 7074000"},
		{got: SetMode("usb", 2400), want: "M USB 2400"},
		{got: SetVFO("VFOB"), want: "V VFOB"},
		{got: SetPTT(true), want: "T 1"},
		{got: SetSplit(false), want: "S 0 VFOB"},
		{got: SetSplitFrequency(14200000), want: "I 14200000"},
		{got: SetRIT(-150), want: "J -150"},
		{got: SetXIT(0), want: "Z 0"},
		{got: GetStrength(), want: "l STRENGTH"},
	}

	for _, tc := range tests {
		if tc.got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, tc.got)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if !ParseBool("1") || ParseBool("0") || ParseBool("") {
		t.Fatalf("unexpected bool parsing")
	}
	if ParseInt("14074000") != 14074000 || ParseInt("-12") != -12 || ParseInt("x") != 0 || ParseInt("3.0") != 3 {
		t.Fatalf("unexpected int parsing")
	}
}
