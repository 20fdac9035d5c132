package rigctl

import "testing"

func TestParseHamlibVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{output: "rigctld Hamlib 4.5.5 2023-04-05T15:13:45Z SHA=6eecd3\n", want: "v4.5.5"},
		{output: "rigctld, Hamlib 3.3\n", want: "v3.3.0"},
		{output: "rigctld Hamlib 4\n", want: "v4.0.0"},
		{output: "rigctld(d) Hamlib v4.6.2\r\n", want: "v4.6.2"},
		{output: "command not found", want: ""},
	}

	for _, tt := range tests {
		if got := ParseHamlibVersion(tt.output); got != tt.want {
			t.Fatalf("ParseHamlibVersion(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestHamlibOutdated(t *testing.T) {
	if !HamlibOutdated("v3.3.0") {
		t.Fatalf("expected 3.3 to be outdated")
	}
	if HamlibOutdated("v4.0.0") || HamlibOutdated("v4.5.5") {
		t.Fatalf("expected 4.x to be current")
	}
	if HamlibOutdated("") {
		t.Fatalf("unknown version must not be reported as outdated")
	}
}
