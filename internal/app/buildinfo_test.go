package app

import "testing"

func TestBuildVersionFallsBackToDev(t *testing.T) {
	oldVersion := Version
	t.Cleanup(func() { Version = oldVersion })

	Version = "  "
	if got := BuildVersion(); got != "dev" {
		t.Fatalf("version = %q", got)
	}
}

func TestBuildVersionWithDate(t *testing.T) {
	oldVersion, oldDate := Version, BuildDate
	t.Cleanup(func() { Version, BuildDate = oldVersion, oldDate })

	Version, BuildDate = "1.4.0", "2026-08-19T10:00:00Z"
	if got := BuildVersionWithDate(); got != "1.4.0 (2026-08-19)" {
		t.Fatalf("got %q", got)
	}

	BuildDate = ""
	if got := BuildVersionWithDate(); got != "1.4.0" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildDateYMD(t *testing.T) {
	oldDate := BuildDate
	t.Cleanup(func() { BuildDate = oldDate })

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"2026-08-19T10:00:00Z", "2026-08-19"},
		{"2026-08-19", "2026-08-19"},
		{"not-a-date", "not-a-date"},
	}
	for _, tc := range cases {
		BuildDate = tc.in
		if got := BuildDateYMD(); got != tc.want {
			t.Errorf("BuildDateYMD(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
