package app

import (
	"strings"
	"time"
)

// Version and BuildDate are stamped by the release linker flags; source
// builds report "dev" with no date.
var (
	Version   = "dev"
	BuildDate = ""
)

func BuildVersion() string {
	if v := strings.TrimSpace(Version); v != "" {
		return v
	}

	return "dev"
}

// BuildDateYMD reduces the stamped build date to its calendar day. Values
// that are not RFC3339 timestamps pass through untouched.
func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}

	return raw
}

// BuildVersionWithDate is the one-line identity logged at startup.
func BuildVersionWithDate() string {
	if date := BuildDateYMD(); date != "" {
		return BuildVersion() + " (" + date + ")"
	}

	return BuildVersion()
}
