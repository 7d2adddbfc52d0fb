package domain

import (
	"encoding/hex"
	"strings"
)

// IDFromPrefix renders the canonical contact id for a public key prefix.
func IDFromPrefix(prefix [6]byte) string {
	return "!" + hex.EncodeToString(prefix[:])
}

// UnknownSelfID is reported before the handshake has delivered a public key.
const UnknownSelfID = "!unknown"

// CanonicalID extracts the canonical "!<12 hex>" contact id from any of the
// accepted spellings: the canonical form itself, an "mc:" tagged id, a bare
// hex key of at least twelve digits, or any of those with colon separators.
// The second return is false when the value is not key-like; such values may
// still resolve as contact names.
func CanonicalID(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "mc:")
	value = strings.TrimPrefix(value, "!")
	value = strings.ReplaceAll(value, ":", "")

	if len(value) < 12 || !isHex(value[:12]) {
		return "", false
	}

	return "!" + value[:12], true
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
