package utils

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// ShortHash abbreviates a block hash for display.
// Examples:
//   - 0x4f1c...(64 hex)...9a0b -> "0x4f1c…9a0b"
//   - "" -> ""
//   - "abc" -> "abc"
func ShortHash(hash string) string {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return ""
	}
	if !strings.HasPrefix(hash, "0x") && len(hash) == 2*common.HashLength {
		hash = "0x" + hash
	}
	if len(hash) <= 14 {
		return hash
	}
	return hash[:6] + "…" + hash[len(hash)-4:]
}

// DisplayName upper-cases the first letter of a client or network id.
func DisplayName(id string) string {
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError {
		return id
	}
	return string(unicode.ToUpper(r)) + id[size:]
}

// FormatSeconds renders seconds into a slot with one decimal, or "-" when the
// observation carried no timing.
func FormatSeconds(secs float64, timed bool) string {
	if !timed {
		return "-"
	}
	return fmt.Sprintf("%.1fs", secs)
}
