package logutil

import "strings"

// maxErrorLen bounds error text persisted alongside sync status.
const maxErrorLen = 1000

// SanitizeForLog removes newlines and control characters from user-provided
// or remote-provided strings so they cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ErrorText renders err for storage: sanitized and cut to a bounded length.
// A nil error yields "".
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	s := SanitizeForLog(err.Error())
	if len(s) > maxErrorLen {
		// Cut on a rune boundary.
		cut := maxErrorLen
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
