// Package security holds input hardening for values that end up on disk.
package security

import "strings"

const maxFilenameLen = 128

// SanitizeFilename maps an untrusted identifier, such as a user id, onto a
// single safe path element. Runs of disallowed characters collapse to one
// underscore, and leading or trailing dots and underscores are trimmed so the
// result can never name a parent directory or a hidden file.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
