package chat

import "strings"

// maxNameLength is the documented upper bound on a member's display name.
const maxNameLength = 16

// ValidName reports whether name (already trimmed by the caller) satisfies
// the name ceremony's invariants: non-empty, printable ASCII alphanumeric,
// and at most maxNameLength code points. Duplicate names across currently
// joined members are deliberately NOT checked here — the reference protocol
// accepts duplicates.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLength {
		return false
	}
	for _, r := range name {
		if !isASCIIAlphanumeric(r) {
			return false
		}
	}
	return true
}

func isASCIIAlphanumeric(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	default:
		return false
	}
}

// CleanName trims surrounding whitespace and any trailing CR left over from
// a CRLF-terminated line, per the line codec's CR-stripping convention.
func CleanName(raw string) string {
	return strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
}
