package plate

import (
	"regexp"
	"strings"
)

const (
	// Length is the full plate length including the country prefix.
	Length = 7
	prefix = "RA"
	// minDigits is the minimum digit count in the 5-character tail.
	minDigits = 2
)

var platePattern = regexp.MustCompile(`^RA[A-Z0-9]{5}$`)

// Normalize strips spaces and dashes and uppercases a raw OCR string.
func Normalize(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	return strings.ToUpper(normalized)
}

// Validate extracts a plate from OCR text. The OCR often surrounds the
// plate with garbage, so the candidate is cut starting at the first "RA"
// occurrence. Accepted plates are exactly 7 characters, alphanumeric after
// the prefix, with at least 2 digits in the tail.
func Validate(text string) (string, bool) {
	normalized := Normalize(text)

	idx := strings.Index(normalized, prefix)
	if idx < 0 || len(normalized)-idx < Length {
		return "", false
	}
	candidate := normalized[idx : idx+Length]

	if !platePattern.MatchString(candidate) {
		return "", false
	}

	digits := 0
	for _, c := range candidate[len(prefix):] {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits < minDigits {
		return "", false
	}

	return candidate, true
}
