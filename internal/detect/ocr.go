package detect

import (
	"regexp"
	"strings"
)

var (
	nonMarkerChars = regexp.MustCompile(`[^A-Za-z0-9-]`)
	markerCodeRe   = regexp.MustCompile(`[A-Z0-9]{2,}-\d{2,}`)
	markerRunRe    = regexp.MustCompile(`[A-Z0-9]{3,}`)
)

// MarkerToken reduces one raw OCR fragment to an uppercase marker
// candidate: hull numbers, unit codes, tail markings. Prose and noise
// are rejected; the second return is false when nothing survives.
func MarkerToken(raw string) (string, bool) {
	token := nonMarkerChars.ReplaceAllString(strings.TrimSpace(raw), "")
	if token == "" {
		return "", false
	}
	token = strings.ToUpper(token)
	if !looksLikeMarker(token) {
		return "", false
	}
	return token, true
}

// looksLikeMarker accepts code-shaped tokens: a letter-digit pair joined
// by a hyphen ("AB-12"), an alphanumeric run containing a digit
// ("T72", "BTR80"), or a plain uppercase word of four or more letters.
func looksLikeMarker(token string) bool {
	if len(token) < 3 || allDigits(token) {
		return false
	}
	if markerCodeRe.MatchString(token) {
		return true
	}
	if markerRunRe.MatchString(token) && hasDigit(token) {
		return true
	}
	return len(token) >= 4 && hasLetter(token)
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}
