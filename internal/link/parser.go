package link

import (
	"strconv"
	"strings"
)

// statusKeywords maps each accepted keyword to the state it reports.
// Keywords start with distinct letters, so at most one can begin at any
// given position.
var statusKeywords = []struct {
	word  string
	state LightState
}{
	{"fault", LightFault},
	{"clear", LightOK},
	{"ok", LightOK},
}

const lightToken = "light"

// ParseLine decodes one trimmed line of device output.
//
// A line is accepted when it contains "light <n>" and one of the keywords
// fault, clear or ok, in either order and with any text around or between
// them. Matching is case-insensitive and does not require word boundaries,
// so "Light12: cleared" is accepted. The first position in the line where
// either phrasing starts decides the match; from there the last keyword (for
// "light <n> ... status") or the last light token (for "status ... light <n>")
// is taken.
//
// Lines that do not match, or whose light id is not a positive integer, are
// rejected.
func ParseLine(line string) (HardwareUpdate, bool) {
	lower := asciiLower(line)

	for i := 0; i < len(lower); i++ {
		if digits, end, ok := matchLight(lower, i); ok {
			if state, ok := lastKeyword(lower, end); ok {
				return newUpdate(digits, state)
			}
		}
		if state, end, ok := matchKeyword(lower, i); ok {
			if digits, ok := lastLight(lower, end); ok {
				return newUpdate(digits, state)
			}
		}
	}
	return HardwareUpdate{}, false
}

func newUpdate(digits string, state LightState) (HardwareUpdate, bool) {
	id, err := strconv.Atoi(digits)
	if err != nil || id < 1 {
		return HardwareUpdate{}, false
	}
	return HardwareUpdate{LightID: id, State: state}, true
}

// matchLight matches "light", optional whitespace and at least one digit
// starting at i. It returns the digits and the offset just past them.
func matchLight(s string, i int) (string, int, bool) {
	if !strings.HasPrefix(s[i:], lightToken) {
		return "", 0, false
	}
	j := i + len(lightToken)
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	start := j
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	if j == start {
		return "", 0, false
	}
	return s[start:j], j, true
}

// lastLight finds the last light token at or after from.
func lastLight(s string, from int) (string, bool) {
	for i := len(s) - len(lightToken); i >= from; i-- {
		if digits, _, ok := matchLight(s, i); ok {
			return digits, true
		}
	}
	return "", false
}

func matchKeyword(s string, i int) (LightState, int, bool) {
	for _, kw := range statusKeywords {
		if strings.HasPrefix(s[i:], kw.word) {
			return kw.state, i + len(kw.word), true
		}
	}
	return "", 0, false
}

// lastKeyword finds the last status keyword at or after from.
func lastKeyword(s string, from int) (LightState, bool) {
	for i := len(s) - 1; i >= from; i-- {
		if state, _, ok := matchKeyword(s, i); ok {
			return state, true
		}
	}
	return "", false
}

// asciiLower lowercases ASCII letters only, keeping byte offsets stable.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
