// Package nmea generates and validates NMEA 0183 sentences for driving a
// marine-data server with synthetic sensor traffic.
package nmea

import (
	"fmt"
	"strings"
)

// Checksum computes the NMEA 0183 checksum of a sentence body: an 8-bit XOR
// of every byte between the leading delimiter and the trailing '*', rendered
// as two uppercase hex digits.
//
// The body must not include the leading '$'/'!' nor the '*' separator.
func Checksum(body string) string {
	var sum byte
	for i := range len(body) {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// Wrap seals a sentence body into a complete sentence: leading '$',
// trailing '*' and checksum.
func Wrap(body string) string {
	return "$" + body + "*" + Checksum(body)
}

// Valid reports whether s is a well-formed, checksummed NMEA 0183 sentence.
// Trailing CR/LF is tolerated. Validation reuses [Checksum] so a sentence
// produced by [Wrap] can never fail verification.
func Valid(s string) bool {
	s = strings.TrimRight(s, "\r\n")
	if len(s) < 4 {
		return false
	}
	if s[0] != '$' && s[0] != '!' {
		return false
	}

	starIdx := strings.LastIndexByte(s, '*')
	if starIdx == -1 || starIdx != len(s)-3 {
		return false
	}

	body := s[1:starIdx]
	return s[starIdx+1:] == Checksum(body)
}
