// Package claimcode generates short human-enterable codes for binding an
// anonymous device to a user account.
package claimcode

import (
	"crypto/rand"
	"fmt"
)

// Alphabet excludes characters that are easy to mis-transcribe (0/O, 1/I/L).
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultLength is the standard claim-code length.
const DefaultLength = 6

// Generate returns a random code of the given length drawn from Alphabet.
// Lengths below one fall back to DefaultLength.
func Generate(length int) (string, error) {
	if length < 1 {
		length = DefaultLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}

	return string(buf), nil
}
