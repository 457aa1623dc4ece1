// Package sluggen generates and validates short codes.
// Generators should be safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// Alphabet is the 62-symbol set every short code is drawn from.
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultLength is the length of generated codes.
	DefaultLength = 6

	MinCustomLength = 3
	MaxCustomLength = 15
)

// maxUnbiased is the largest multiple of len(Alphabet) that fits in a byte.
// Bytes at or above it are rejected so every symbol is equally likely.
const maxUnbiased = 256 - (256 % len(Alphabet))

var (
	ErrEmpty        = errors.New("code cannot be empty")
	ErrTooShort     = fmt.Errorf("code too short (minimum %d characters)", MinCustomLength)
	ErrTooLong      = fmt.Errorf("code too long (maximum %d characters)", MaxCustomLength)
	ErrInvalidChars = errors.New("code must contain only letters and digits")
)

// Generator generates short codes.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// base62Generator draws symbols uniformly from Alphabet.
type base62Generator struct {
	rand io.Reader
}

// NewBase62 returns a generator backed by crypto/rand.
func NewBase62() Generator {
	return &base62Generator{rand: rand.Reader}
}

// NewBase62FromReader returns a generator reading entropy from r.
// Intended for deterministic tests.
func NewBase62FromReader(r io.Reader) Generator {
	return &base62Generator{rand: r}
}

// Generate returns a random code of the given length.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

// ValidateCustom checks a caller-supplied code against the length and alphabet rules.
func ValidateCustom(code string) error {
	switch {
	case code == "":
		return ErrEmpty
	case len(code) < MinCustomLength:
		return ErrTooShort
	case len(code) > MaxCustomLength:
		return ErrTooLong
	}

	for i := 0; i < len(code); i++ {
		if !IsAlphabetChar(code[i]) {
			return ErrInvalidChars
		}
	}
	return nil
}

// IsAlphabetChar reports whether c belongs to Alphabet.
func IsAlphabetChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	default:
		return false
	}
}
