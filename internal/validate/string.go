// Package validate provides input validation for search queries and
// operator-supplied configuration values.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// MaxQueryLength is the longest accepted search query, in characters.
const MaxQueryLength = 512

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MaxLength     int  // Maximum length in runes (0 = no maximum)
	AllowEmpty    bool // Whether empty strings are allowed
	TrimSpace     bool // Whether to trim whitespace before validation
	RejectControl bool // Whether control characters other than whitespace are rejected
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}

	// Count characters, not bytes
	length := utf8.RuneCountInString(s)
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.RejectControl {
		for _, r := range s {
			if unicode.IsControl(r) && !unicode.IsSpace(r) {
				return "", fmt.Errorf("%w: control character %U", ErrInvalidCharacters, r)
			}
		}
	}

	return s, nil
}

// NormalizeQuery trims and lowercases a raw query. The same form is used for
// the quota key, the search log and the lexical query.
func NormalizeQuery(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Query normalizes and validates a search query. A query that is empty after
// trimming returns ErrEmpty; longer than MaxQueryLength returns ErrStringTooLong.
func Query(raw string) (string, error) {
	return String(NormalizeQuery(raw), StringConstraints{
		MaxLength:     MaxQueryLength,
		RejectControl: true,
	})
}
