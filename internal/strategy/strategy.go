package strategy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the anonymization action assigned to a column.
type Kind string

const (
	Hash      Kind = "HASH"
	Mask      Kind = "MASK"
	EmailMask Kind = "EMAIL_MASK"
	Preserve  Kind = "PRESERVE"
	Ignore    Kind = "IGNORE"
)

const (
	// MaskSuffixLen is the number of trailing characters MASK keeps visible.
	MaskSuffixLen = 4
	maskRune      = '*'
	redactedLocal = "redacted"
	saltBytes     = 16
)

// ErrUnknownStrategy is returned for strategy names outside the known set.
type ErrUnknownStrategy struct {
	Name string
}

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("unknown strategy %q", e.Name)
}

// Parse normalizes a strategy name coming from a request.
func Parse(name string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", ErrUnknownStrategy{Name: name}
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case Hash, Mask, EmailMask, Preserve, Ignore:
		return true
	}
	return false
}

// Mutates reports whether a column carrying this strategy enters the write set.
func (k Kind) Mutates() bool {
	switch k {
	case Hash, Mask, EmailMask:
		return true
	}
	return false
}

// NewSalt returns a fresh hex-encoded salt. Each job gets its own.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Apply maps a value through the strategy. A nil value stays nil for every
// strategy so that NULL columns are not turned into data.
func Apply(k Kind, value *string, salt string) (*string, error) {
	if !k.Valid() {
		return nil, ErrUnknownStrategy{Name: string(k)}
	}
	if value == nil {
		return nil, nil
	}
	var out string
	switch k {
	case Hash:
		out = HashValue(*value, salt)
	case Mask:
		out = MaskValue(*value)
	case EmailMask:
		out = MaskEmail(*value)
	case Preserve, Ignore:
		out = *value
	}
	return &out, nil
}

// HashValue returns the hex SHA-256 digest of value followed by salt.
func HashValue(value, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}

// MaskValue keeps the last MaskSuffixLen characters and masks the rest.
// Values no longer than the suffix are masked entirely.
func MaskValue(value string) string {
	n := utf8.RuneCountInString(value)
	if n <= MaskSuffixLen {
		return strings.Repeat(string(maskRune), n)
	}
	runes := []rune(value)
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range runes {
		if i < n-MaskSuffixLen {
			b.WriteRune(maskRune)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskEmail replaces the local part with a fixed token and keeps the domain.
func MaskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 0 || at == len(value)-1 {
		return redactedLocal
	}
	return redactedLocal + "@" + value[at+1:]
}
