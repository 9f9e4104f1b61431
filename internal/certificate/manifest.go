package certificate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stanstork/aegis-api/internal/strategy"
)

// ColumnAction records the strategy applied to one column of a record.
type ColumnAction struct {
	Column   string        `json:"column"`
	Strategy strategy.Kind `json:"strategy"`
}

// Entry is one processed record.
type Entry struct {
	RecordID string         `json:"record_id"`
	Columns  []ColumnAction `json:"columns"`
}

// Manifest is the audit payload of a completed job. Every field is fixed by
// the time the job commits, which keeps generated artifacts reproducible.
type Manifest struct {
	JobID         string    `json:"job_id"`
	Organization  string    `json:"organization,omitempty"`
	Operator      string    `json:"operator,omitempty"`
	Database      string    `json:"database"`
	Table         string    `json:"table"`
	KeyColumn     string    `json:"key_column"`
	PolicyVersion string    `json:"policy_version"`
	CompletedAt   time.Time `json:"completed_at"`
	Records       []Entry   `json:"records"`
	Preserved     []string  `json:"preserved_columns"`
}

// PreservedStatement is printed on every document.
func (m Manifest) PreservedStatement() string {
	msg := "Columns not listed with HASH, MASK or EMAIL_MASK were preserved unchanged"
	if len(m.Preserved) == 0 {
		return msg + "."
	}
	return msg + ": " + strings.Join(m.Preserved, ", ") + "."
}

// RecordIDs lists processed ids in manifest order.
func (m Manifest) RecordIDs() []string {
	ids := make([]string, 0, len(m.Records))
	for _, r := range m.Records {
		ids = append(ids, r.RecordID)
	}
	return ids
}

// Sealed is a manifest plus its digest and signature as written to the
// archive.
type Sealed struct {
	Manifest
	Digest    string `json:"sha256"`
	Signature string `json:"hmac_sha256,omitempty"`
	Statement string `json:"statement"`
}

func (m Manifest) canonical() ([]byte, error) {
	c := m
	c.CompletedAt = m.CompletedAt.UTC()
	c.Preserved = append([]string(nil), m.Preserved...)
	sort.Strings(c.Preserved)
	return json.Marshal(c)
}

// Seal computes the manifest digest and, when key is set, its HMAC.
func Seal(m Manifest, key []byte) (Sealed, error) {
	raw, err := m.canonical()
	if err != nil {
		return Sealed{}, fmt.Errorf("encode manifest: %w", err)
	}
	sum := sha256.Sum256(raw)
	s := Sealed{
		Manifest:  m,
		Digest:    hex.EncodeToString(sum[:]),
		Statement: m.PreservedStatement(),
	}
	if len(key) > 0 {
		mac := hmac.New(sha256.New, key)
		mac.Write(raw)
		s.Signature = hex.EncodeToString(mac.Sum(nil))
	}
	return s, nil
}

// Verify checks a sealed manifest against key.
func Verify(s Sealed, key []byte) bool {
	again, err := Seal(s.Manifest, key)
	if err != nil {
		return false
	}
	if again.Digest != s.Digest {
		return false
	}
	return hmac.Equal([]byte(again.Signature), []byte(s.Signature))
}
