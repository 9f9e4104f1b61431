package scope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how target ids are expressed.
type Mode string

const (
	Single Mode = "SINGLE"
	Range  Mode = "RANGE"
	List   Mode = "LIST"
)

const (
	DefaultRangeCeiling = 2000
	DefaultListCeiling  = 500
)

// Bound is a range endpoint. Clients send it either as a JSON number or as a
// string, so both are accepted and validation happens in Resolve.
type Bound string

func (b *Bound) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Bound(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("range bound must be a number or string: %w", err)
	}
	*b = Bound(n.String())
	return nil
}

// Selection is the raw, unvalidated record selection from a request.
type Selection struct {
	Mode  Mode   `json:"mode"`
	ID    string `json:"id,omitempty"`
	Start Bound  `json:"start,omitempty"`
	End   Bound  `json:"end,omitempty"`
	List  string `json:"list,omitempty"`
	// IDs carries a list that was already split by the client.
	IDs []string `json:"-"`
}

// FromIDs builds a LIST selection from pre-split tokens.
func FromIDs(ids []string) Selection {
	return Selection{Mode: List, IDs: ids}
}

// Scope is a bounded, validated set of key values on one table.
type Scope struct {
	Table      string   `json:"table"`
	PrimaryKey string   `json:"primary_key"`
	IDs        []string `json:"target_ids"`
}

func (s Scope) Len() int { return len(s.IDs) }

type Limits struct {
	RangeCeiling int
	ListCeiling  int
}

// Resolver validates selections. It never touches a database.
type Resolver struct {
	limits Limits
}

func NewResolver(limits Limits) *Resolver {
	if limits.RangeCeiling <= 0 {
		limits.RangeCeiling = DefaultRangeCeiling
	}
	if limits.ListCeiling <= 0 {
		limits.ListCeiling = DefaultListCeiling
	}
	return &Resolver{limits: limits}
}

func (r *Resolver) Limits() Limits { return r.limits }

// Resolve turns a selection into a Scope on the given table and key column.
func (r *Resolver) Resolve(table, key string, sel Selection) (Scope, error) {
	mode := Mode(strings.ToUpper(strings.TrimSpace(string(sel.Mode))))
	if mode == "" && len(sel.IDs) > 0 {
		mode = List
	}

	var (
		ids []string
		err error
	)
	switch mode {
	case Single:
		ids, err = resolveSingle(sel.ID)
	case Range:
		ids, err = r.resolveRange(string(sel.Start), string(sel.End))
	case List:
		tokens := sel.IDs
		if len(tokens) == 0 {
			tokens = strings.Split(sel.List, ",")
		}
		ids, err = r.resolveList(tokens)
	default:
		return Scope{}, &Error{Kind: UnknownMode, Detail: fmt.Sprintf("mode %q", sel.Mode)}
	}
	if err != nil {
		return Scope{}, err
	}
	if len(ids) == 0 {
		return Scope{}, &Error{Kind: Empty, Detail: "no valid ids after parsing"}
	}
	return Scope{Table: table, PrimaryKey: key, IDs: ids}, nil
}

func resolveSingle(id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &Error{Kind: Empty, Detail: "id is blank"}
	}
	return []string{id}, nil
}

func (r *Resolver) resolveRange(rawStart, rawEnd string) ([]string, error) {
	start, err := strconv.ParseInt(strings.TrimSpace(rawStart), 10, 64)
	if err != nil {
		return nil, &Error{Kind: Invalid, Detail: fmt.Sprintf("start %q is not an integer", rawStart)}
	}
	end, err := strconv.ParseInt(strings.TrimSpace(rawEnd), 10, 64)
	if err != nil {
		return nil, &Error{Kind: Invalid, Detail: fmt.Sprintf("end %q is not an integer", rawEnd)}
	}
	if start > end {
		return nil, &Error{Kind: StartAfterEnd, Detail: fmt.Sprintf("start %d is greater than end %d", start, end)}
	}
	// start <= end, so the unsigned difference cannot wrap.
	span := uint64(end) - uint64(start)
	if span > uint64(r.limits.RangeCeiling) {
		return nil, &Error{Kind: OverLimit, Detail: fmt.Sprintf("range spans %d ids, limit is %d", span, r.limits.RangeCeiling)}
	}

	ids := make([]string, 0, span+1)
	for k := uint64(0); k <= span; k++ {
		ids = append(ids, strconv.FormatInt(start+int64(k), 10))
	}
	return ids, nil
}

func (r *Resolver) resolveList(tokens []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tokens))
	ids := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		ids = append(ids, tok)
	}
	if len(ids) > r.limits.ListCeiling {
		return nil, &Error{Kind: OverLimit, Detail: fmt.Sprintf("list has %d ids, limit is %d", len(ids), r.limits.ListCeiling)}
	}
	return ids, nil
}

// UnknownKey marks a table whose primary key could not be inferred.
const UnknownKey = "UNKNOWN"

// ResolveKey picks the column used to target rows. When the primary key is
// unknown the first declared column is used and degraded is true; callers are
// expected to log that.
func ResolveKey(primaryKey string, columns []string) (key string, degraded bool, err error) {
	if primaryKey != "" && primaryKey != UnknownKey {
		return primaryKey, false, nil
	}
	if len(columns) == 0 {
		return "", false, &Error{Kind: Invalid, Detail: "table has no columns to use as a key"}
	}
	return columns[0], true, nil
}
