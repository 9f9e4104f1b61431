package classifier

import (
	"strings"
	"unicode"

	"github.com/stanstork/aegis-api/internal/strategy"
)

// PolicyVersion identifies the rule table below. Bump it whenever a rule is
// added, removed or reordered; certificates quote it.
const PolicyVersion = "pii-policy/2024.2"

// TypeClass is a coarse grouping of declared column types.
type TypeClass string

const (
	ClassText     TypeClass = "text"
	ClassNumeric  TypeClass = "numeric"
	ClassTemporal TypeClass = "temporal"
	ClassBoolean  TypeClass = "boolean"
	ClassOther    TypeClass = "other"
)

// ColumnInfo is what a rule gets to look at.
type ColumnInfo struct {
	Name       string
	Type       string
	Tokens     []string
	Class      TypeClass
	PrimaryKey bool
}

// Rule is one row of the ordered decision list. The first matching rule
// decides the strategy.
type Rule struct {
	Name     string
	Strategy strategy.Kind
	Reason   string
	Match    func(ColumnInfo) bool
}

var (
	secretWords = []string{"password", "passwd", "secret", "passport", "token", "apikey"}
	secretExact = set("ssn", "pwd", "pin", "cvv", "cvc", "iban", "tin", "nin", "otp")
	secretPairs = [][2]string{
		{"social", "security"}, {"credit", "card"}, {"card", "number"},
		{"api", "key"}, {"private", "key"}, {"national", "id"}, {"tax", "id"},
		{"license", "number"}, {"account", "number"},
	}

	contactWords = set(
		"phone", "mobile", "cell", "tel", "telephone", "fax", "msisdn",
		"address", "addr", "street", "city", "zip", "zipcode", "postcode", "postal",
		"name", "firstname", "lastname", "fullname", "surname", "forename", "username", "nickname",
		"dob", "birthday", "birthdate", "birth", "gender", "ip", "bio", "notes", "comment",
	)

	temporalWords = set("created", "updated", "modified", "timestamp", "date", "time", "at", "on")

	metricWords = set(
		"amount", "price", "total", "subtotal", "balance", "cost", "revenue", "currency",
		"qty", "quantity", "count", "score", "rate", "fee", "discount", "salary", "weight",
	)

	structuralWords = set("status", "state", "flag", "type", "kind", "version", "enabled", "active", "deleted", "sort", "position")
)

// Policy is the ordered rule table. Order is significant.
var Policy = []Rule{
	{
		Name:     "row-identifier",
		Strategy: strategy.Ignore,
		Reason:   "primary key used to target rows",
		Match:    func(c ColumnInfo) bool { return c.PrimaryKey },
	},
	{
		Name:     "secret",
		Strategy: strategy.Hash,
		Reason:   "credential/identifier-like name",
		Match: func(c ColumnInfo) bool {
			if !writableText(c) {
				return false
			}
			for _, tok := range c.Tokens {
				if secretExact[tok] {
					return true
				}
				for _, w := range secretWords {
					if strings.Contains(tok, w) {
						return true
					}
				}
			}
			return hasPair(c.Tokens, secretPairs)
		},
	},
	{
		Name:     "email",
		Strategy: strategy.EmailMask,
		Reason:   "email address name or type",
		Match: func(c ColumnInfo) bool {
			if strings.Contains(strings.ToLower(c.Type), "email") {
				return true
			}
			if !writableText(c) {
				return false
			}
			for _, tok := range c.Tokens {
				if tok == "mail" || strings.HasSuffix(tok, "email") {
					return true
				}
			}
			return false
		},
	},
	{
		Name:     "contact",
		Strategy: strategy.Mask,
		Reason:   "phone, address or personal free-text field",
		Match: func(c ColumnInfo) bool {
			if !writableText(c) {
				return false
			}
			for _, tok := range c.Tokens {
				if contactWords[tok] || strings.HasSuffix(tok, "phone") || strings.HasSuffix(tok, "name") {
					return true
				}
			}
			return false
		},
	},
	{
		Name:     "temporal",
		Strategy: strategy.Preserve,
		Reason:   "timestamp required for business records",
		Match: func(c ColumnInfo) bool {
			if c.Class == ClassTemporal {
				return true
			}
			last := c.Tokens[len(c.Tokens)-1]
			return temporalWords[last] && len(c.Tokens) > 1 || last == "timestamp"
		},
	},
	{
		Name:     "foreign-key",
		Strategy: strategy.Preserve,
		Reason:   "reference to another record",
		Match: func(c ColumnInfo) bool {
			n := len(c.Tokens)
			return n > 1 && (c.Tokens[n-1] == "id" || c.Tokens[n-1] == "fk" || c.Tokens[n-1] == "uuid")
		},
	},
	{
		Name:     "business-metric",
		Strategy: strategy.Preserve,
		Reason:   "monetary or business metric",
		Match: func(c ColumnInfo) bool {
			if strings.Contains(strings.ToLower(c.Type), "money") {
				return true
			}
			for _, tok := range c.Tokens {
				if metricWords[tok] {
					return true
				}
			}
			return false
		},
	},
	{
		Name:     "structural",
		Strategy: strategy.Ignore,
		Reason:   "internal flag or structural field",
		Match: func(c ColumnInfo) bool {
			if c.Class == ClassBoolean {
				return true
			}
			if first := c.Tokens[0]; first == "is" || first == "has" || first == "can" {
				return true
			}
			for _, tok := range c.Tokens {
				if structuralWords[tok] {
					return true
				}
			}
			return false
		},
	},
}

// fallbackRule applies when nothing in Policy matched.
var fallbackRule = Rule{Name: "default", Strategy: strategy.Ignore, Reason: "no PII pattern matched"}

// Evaluate runs the policy for one column.
func Evaluate(name, dataType string, primaryKey bool) (Rule, ColumnInfo) {
	info := ColumnInfo{
		Name:       name,
		Type:       dataType,
		Tokens:     Tokenize(name),
		Class:      ClassifyType(dataType),
		PrimaryKey: primaryKey,
	}
	if len(info.Tokens) == 0 {
		return fallbackRule, info
	}
	for _, rule := range Policy {
		if rule.Match(info) {
			return rule, info
		}
	}
	return fallbackRule, info
}

// Tokenize splits a column name on non-alphanumerics and camelCase
// boundaries and lowercases the parts.
func Tokenize(name string) []string {
	var (
		tokens []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return tokens
}

// ClassifyType maps a declared SQL type onto a TypeClass.
func ClassifyType(dataType string) TypeClass {
	t := strings.ToLower(dataType)
	switch {
	case t == "":
		return ClassOther
	case strings.Contains(t, "bool"):
		return ClassBoolean
	case strings.Contains(t, "timestamp"), strings.Contains(t, "date"),
		strings.Contains(t, "time"), strings.Contains(t, "interval"):
		return ClassTemporal
	case strings.Contains(t, "char"), strings.Contains(t, "text"), strings.Contains(t, "clob"),
		strings.Contains(t, "string"), strings.Contains(t, "email"):
		return ClassText
	case strings.Contains(t, "int"), strings.Contains(t, "numeric"), strings.Contains(t, "decimal"),
		strings.Contains(t, "real"), strings.Contains(t, "double"), strings.Contains(t, "float"),
		strings.Contains(t, "money"), strings.Contains(t, "serial"):
		return ClassNumeric
	}
	return ClassOther
}

// writableText reports whether a column can hold the textual output of a
// mutating strategy.
func writableText(c ColumnInfo) bool {
	return c.Class == ClassText || c.Class == ClassOther
}

func hasPair(tokens []string, pairs [][2]string) bool {
	for i := 0; i+1 < len(tokens); i++ {
		for _, p := range pairs {
			if tokens[i] == p[0] && tokens[i+1] == p[1] {
				return true
			}
		}
	}
	return false
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
