package classifier

import (
	"strings"

	re2 "github.com/wasilibs/go-re2"

	"github.com/stanstork/aegis-api/internal/strategy"
)

type contentPattern struct {
	name     string
	re       *re2.Regexp
	strategy strategy.Kind
	reason   string
}

type contentSampler struct {
	patterns []contentPattern
}

// Order matters: nine bare digits match both SSN and phone.
func newContentSampler() *contentSampler {
	return &contentSampler{patterns: []contentPattern{
		{
			name:     "email",
			re:       re2.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)*\.\w{2,}$`),
			strategy: strategy.EmailMask,
			reason:   "sampled values look like email addresses",
		},
		{
			name:     "credit-card",
			re:       re2.MustCompile(`^\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}$`),
			strategy: strategy.Hash,
			reason:   "sampled values look like card numbers",
		},
		{
			name:     "ssn",
			re:       re2.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`),
			strategy: strategy.Hash,
			reason:   "sampled values look like national identifiers",
		},
		{
			name:     "phone",
			re:       re2.MustCompile(`^\+?[\d\s().-]{9,20}$`),
			strategy: strategy.Mask,
			reason:   "sampled values look like phone numbers",
		},
	}}
}

// match returns the first pattern matched by a strict majority of the
// non-blank values.
func (s *contentSampler) match(values []string) (contentPattern, bool) {
	var nonBlank []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonBlank = append(nonBlank, v)
		}
	}
	if len(nonBlank) == 0 {
		return contentPattern{}, false
	}
	for _, p := range s.patterns {
		hits := 0
		for _, v := range nonBlank {
			if p.re.MatchString(v) {
				hits++
			}
		}
		if hits*2 > len(nonBlank) {
			return p, true
		}
	}
	return contentPattern{}, false
}
