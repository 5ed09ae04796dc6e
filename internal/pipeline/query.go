package pipeline

import (
	"strings"
	"time"
)

// DefaultKeywords are the subject words that mark a financial message.
var DefaultKeywords = []string{"invoice", "order", "statement", "receipt"}

// Criteria narrows the inbox search for one run.
type Criteria struct {
	// Keywords replaces DefaultKeywords when non-empty.
	Keywords []string
	// From limits the search to one sender address or domain.
	From string
	// After limits the search to messages received on or after this day.
	After time.Time
}

// BuildQuery renders criteria in the search grammar understood by the inbox:
//
//	subject:(invoice OR order OR statement OR receipt) from:billing@acme.example after:2024/03/01
func BuildQuery(c Criteria) string {
	keywords := make([]string, 0, len(DefaultKeywords))
	src := c.Keywords
	if len(src) == 0 {
		src = DefaultKeywords
	}
	for _, k := range src {
		if k = cleanTerm(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	var b strings.Builder
	b.WriteString("subject:(")
	b.WriteString(strings.Join(keywords, " OR "))
	b.WriteString(")")

	if from := cleanTerm(c.From); from != "" {
		b.WriteString(" from:")
		b.WriteString(strings.ReplaceAll(from, " ", ""))
	}
	if !c.After.IsZero() {
		b.WriteString(" after:")
		b.WriteString(c.After.Format("2006/01/02"))
	}
	return b.String()
}

// cleanTerm strips characters that would break the query grammar.
func cleanTerm(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '"', ':':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
