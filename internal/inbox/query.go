package inbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/emersion/go-imap"
)

var errUnclosedGroup = errors.New("unclosed parenthesis")

type term struct {
	key    string
	values []string
}

// ParseQuery translates a search expression such as
//
//	subject:(invoice OR order) from:acme.example after:2024/03/01
//
// into IMAP search criteria. Grouped values are OR-ed; terms are AND-ed.
// Bare words search the full message text.
func ParseQuery(query string) (*imap.SearchCriteria, error) {
	terms, err := tokenize(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	for _, t := range terms {
		switch t.key {
		case "":
			criteria.Text = append(criteria.Text, t.values...)
		case "subject":
			addHeader(criteria, "Subject", t.values)
		case "from":
			addHeader(criteria, "From", t.values)
		case "to":
			addHeader(criteria, "To", t.values)
		case "after", "since":
			d, err := parseQueryDate(t.values)
			if err != nil {
				return nil, err
			}
			criteria.Since = d
		case "before":
			d, err := parseQueryDate(t.values)
			if err != nil {
				return nil, err
			}
			criteria.Before = d
		default:
			return nil, fmt.Errorf("unsupported search key %q", t.key)
		}
	}
	return criteria, nil
}

func addHeader(criteria *imap.SearchCriteria, name string, values []string) {
	if len(values) == 1 {
		criteria.Header.Add(name, values[0])
		return
	}
	leaves := make([]*imap.SearchCriteria, 0, len(values))
	for _, v := range values {
		leaf := imap.NewSearchCriteria()
		leaf.Header.Add(name, v)
		leaves = append(leaves, leaf)
	}
	criteria.Or = append(criteria.Or, anyOf(leaves).Or[0])
}

// anyOf folds leaves into nested OR pairs. It needs at least two leaves.
func anyOf(leaves []*imap.SearchCriteria) *imap.SearchCriteria {
	rest := leaves[1]
	if len(leaves) > 2 {
		rest = anyOf(leaves[1:])
	}
	c := imap.NewSearchCriteria()
	c.Or = [][2]*imap.SearchCriteria{{leaves[0], rest}}
	return c
}

func parseQueryDate(values []string) (time.Time, error) {
	if len(values) != 1 {
		return time.Time{}, fmt.Errorf("expected one date, got %d", len(values))
	}
	for _, layout := range []string{"2006/01/02", "2006-01-02", "2006/1/2"} {
		if t, err := time.Parse(layout, values[0]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", values[0])
}

func tokenize(query string) ([]term, error) {
	var terms []term
	rs := []rune(strings.TrimSpace(query))

	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}

		start := i
		for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != ':' && rs[i] != '(' {
			i++
		}
		word := string(rs[start:i])

		if i >= len(rs) || rs[i] != ':' {
			if word == "" {
				return nil, fmt.Errorf("unexpected %q at offset %d", rs[i], i)
			}
			if word != "OR" {
				terms = append(terms, term{values: []string{unquote(word)}})
			}
			continue
		}

		i++ // ':'
		key := strings.ToLower(word)
		if i < len(rs) && rs[i] == '(' {
			end := indexRune(rs, ')', i)
			if end < 0 {
				return nil, errUnclosedGroup
			}
			values := splitGroup(string(rs[i+1 : end]))
			if len(values) == 0 {
				return nil, fmt.Errorf("empty group for %q", key)
			}
			terms = append(terms, term{key: key, values: values})
			i = end + 1
			continue
		}

		start = i
		if i < len(rs) && rs[i] == '"' {
			end := indexRune(rs, '"', i+1)
			if end < 0 {
				return nil, errors.New("unclosed quote")
			}
			terms = append(terms, term{key: key, values: []string{string(rs[i+1 : end])}})
			i = end + 1
			continue
		}
		for i < len(rs) && !unicode.IsSpace(rs[i]) {
			i++
		}
		if start == i {
			return nil, fmt.Errorf("missing value for %q", key)
		}
		terms = append(terms, term{key: key, values: []string{string(rs[start:i])}})
	}
	return terms, nil
}

func splitGroup(group string) []string {
	var values []string
	for _, part := range strings.Fields(group) {
		if part == "OR" {
			continue
		}
		values = append(values, unquote(part))
	}
	return values
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func indexRune(rs []rune, r rune, from int) int {
	for j := from; j < len(rs); j++ {
		if rs[j] == r {
			return j
		}
	}
	return -1
}
