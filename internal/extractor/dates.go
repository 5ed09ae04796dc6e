package extractor

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// Day-first slash dates are tried before month-first ones.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2/1/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
}

const datePattern = `(\d{4}-\d{1,2}-\d{1,2}|\d{4}/\d{1,2}/\d{1,2}|\d{1,2}/\d{1,2}/\d{4}|` +
	`[A-Za-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}|` +
	`\d{1,2}(?:st|nd|rd|th)?\s+[A-Za-z]{3,9}\.?,?\s+\d{4}|\d{1,2}-[A-Za-z]{3}-\d{4})`

var (
	dateTokenRe = regexp.MustCompile(`(?i)\b` + datePattern)
	ordinalRe   = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)

	dueDateRe   = regexp.MustCompile(`(?i)\b(?:due\s+date|due\s+on|due\s+by|due|pay\s+by|payable\s+by)\s*[:\-]?\s*` + datePattern)
	issueDateRe = regexp.MustCompile(`(?i)\b(?:issue\s+date|date\s+of\s+issue|issued\s+on|issued|invoice\s+date|statement\s+date|order\s+date|billing\s+date|date)\s*[:\-]?\s*` + datePattern)
	startDateRe = regexp.MustCompile(`(?i)\b(?:start\s+date|starts\s+on|service\s+start|period\s+start|period\s+from|start|from)\s*[:\-]?\s*` + datePattern)
)

// ParseDate parses the date formats commonly found in financial e-mails.
// It returns false for anything it cannot read unambiguously as a calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Replace(s, "Sept ", "Sep ", 1)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := mail.ParseDate(s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

type labeledDates struct {
	issue, due, start *time.Time
}

func (d labeledDates) any() bool {
	return d.issue != nil || d.due != nil || d.start != nil
}

// findDates extracts labeled dates. When no label matches, the first date
// token in the text is taken as the issue date.
func findDates(text string) labeledDates {
	var out labeledDates
	out.due = firstLabeled(text, dueDateRe, nil)
	out.issue = firstLabeled(text, issueDateRe, func(prefix string) bool {
		return strings.HasSuffix(strings.ToLower(strings.TrimSpace(prefix)), "due")
	})
	out.start = firstLabeled(text, startDateRe, nil)

	if !out.any() {
		for _, m := range dateTokenRe.FindAllString(text, -1) {
			if t, ok := ParseDate(m); ok {
				out.issue = &t
				break
			}
		}
	}
	return out
}

// firstLabeled returns the first parseable date captured by re. Matches whose
// preceding text satisfies skip are ignored.
func firstLabeled(text string, re *regexp.Regexp, skip func(prefix string) bool) *time.Time {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if skip != nil && skip(text[max(0, loc[0]-6):loc[0]]) {
			continue
		}
		if loc[2] < 0 {
			continue
		}
		if t, ok := ParseDate(text[loc[2]:loc[3]]); ok {
			return &t
		}
	}
	return nil
}
