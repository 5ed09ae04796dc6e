package extractor

import (
	"fmt"
	"strings"
	"unicode"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// Prompt input limits.
const (
	MaxPromptBodyLength    = 2000
	MaxPromptSubjectLength = 300
	MaxPromptSenderLength  = 200
)

// SanitizeForPrompt strips characters that could break prompt structure and
// caps the result at maxLength runes. Line breaks survive so tables in the
// body keep their shape.
func SanitizeForPrompt(input string, maxLength int) string {
	input = strings.ReplaceAll(input, "```", "'''")
	input = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, input)

	lines := strings.Split(input, "\n")
	kept := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, line)
	}
	input = strings.TrimSpace(strings.Join(kept, "\n"))

	if runes := []rune(input); len(runes) > maxLength {
		input = strings.TrimSpace(string(runes[:maxLength]))
	}
	return input
}

// BuildPrompt renders the extraction prompt for one message.
func BuildPrompt(in Input) string {
	docTypes := make([]string, 0, len(models.DocumentTypes))
	for _, dt := range models.DocumentTypes {
		docTypes = append(docTypes, string(dt))
	}
	statuses := make([]string, 0, len(models.Statuses))
	for _, st := range models.Statuses {
		statuses = append(statuses, string(st))
	}

	hint := ""
	if in.TypeHint != "" && in.TypeHint != models.DocumentUnknown {
		hint = fmt.Sprintf("\nThe sender usually sends documents of type %q.", in.TypeHint)
	}

	subject := strings.ReplaceAll(SanitizeForPrompt(in.Subject, MaxPromptSubjectLength), "\n", " ")
	from := strings.ReplaceAll(SanitizeForPrompt(in.From, MaxPromptSenderLength), "\n", " ")

	return fmt.Sprintf(`Analyze the financial e-mail below and extract its key facts.
Return ONLY a JSON object with no additional text or markdown formatting.

Fields:
- document_type: one of %s
- status: one of %s
- counterparty: the company or person on the other side of the transaction
- amount: the total amount as a plain decimal string, e.g. "1234.50"; empty if absent
- currency: ISO 4217 code, e.g. "USD"; empty if absent
- issue_date, due_date, start_date: YYYY-MM-DD; empty if absent
- description: one line summary
- confidence: your confidence in the extraction between 0.0 and 1.0
- anomalies: list of short notes on anything inconsistent or suspicious
%s
Subject: %s
From: %s
Body:
<<<
%s
>>>`,
		strings.Join(docTypes, ", "),
		strings.Join(statuses, ", "),
		hint,
		subject,
		from,
		SanitizeForPrompt(in.Body, MaxPromptBodyLength),
	)
}
