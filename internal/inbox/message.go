package inbox

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// envelope carries what the IMAP server reported alongside the raw message.
type envelope struct {
	uid          uint32
	messageID    string
	subject      string
	from         string
	internalDate time.Time
}

// parseMessage decodes a raw RFC 5322 message into a RawMessage. Server
// envelope values fill in anything the headers lack.
func parseMessage(raw []byte, fallback envelope) (models.RawMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return models.RawMessage{}, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := models.RawMessage{
		ID:      firstNonEmpty(env.GetHeader("Message-Id"), fallback.messageID),
		Subject: firstNonEmpty(env.GetHeader("Subject"), fallback.subject),
		From:    firstNonEmpty(env.GetHeader("From"), fallback.from),
		Body:    messageBody(env.Text, env.HTML),
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("imap-%d", fallback.uid)
	}

	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = d.UTC()
	} else if !fallback.internalDate.IsZero() {
		msg.Date = fallback.internalDate.UTC()
	}
	return msg, nil
}

// messageBody prefers the text part. HTML is rendered when there is no text,
// and HTML tables are appended as "label: value" lines otherwise, since
// totals in HTML receipts often only survive in table cells.
func messageBody(text, html string) string {
	text = strings.TrimSpace(text)
	if html == "" {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return text
	}
	if text == "" {
		return htmlToText(doc)
	}
	if tables := tableText(doc); tables != "" {
		return text + "\n" + tables
	}
	return text
}

func htmlToText(doc *goquery.Document) string {
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	doc.Find("p, div, tr, li, table, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return compactLines(doc.Text())
}

func tableText(doc *goquery.Document) string {
	var lines []string
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			if c := normalizeSpaces(cell.Text()); c != "" {
				cells = append(cells, c)
			}
		})
		switch len(cells) {
		case 0:
		case 2:
			lines = append(lines, strings.TrimSuffix(cells[0], ":")+": "+cells[1])
		default:
			lines = append(lines, strings.Join(cells, " | "))
		}
	})
	return strings.Join(lines, "\n")
}

func compactLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = normalizeSpaces(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
