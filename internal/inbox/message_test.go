package inbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartInvoice = "From: Acme Billing <billing@acme.example>\r\n" +
	"To: ap@corp.example\r\n" +
	"Subject: Invoice #4471 from Acme Corp\r\n" +
	"Message-Id: <4471@acme.example>\r\n" +
	"Date: Tue, 20 Feb 2024 08:00:00 +0100\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find your invoice attached.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Please find your invoice attached.</p>" +
	"<table><tr><td>Amount due:</td><td>€250.00</td></tr>" +
	"<tr><td>Due date</td><td>2024-03-01</td></tr></table></body></html>\r\n" +
	"--b1--\r\n"

const htmlOnlyReceipt = "From: shop@store.example\r\n" +
	"Subject: Your receipt\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><head><style>p{color:red}</style></head><body>" +
	"<h1>Thanks!</h1><p>Total paid:<br>$42.10</p><script>track()</script></body></html>\r\n"

func TestParseMessage(t *testing.T) {
	t.Parallel()

	t.Run("multipart with html table", func(t *testing.T) {
		t.Parallel()
		msg, err := parseMessage([]byte(multipartInvoice), envelope{uid: 7})
		require.NoError(t, err)

		assert.Equal(t, "<4471@acme.example>", msg.ID)
		assert.Equal(t, "Invoice #4471 from Acme Corp", msg.Subject)
		assert.Equal(t, "Acme Billing <billing@acme.example>", msg.From)
		assert.Equal(t, time.Date(2024, 2, 20, 7, 0, 0, 0, time.UTC), msg.Date)
		assert.True(t, strings.HasPrefix(msg.Body, "Please find your invoice attached."))
		assert.Contains(t, msg.Body, "Amount due: €250.00")
		assert.Contains(t, msg.Body, "Due date: 2024-03-01")
	})

	t.Run("html only", func(t *testing.T) {
		t.Parallel()
		internal := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		msg, err := parseMessage([]byte(htmlOnlyReceipt), envelope{uid: 9, internalDate: internal})
		require.NoError(t, err)

		assert.Equal(t, "imap-9", msg.ID, "missing Message-Id falls back to the UID")
		assert.Equal(t, internal, msg.Date, "missing Date falls back to the internal date")
		assert.Contains(t, msg.Body, "Thanks!")
		assert.Contains(t, msg.Body, "$42.10")
	})

	t.Run("envelope fills missing headers", func(t *testing.T) {
		t.Parallel()
		raw := "Content-Type: text/plain\r\n\r\nAmount: $10.00\r\n"
		msg, err := parseMessage([]byte(raw), envelope{messageID: "<env@x>", subject: "Order 12", from: "a@b.example"})
		require.NoError(t, err)
		assert.Equal(t, "<env@x>", msg.ID)
		assert.Equal(t, "Order 12", msg.Subject)
		assert.Equal(t, "a@b.example", msg.From)
		assert.Equal(t, "Amount: $10.00", msg.Body)
	})
}

func TestMessageBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, text, html, want string
	}{
		{"text only", "  hello  ", "", "hello"},
		{"html without tables adds nothing", "hello", "<p>hello</p>", "hello"},
		{"wide table rows", "hi", "<table><tr><td>Item</td><td>Qty</td><td>Price</td></tr></table>", "hi\nItem | Qty | Price"},
		{"html rendered when text missing", "", "<div>Line one</div><div>Line   two</div>", "Line one\nLine two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, messageBody(tt.text, tt.html))
		})
	}
}
