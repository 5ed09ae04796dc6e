package inbox

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orValues flattens a nested OR chain of header criteria.
func orValues(t *testing.T, pair [2]*imap.SearchCriteria, header string) []string {
	t.Helper()
	values := []string{pair[0].Header.Get(header)}
	right := pair[1]
	if len(right.Or) == 0 {
		return append(values, right.Header.Get(header))
	}
	return append(values, orValues(t, right.Or[0], header)...)
}

func TestParseQuery(t *testing.T) {
	t.Parallel()

	t.Run("pipeline query", func(t *testing.T) {
		t.Parallel()
		c, err := ParseQuery("subject:(invoice OR order OR statement OR receipt) from:billing@acme.example after:2024/03/01")
		require.NoError(t, err)

		require.Len(t, c.Or, 1)
		assert.Equal(t, []string{"invoice", "order", "statement", "receipt"}, orValues(t, c.Or[0], "Subject"))
		assert.Equal(t, "billing@acme.example", c.Header.Get("From"))
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), c.Since)
	})

	t.Run("single value and bare words", func(t *testing.T) {
		t.Parallel()
		c, err := ParseQuery(`subject:invoice "overdue" before:2024-04-01 to:"ap@corp.example"`)
		require.NoError(t, err)
		assert.Equal(t, "invoice", c.Header.Get("Subject"))
		assert.Equal(t, "ap@corp.example", c.Header.Get("To"))
		assert.Equal(t, []string{"overdue"}, c.Text)
		assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), c.Before)
		assert.Empty(t, c.Or)
	})

	t.Run("two subjects", func(t *testing.T) {
		t.Parallel()
		c, err := ParseQuery("subject:(bill OR receipt)")
		require.NoError(t, err)
		require.Len(t, c.Or, 1)
		assert.Equal(t, []string{"bill", "receipt"}, orValues(t, c.Or[0], "Subject"))
	})

	t.Run("empty query matches everything", func(t *testing.T) {
		t.Parallel()
		c, err := ParseQuery("   ")
		require.NoError(t, err)
		assert.Empty(t, c.Header)
		assert.Empty(t, c.Or)
	})

	errs := map[string]string{
		"unclosed group": "subject:(invoice OR order",
		"empty group":    "subject:()",
		"unknown key":    "label:finance",
		"bad date":       "after:yesterday",
		"missing value":  "from: acme",
		"unclosed quote": `from:"acme`,
		"stray paren":    "(invoice)",
		"two dates":      "after:(2024/01/01 2024/02/01)",
	}
	for name, query := range errs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseQuery(query)
			require.Error(t, err)
		})
	}
}
