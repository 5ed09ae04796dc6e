package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"gitlab.com/yelinaung/finmail/internal/models"
)

type mockGenerator struct {
	response *genai.GenerateContentResponse
	err      error

	gotModel  string
	gotPrompt string
	gotConfig *genai.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	m.gotModel = model
	m.gotConfig = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.gotPrompt = contents[0].Parts[0].Text
	}
	return m.response, m.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("returns response text and constrains output", func(t *testing.T) {
		t.Parallel()
		body := `{"document_type":"invoice","status":"payment_due","confidence":0.9}`
		gen := &mockGenerator{response: textResponse(body)}
		client := NewClientWithGenerator(gen, WithModel("test-model"))

		got, err := client.Analyze(context.Background(), "analyze this")
		require.NoError(t, err)
		require.Equal(t, body, got)
		require.Equal(t, "test-model", gen.gotModel)
		require.Equal(t, "analyze this", gen.gotPrompt)
		require.Equal(t, "application/json", gen.gotConfig.ResponseMIMEType)
		require.Contains(t, gen.gotConfig.ResponseSchema.Properties, "document_type")
		require.Contains(t, gen.gotConfig.ResponseSchema.Properties["status"].Enum, string(models.StatusPaymentDue))
	})

	t.Run("maps deadline to timeout", func(t *testing.T) {
		t.Parallel()
		gen := &mockGenerator{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)}
		client := NewClientWithGenerator(gen)

		_, err := client.Analyze(context.Background(), "p")
		require.ErrorIs(t, err, ErrAnalyzeTimeout)
		require.ErrorIs(t, err, models.ErrCollaboratorUnavailable)
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		t.Parallel()
		gen := &mockGenerator{err: errors.New("503")}
		client := NewClientWithGenerator(gen)

		_, err := client.Analyze(context.Background(), "p")
		require.ErrorIs(t, err, models.ErrCollaboratorUnavailable)
		require.Contains(t, err.Error(), "503")
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		client := NewClientWithGenerator(&mockGenerator{})

		_, err := client.Analyze(context.Background(), "p")
		require.Error(t, err)
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		client := NewClientWithGenerator(&mockGenerator{response: textResponse("")})

		_, err := client.Analyze(context.Background(), "p")
		require.Error(t, err)
	})

	t.Run("empty prompt", func(t *testing.T) {
		t.Parallel()
		client := NewClientWithGenerator(&mockGenerator{response: textResponse("{}")})

		_, err := client.Analyze(context.Background(), " ")
		require.Error(t, err)
	})

	t.Run("uninitialized client", func(t *testing.T) {
		t.Parallel()
		_, err := NewClientWithGenerator(nil).Analyze(context.Background(), "p")
		require.ErrorIs(t, err, models.ErrCollaboratorUnavailable)
	})
}
