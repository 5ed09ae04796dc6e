package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/yelinaung/finmail/internal/models"
)

type mockCompleter struct {
	resp goopenai.ChatCompletionResponse
	err  error
	got  goopenai.ChatCompletionRequest
}

func (m *mockCompleter) CreateChatCompletion(_ context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	m.got = req
	return m.resp, m.err
}

func answer(content string) goopenai.ChatCompletionResponse {
	return goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{
			{Message: goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient(" ")
	require.Error(t, err)

	c, err := NewClient("sk-test", WithModel("gpt-4o"))
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", c.Model())
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("returns trimmed answer", func(t *testing.T) {
		t.Parallel()
		m := &mockCompleter{resp: answer("  {\"confidence\":0.8}\n")}
		c := NewClientWithCompleter(m)

		got, err := c.Analyze(context.Background(), "prompt")
		require.NoError(t, err)
		require.Equal(t, `{"confidence":0.8}`, got)
		require.Equal(t, DefaultModel, m.got.Model)
		require.Len(t, m.got.Messages, 2)
		require.Equal(t, "prompt", m.got.Messages[1].Content)
		require.Equal(t, goopenai.ChatCompletionResponseFormatTypeJSONObject, m.got.ResponseFormat.Type)
	})

	t.Run("transport error is a collaborator failure", func(t *testing.T) {
		t.Parallel()
		c := NewClientWithCompleter(&mockCompleter{err: errors.New("429")})

		_, err := c.Analyze(context.Background(), "prompt")
		require.ErrorIs(t, err, models.ErrCollaboratorUnavailable)
	})

	t.Run("no choices", func(t *testing.T) {
		t.Parallel()
		c := NewClientWithCompleter(&mockCompleter{})

		_, err := c.Analyze(context.Background(), "prompt")
		require.Error(t, err)
	})

	t.Run("empty prompt", func(t *testing.T) {
		t.Parallel()
		c := NewClientWithCompleter(&mockCompleter{resp: answer("{}")})

		_, err := c.Analyze(context.Background(), "")
		require.Error(t, err)
	})
}

func TestAnalyze_HTTP(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req goopenai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"{\"document_type\":\"invoice\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c, err := NewClient("sk-test", WithModel("gpt-test"), WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	got, err := c.Analyze(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, `{"document_type":"invoice"}`, got)
}
