package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

// ErrAnalyzeTimeout is returned when Gemini does not answer before the deadline.
var ErrAnalyzeTimeout = errors.New("gemini analysis timed out")

const systemInstruction = "You are a JSON API that extracts financial facts from e-mails. " +
	"You MUST respond with ONLY valid JSON, no preamble or explanation. Output a single JSON object."

// Analyze sends prompt to Gemini and returns the raw text answer. The caller
// owns prompt construction and response validation; Analyze only constrains
// the answer to the financial record schema.
func (c *Client) Analyze(ctx context.Context, prompt string) (string, error) {
	if c.generator == nil {
		return "", fmt.Errorf("%w: gemini client not initialized", models.ErrCollaboratorUnavailable)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	temp := float32(0.1)
	config := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(1024),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   recordSchema(),
	}

	resp, err := c.generator.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", models.ErrCollaboratorUnavailable, ErrAnalyzeTimeout)
		}
		logger.Log.Warn().Err(err).Str("model", c.model).Msg("Gemini API call failed")
		return "", fmt.Errorf("%w: gemini API call failed: %w", models.ErrCollaboratorUnavailable, err)
	}

	if resp == nil {
		return "", errors.New("no response from Gemini")
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("no text content in Gemini response")
	}

	logger.Log.Debug().Str("model", c.model).Int("response_len", len(text)).Msg("Gemini analysis received")
	return text, nil
}

func recordSchema() *genai.Schema {
	docTypes := make([]string, 0, len(models.DocumentTypes))
	for _, dt := range models.DocumentTypes {
		docTypes = append(docTypes, string(dt))
	}
	statuses := make([]string, 0, len(models.Statuses))
	for _, st := range models.Statuses {
		statuses = append(statuses, string(st))
	}
	date := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc + " in YYYY-MM-DD, empty if absent"}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"document_type": {Type: genai.TypeString, Enum: docTypes},
			"status":        {Type: genai.TypeString, Enum: statuses},
			"counterparty":  {Type: genai.TypeString, Description: "Company or person on the other side"},
			"amount":        {Type: genai.TypeString, Description: "Total amount as a plain decimal, empty if absent"},
			"currency":      {Type: genai.TypeString, Description: "ISO 4217 currency code"},
			"issue_date":    date("Issue date"),
			"due_date":      date("Due date"),
			"start_date":    date("Service start date"),
			"description":   {Type: genai.TypeString, Description: "One line summary"},
			"confidence":    {Type: genai.TypeNumber, Description: "Confidence score between 0 and 1"},
			"anomalies": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"document_type", "status", "confidence"},
	}
}
