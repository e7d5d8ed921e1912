package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pauljones0/free-games-bot/internal/models"
)

const maxTaglineLen = 200

type Client struct {
	client *genai.Client
	model  string
}

type taglineResult struct {
	Tagline string `json:"tagline"`
}

func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil // Return nil client if no key provided
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{client: client, model: modelID}, nil
}

// Tagline returns a one-sentence pitch for a giveaway. A nil client returns "".
func (c *Client) Tagline(ctx context.Context, n models.Notification) (string, error) {
	if c == nil || c.client == nil {
		return "", nil // Graceful degradation
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.4),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"tagline": {
					Type:        genai.TypeString,
					Description: "One enthusiastic sentence (max 25 words) telling players why this free game is worth claiming. No prices, no dates, no hashtags.",
				},
			},
			Required: []string{"tagline"},
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(buildPrompt(n)), config)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	return parseTagline(resp.Text())
}

func buildPrompt(n models.Notification) string {
	return fmt.Sprintf(`
Write a tagline for this free game giveaway:
Title: %q
Store: %q
Publisher: %q
Description: %q

Output JSON adhering to the schema.
`, n.Title, n.Source, n.Publisher, n.Description)
}

func parseTagline(raw string) (string, error) {
	// Clean up potential markdown formatting just in case
	jsonStr := strings.TrimSpace(raw)
	jsonStr = strings.TrimPrefix(jsonStr, "```json")
	jsonStr = strings.TrimPrefix(jsonStr, "```")
	jsonStr = strings.TrimSuffix(jsonStr, "```")
	if strings.TrimSpace(jsonStr) == "" {
		return "", fmt.Errorf("no text part in response")
	}

	var result taglineResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}

	tagline := strings.TrimSpace(result.Tagline)
	if r := []rune(tagline); len(r) > maxTaglineLen {
		tagline = string(r[:maxTaglineLen-1]) + "…"
	}
	return tagline, nil
}
