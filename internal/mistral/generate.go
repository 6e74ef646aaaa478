package mistral

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/feichai0017/paperless-mistral/internal/models"
)

// GenerateTitle asks the chat model for a title envelope over the
// assembled document context. A reply without a title is an error.
func (c *Client) GenerateTitle(ctx context.Context, prompt, input string) (*models.TitleResult, error) {
	raw, err := c.ChatJSON(ctx, prompt, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate title: %w", err)
	}

	var result models.TitleResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse title response %q: %w", clip(raw, 200), err)
	}
	if result.Title == "" {
		return nil, fmt.Errorf("missing title in response: %s", clip(raw, 200))
	}
	return &result, nil
}

// VerifyContent asks whether OCR text is garbage. The verdict has to
// parse; it is never guessed from a malformed reply.
func (c *Client) VerifyContent(ctx context.Context, prompt, text string) (*models.Verdict, error) {
	raw, err := c.ChatJSON(ctx, prompt, text)
	if err != nil {
		return nil, fmt.Errorf("failed to verify content: %w", err)
	}

	var envelope struct {
		IsGarbage *bool `json:"is_garbage"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse verification response %q: %w", clip(raw, 200), err)
	}
	if envelope.IsGarbage == nil {
		return nil, fmt.Errorf("missing is_garbage in response: %s", clip(raw, 200))
	}
	return &models.Verdict{IsGarbage: *envelope.IsGarbage}, nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
