package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/pkg/models"
)

// Titles are capped at 15 display characters so session lists stay narrow.
const maxTitleChars = 15

const titlePrompt = "Summarize the following conversation as a session title. " +
	"Reply with the title only, at most 15 characters, in the conversation's language."

// GenerateTitle asks a cheap model for a short session title and stores it.
// Called once per session, after the first completed turn; the caller treats
// failures as non-fatal.
func (s *Store) GenerateTitle(ctx context.Context, workerID, transcript string, client llm.Converser) (string, error) {
	req := &llm.Request{
		Messages: []llm.Message{{
			Role: models.RoleUser,
			Content: []models.ContentBlock{
				{Text: &models.TextBlock{Text: titlePrompt + "\n\n" + transcript}},
			},
		}},
		Inference: llm.InferenceConfig{MaxTokens: 100},
	}
	result, err := client.Converse(ctx, workerID, []string{llm.TitleModel}, req, 0)
	if err != nil {
		return "", fmt.Errorf("sessions: generate title %s: %w", workerID, err)
	}

	title := ""
	for _, block := range result.Response.Content {
		if block.Text != nil {
			title += block.Text.Text
		}
	}
	title = TrimTitle(title)
	if title == "" {
		return "", fmt.Errorf("sessions: model returned empty title for %s", workerID)
	}
	if err := s.UpdateTitle(ctx, workerID, title); err != nil {
		return "", err
	}
	return title, nil
}

// TrimTitle normalizes a generated title to at most 15 display characters.
func TrimTitle(title string) string {
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"'`))
	runes := []rune(title)
	if len(runes) > maxTitleChars {
		runes = runes[:maxTitleChars]
	}
	return strings.TrimSpace(string(runes))
}
