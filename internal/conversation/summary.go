package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

const titleSystem = `Generate a short title for this conversation in a project management workspace. Respond with only the title: at most six words, no quotes, no trailing punctuation.`

const summarySystem = `Summarize this project management conversation so a teammate can catch up at a glance. Cover what was asked, what was done, and any open follow-ups. At most four sentences.`

// generateTitle asks the model for a chat title from the opening exchange.
func (m *Manager) generateTitle(ctx context.Context, userText, assistantText string) string {
	prompt := fmt.Sprintf("User: %s\nAssistant: %s", clip(userText, 2000), clip(assistantText, 2000))
	text, err := m.completeText(ctx, m.config.TitleModel, titleSystem, prompt, 64)
	if err != nil {
		m.config.Logger.Warn("title generation failed", "error", err)
		return ""
	}
	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if title == "" {
		return ""
	}
	const maxTitle = 120
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}

// maybeSummarize refreshes the rolling chat summary once enough messages
// have accumulated since the last one.
func (m *Manager) maybeSummarize(ctx context.Context, chat *models.Chat, req *Request) {
	history, err := m.store.GetMessages(ctx, chat.ID, req.UserID, m.config.HistoryLimit)
	if err != nil {
		m.config.Logger.Warn("summarization skipped, history load failed", "chat_id", chat.ID, "error", err)
		return
	}

	fresh := 0
	for _, msg := range history {
		if chat.LastSummaryAt.IsZero() || msg.CreatedAt.After(chat.LastSummaryAt) {
			fresh++
		}
	}
	if fresh < m.config.SummarizeEvery {
		return
	}

	var sb strings.Builder
	if chat.Summary != "" {
		sb.WriteString("Previous summary: ")
		sb.WriteString(chat.Summary)
		sb.WriteString("\n\n")
	}
	for _, msg := range history {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, clip(msg.Text(), 1000))
	}

	summary, err := m.completeText(ctx, m.config.TitleModel, summarySystem, sb.String(), 512)
	if err != nil {
		m.config.Logger.Warn("summarization failed", "chat_id", chat.ID, "error", err)
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}

	updated := *chat
	updated.Summary = summary
	updated.LastSummaryAt = time.Now()
	if err := m.store.SaveChat(ctx, &updated); err != nil {
		m.config.Logger.Warn("failed to save chat summary", "chat_id", chat.ID, "error", err)
	}
}

// completeText runs a plain, tool-free completion and collects the text.
func (m *Manager) completeText(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	chunks, err := m.provider.Complete(ctx, &agent.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
