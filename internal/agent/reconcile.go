package agent

import "github.com/flowdeck/flowdeck/pkg/models"

// reconcileMessages removes duplicate tool-call and tool-result parts from a
// message history. History reconstruction can duplicate entries when a chat
// is reloaded mid-execution; the model rejects a turn containing the same
// tool-call id twice.
//
// A single pass walks every structured part, tracking seen call ids and seen
// result ids separately. The first occurrence of an id is kept in place;
// later occurrences are dropped. After reconciliation each tool-call id and
// each tool-result id appears at most once. A message left with no parts is
// dropped entirely.
func reconcileMessages(history []*models.Message) []*models.Message {
	seenCalls := make(map[string]struct{})
	seenResults := make(map[string]struct{})
	out := make([]*models.Message, 0, len(history))

	for _, msg := range history {
		if msg == nil {
			continue
		}
		kept := make([]models.Part, 0, len(msg.Parts))
		dropped := false
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartToolCall:
				if part.ToolCall == nil || part.ToolCall.ID == "" {
					kept = append(kept, part)
					continue
				}
				if _, ok := seenCalls[part.ToolCall.ID]; ok {
					dropped = true
					continue
				}
				seenCalls[part.ToolCall.ID] = struct{}{}
				kept = append(kept, part)
			case models.PartToolResult:
				if part.ToolResult == nil || part.ToolResult.ToolCallID == "" {
					kept = append(kept, part)
					continue
				}
				if _, ok := seenResults[part.ToolResult.ToolCallID]; ok {
					dropped = true
					continue
				}
				seenResults[part.ToolResult.ToolCallID] = struct{}{}
				kept = append(kept, part)
			default:
				kept = append(kept, part)
			}
		}
		if len(kept) == 0 && len(msg.Parts) > 0 {
			continue
		}
		if !dropped {
			out = append(out, msg)
			continue
		}
		copied := *msg
		copied.Parts = kept
		out = append(out, &copied)
	}
	return out
}

// truncateHistory keeps the most recent limit messages.
func truncateHistory(history []*models.Message, limit int) []*models.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// toCompletionMessages converts persisted chat messages into model-turn
// format. An assistant message carrying tool calls expands into an assistant
// entry followed by a tool entry with the matching results.
func toCompletionMessages(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		text := msg.Text()
		calls := msg.ToolCalls()
		results := msg.ToolResults()

		if msg.Role != models.RoleAssistant {
			out = append(out, CompletionMessage{Role: string(msg.Role), Content: text})
			continue
		}

		out = append(out, CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})
		if len(results) > 0 {
			out = append(out, CompletionMessage{
				Role:        "tool",
				ToolResults: results,
			})
		}
	}
	return out
}
