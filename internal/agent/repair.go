package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// Repairer attempts to fix a malformed tool invocation. It either returns a
// corrected call or reports the call unrepairable; the loop converts the
// latter into a scoped error result, never a turn failure.
type Repairer interface {
	Repair(ctx context.Context, call models.ToolCall, schema json.RawMessage, cause error) (*models.ToolCall, error)
}

// ModelRepairer asks the model itself to correct invalid tool input given
// the schema and the validation failure.
type ModelRepairer struct {
	provider LLMProvider
	model    string
}

// NewModelRepairer builds a repairer backed by the given provider.
func NewModelRepairer(provider LLMProvider, model string) *ModelRepairer {
	return &ModelRepairer{provider: provider, model: model}
}

const repairSystem = `You fix malformed tool call arguments. You receive a tool name, its JSON Schema, the invalid arguments, and the validation error. Respond with ONLY the corrected JSON arguments object. If the arguments cannot be fixed, respond with exactly: UNREPAIRABLE`

func (r *ModelRepairer) Repair(ctx context.Context, call models.ToolCall, schema json.RawMessage, cause error) (*models.ToolCall, error) {
	if r.provider == nil {
		return nil, ErrUnrepairableToolCall
	}

	prompt := fmt.Sprintf(
		"Tool: %s\nSchema: %s\nInvalid arguments: %s\nValidation error: %v",
		call.Name, string(schema), string(call.Input), cause,
	)
	chunks, err := r.provider.Complete(ctx, &CompletionRequest{
		Model:     r.model,
		System:    repairSystem,
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("repair completion failed: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("repair stream failed: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" || strings.Contains(text, "UNREPAIRABLE") {
		return nil, ErrUnrepairableToolCall
	}
	fixed := extractJSONObject(text)
	if fixed == "" {
		return nil, ErrUnrepairableToolCall
	}
	repaired := call
	repaired.Input = json.RawMessage(fixed)
	return &repaired, nil
}

// extractJSONObject pulls the first balanced JSON object out of model text,
// tolerating prose or code fences around it.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}
