package toolserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/flowdeck/flowdeck/internal/agent"
)

const maxToolNameLen = 64

// bridgedTool exposes one remote tool as an agent tool.
type bridgedTool struct {
	client *Client
	remote *RemoteTool
	name   string
}

func (t *bridgedTool) Name() string { return t.name }

func (t *bridgedTool) Description() string {
	desc := strings.TrimSpace(t.remote.Description)
	if desc == "" {
		return fmt.Sprintf("Remote tool %s.%s", t.client.config.ID, t.remote.Name)
	}
	return fmt.Sprintf("Remote tool %s.%s: %s", t.client.config.ID, t.remote.Name, desc)
}

func (t *bridgedTool) Schema() json.RawMessage {
	if len(t.remote.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.remote.InputSchema
}

func (t *bridgedTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	content, isError, err := t.client.CallTool(ctx, t.remote.Name, params)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: content, IsError: isError}, nil
}

// BridgeTools converts the cached tool lists of the given connected clients
// into agent tools. Names are sanitized and deduplicated across servers;
// output order is deterministic.
func BridgeTools(clients ...*Client) []agent.Tool {
	sorted := append([]*Client(nil), clients...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].config.ID < sorted[j].config.ID
	})

	used := make(map[string]struct{})
	var out []agent.Tool
	for _, client := range sorted {
		client.mu.RLock()
		tools := append([]*RemoteTool(nil), client.tools...)
		client.mu.RUnlock()
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		for _, remote := range tools {
			out = append(out, &bridgedTool{
				client: client,
				remote: remote,
				name:   safeToolName(client.config.ID, remote.Name, used),
			})
		}
	}
	return out
}

// safeToolName builds a provider-safe tool name from the server and tool
// names, hashing when the result collides or exceeds the length limit.
func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	name := sanitizePart(serverID) + "_" + sanitizePart(toolName)
	if len(name) > maxToolNameLen {
		name = hashTrim(name, serverID, toolName)
	}
	if _, taken := used[name]; taken {
		name = hashTrim(name+"_"+nameHash(serverID, toolName), serverID, toolName)
	}
	used[name] = struct{}{}
	return name
}

func sanitizePart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	pendingSep := false
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		} else {
			pendingSep = true
		}
	}
	if b.Len() == 0 {
		return "tool"
	}
	return b.String()
}

func nameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func hashTrim(name, serverID, toolName string) string {
	if len(name) <= maxToolNameLen {
		return name
	}
	suffix := "_" + nameHash(serverID, toolName)
	return name[:maxToolNameLen-len(suffix)] + suffix
}
