// Package toolserver connects remote tool servers to the agent runtime. A
// server speaks JSON-RPC 2.0 over HTTP: the client initializes, lists the
// server's tools once, and bridges each into an agent tool under a sanitized
// name. Bearer tokens come from a TokenSource that refreshes ahead of expiry.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const protocolVersion = "2024-11-05"

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	// ID is the stable identifier used in tool names and token storage.
	ID string `yaml:"id"`

	// URL is the JSON-RPC endpoint.
	URL string `yaml:"url"`

	// Timeout bounds a single HTTP round trip. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are sent on every request.
	Headers map[string]string `yaml:"headers"`
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RemoteTool is a tool advertised by a server's tools/list.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []*RemoteTool `json:"tools"`
}

// callToolResult is the wire shape of a tools/call response.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// Client is a JSON-RPC client for one tool server.
type Client struct {
	config ServerConfig
	tokens *TokenSource
	http   *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	tools  []*RemoteTool
	server serverInfo
}

// NewClient builds a client for one server. tokens may be nil for servers
// that need no authentication.
func NewClient(config ServerConfig, tokens *TokenSource, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		tokens: tokens,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With("tool_server", config.ID),
	}
}

// Connect performs the initialize handshake and caches the server's tool
// list. It must be called before Tools or CallTool.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "flowdeck",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w", c.config.ID, err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result from %s: %w", c.config.ID, err)
	}

	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	listed, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools on %s: %w", c.config.ID, err)
	}
	var tools listToolsResult
	if err := json.Unmarshal(listed, &tools); err != nil {
		return fmt.Errorf("parse tool list from %s: %w", c.config.ID, err)
	}

	c.mu.Lock()
	c.server = init.ServerInfo
	c.tools = tools.Tools
	c.mu.Unlock()

	c.logger.Info("tool server connected",
		"server", init.ServerInfo.Name,
		"protocol", init.ProtocolVersion,
		"tools", len(tools.Tools))
	return nil
}

// CallTool invokes a remote tool and returns its textual content.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	params, err := json.Marshal(map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", false, err
	}
	raw, err := c.call(ctx, "tools/call", json.RawMessage(params))
	if err != nil {
		return "", false, err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("parse tool result from %s: %w", c.config.ID, err)
	}

	var combined bytes.Buffer
	for _, item := range result.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteByte('\n')
		}
		combined.WriteString(item.Text)
	}
	if combined.Len() == 0 && len(result.Content) > 0 {
		// Non-text content goes to the model as raw JSON.
		payload, _ := json.Marshal(result.Content)
		return string(payload), result.IsError, nil
	}
	return combined.String(), result.IsError, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
	}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = encoded
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	_, err := c.post(ctx, jsonrpcRequest{JSONRPC: "2.0", Method: method})
	return err
}

func (c *Client) post(ctx context.Context, req jsonrpcRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
