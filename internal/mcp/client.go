// Package mcp connects to the remote NFT tool service over the Model Context
// Protocol (SSE transport, bearer-token auth).
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrNotConfigured is returned by Connect when no bearer token is set.
var ErrNotConfigured = errors.New("tool service token not configured")

// ToolDescriptor is a capability advertised by the tool service.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallResult is the normalised outcome of one tool call.
type CallResult struct {
	// Content is the serialised content array as returned by the service.
	Content json.RawMessage
	// Texts holds the payload of every text content entry, in order.
	Texts   []string
	IsError bool
}

// Session is one live connection to the tool service.
type Session interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error)
	Close() error
}

// Connector opens sessions against the tool service.
type Connector interface {
	Configured() bool
	Connect(ctx context.Context) (Session, error)
}

// Client dials the tool service. A new session is opened per request.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	impl       *mcpsdk.Client

	// transport is overridden in tests to stub the SSE dial.
	transport func() mcpsdk.Transport
}

func NewClient(endpoint, token, name, version string) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    token,
		impl:     mcpsdk.NewClient(&mcpsdk.Implementation{Name: name, Version: version}, nil),
	}
	c.httpClient = &http.Client{Transport: &bearerTransport{token: token, base: http.DefaultTransport}}
	c.transport = c.sseTransport
	return c
}

// Configured reports whether a token is available.
func (c *Client) Configured() bool {
	return c.token != ""
}

func (c *Client) Connect(ctx context.Context) (Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	cs, err := c.impl.Connect(ctx, c.transport(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tool service: %w", err)
	}
	return &session{cs: cs}, nil
}

func (c *Client) sseTransport() mcpsdk.Transport {
	return &mcpsdk.SSEClientTransport{Endpoint: c.endpoint, HTTPClient: c.httpClient}
}

// bearerTransport adds the Authorization header to every request of the
// SSE stream and its message posts.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

type session struct {
	cs *mcpsdk.ClientSession
}

func (s *session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var tools []ToolDescriptor
	for tool, err := range s.cs.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		tools = append(tools, toDescriptor(tool))
	}
	return tools, nil
}

func (s *session) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	result, err := s.cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, err)
	}
	return toCallResult(result)
}

func (s *session) Close() error {
	return s.cs.Close()
}

func toDescriptor(tool *mcpsdk.Tool) ToolDescriptor {
	if tool == nil {
		return ToolDescriptor{}
	}
	desc := ToolDescriptor{Name: tool.Name, Description: tool.Description}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil && string(raw) != "null" {
			desc.InputSchema = raw
		}
	}
	if len(desc.InputSchema) == 0 {
		desc.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return desc
}

func toCallResult(result *mcpsdk.CallToolResult) (*CallResult, error) {
	if result == nil {
		return &CallResult{Content: json.RawMessage("[]")}, nil
	}

	content := result.Content
	if content == nil {
		content = []mcpsdk.Content{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise tool result: %w", err)
	}

	out := &CallResult{Content: raw, IsError: result.IsError}
	for _, entry := range result.Content {
		if text, ok := entry.(*mcpsdk.TextContent); ok && text.Text != "" {
			out.Texts = append(out.Texts, text.Text)
		}
	}
	return out, nil
}
