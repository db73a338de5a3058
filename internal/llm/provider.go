package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Provider defines the interface for LLM providers
type Provider interface {
	CreateMessage(ctx context.Context, request *Request) (*Response, error)
}

// Stop reasons reported by the model
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Content block types
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Request represents the structured request to the LLM
type Request struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Tools     []Tool    `json:"tools,omitempty"`
	Messages  []Message `json:"messages"`
}

// Message is one conversational turn.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is the union of text, tool_use and tool_result blocks.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Raw is the caller-supplied block, forwarded verbatim when set.
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON writes Raw unchanged for passthrough blocks.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) > 0 {
		return b.Raw, nil
	}
	type plain ContentBlock
	return json.Marshal(plain(b))
}

// RawBlock wraps a caller-supplied block for verbatim forwarding. Type and
// Text are read for inspection; every other field stays in Raw.
func RawBlock(data json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ContentBlock{}, err
	}
	if head.Type == "" {
		return ContentBlock{}, errors.New("block has no type")
	}
	return ContentBlock{Type: head.Type, Text: head.Text, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Tool is a capability offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Response represents the model's reply
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *Usage         `json:"usage,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolUses returns the tool_use blocks of the reply in order.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

// Text joins every text block of the reply with newlines.
func (r *Response) Text() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == BlockText {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TextMessage builds a single-block text turn.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}
