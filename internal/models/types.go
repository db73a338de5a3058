package models

import (
	"encoding/json"

	"github.com/avvvet/mute-api/internal/items"
	"github.com/avvvet/mute-api/internal/llm"
	"github.com/avvvet/mute-api/internal/prompts"
)

// Chat request from the UI (HTTP body or NATS payload)
type ChatRequest struct {
	Messages []ConversationMessage `json:"messages"`
	UseTools *bool                 `json:"useTools,omitempty"`
}

// ToolsRequested defaults to true when the caller does not say otherwise.
func (r *ChatRequest) ToolsRequested() bool {
	return r.UseTools == nil || *r.UseTools
}

// ConversationMessage is one turn of the caller-supplied history. Content is
// either a JSON string or an array of content blocks.
type ConversationMessage struct {
	Role    string          `json:"role"` // "user" or "assistant"
	Content json.RawMessage `json:"content"`
}

// Chat response to the UI
type ChatResponse struct {
	Success               bool                      `json:"success"`
	Message               string                    `json:"message"`
	ToolsUsed             bool                      `json:"toolsUsed"`
	Actions               []prompts.ActionDirective `json:"actions"`
	Items                 []items.AggregatedItem    `json:"items"`
	IterationLimitReached bool                      `json:"iterationLimitReached,omitempty"`
	FullResponse          *llm.Response             `json:"fullResponse,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// Roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Error codes carried on NATS replies
const (
	ErrorLLMFailed  = "LLM_API_FAILED"
	ErrorParseError = "PARSE_ERROR"
	ErrorValidation = "VALIDATION_ERROR"
)
