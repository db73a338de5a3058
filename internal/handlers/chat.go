package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/items"
	"github.com/avvvet/mute-api/internal/llm"
	"github.com/avvvet/mute-api/internal/mcp"
	"github.com/avvvet/mute-api/internal/models"
	"github.com/avvvet/mute-api/internal/prompts"
)

const (
	// MaxToolResultChars bounds each tool result fed back to the model.
	MaxToolResultChars = 10000
	TruncationSuffix   = "... [truncated]"
)

// ValidationError marks a request the caller must fix.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type ChatOptions struct {
	Model         string
	MaxTokens     int
	MaxIterations int
}

// ChatHandler runs the tool-use conversation loop.
type ChatHandler struct {
	provider llm.Provider
	tools    mcp.Connector
	prompt   *prompts.SystemPrompt
	opts     ChatOptions
	logger   *zap.Logger
}

func NewChatHandler(provider llm.Provider, tools mcp.Connector, prompt *prompts.SystemPrompt, opts ChatOptions, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		provider: provider,
		tools:    tools,
		prompt:   prompt,
		opts:     opts,
		logger:   logger.Named("chat"),
	}
}

// ProcessChat runs one exchange. Only model failures are returned as errors;
// tool-service and individual tool failures are absorbed.
func (h *ChatHandler) ProcessChat(ctx context.Context, request *models.ChatRequest) (*models.ChatResponse, error) {
	history, err := h.convertHistory(request.Messages)
	if err != nil {
		return nil, err
	}

	var session mcp.Session
	var tools []llm.Tool
	if request.ToolsRequested() && h.tools != nil && h.tools.Configured() {
		session, tools = h.openTools(ctx)
	}
	if session != nil {
		defer func() {
			if err := session.Close(); err != nil {
				h.logger.Warn("Failed to close tool session", zap.Error(err))
			}
		}()
	}

	system, err := h.prompt.Build(len(tools) > 0)
	if err != nil {
		return nil, err
	}

	conversation := append([]llm.Message(nil), history...)
	response, err := h.callModel(ctx, system, tools, conversation)
	if err != nil {
		return nil, err
	}

	aggregator := items.NewAggregator()
	limitReached := false

	for iteration := 0; response.StopReason == llm.StopToolUse; iteration++ {
		if iteration >= h.opts.MaxIterations {
			h.logger.Warn("Tool iteration limit reached", zap.Int("limit", h.opts.MaxIterations))
			limitReached = true
			break
		}

		conversation = append(conversation, llm.Message{Role: models.RoleAssistant, Content: response.Content})

		results := h.executeTools(ctx, session, response.ToolUses(), aggregator)
		conversation = append(conversation, llm.Message{Role: models.RoleUser, Content: results})

		response, err = h.callModel(ctx, system, tools, conversation)
		if err != nil {
			return nil, err
		}
	}

	h.logger.Info("Fetched items via tools", zap.Int("count", aggregator.Len()))

	message, actions := prompts.ExtractActions(response.Text())
	if message == "" && limitReached {
		message = prompts.FallbackMessage
	}

	h.logger.Info("Chat response",
		zap.Int("actions", len(actions)),
		zap.Int("items", aggregator.Len()),
		zap.Bool("iteration_limit", limitReached))

	return &models.ChatResponse{
		Success:               true,
		Message:               message,
		ToolsUsed:             len(conversation) > len(history),
		Actions:               actions,
		Items:                 aggregator.Items(),
		IterationLimitReached: limitReached,
		FullResponse:          response,
	}, nil
}

// openTools connects and lists tools. Any failure leaves the exchange
// tool-less.
func (h *ChatHandler) openTools(ctx context.Context) (mcp.Session, []llm.Tool) {
	session, err := h.tools.Connect(ctx)
	if err != nil {
		h.logger.Error("Failed to connect to tool service", zap.Error(err))
		return nil, nil
	}

	descriptors, err := session.ListTools(ctx)
	if err != nil {
		h.logger.Error("Failed to list tools", zap.Error(err))
		if cerr := session.Close(); cerr != nil {
			h.logger.Warn("Failed to close tool session", zap.Error(cerr))
		}
		return nil, nil
	}

	tools := ConvertTools(descriptors)
	h.logger.Info("Loaded tools", zap.Int("count", len(tools)))
	return session, tools
}

func (h *ChatHandler) callModel(ctx context.Context, system string, tools []llm.Tool, conversation []llm.Message) (*llm.Response, error) {
	response, err := h.provider.CreateMessage(ctx, &llm.Request{
		Model:     h.opts.Model,
		System:    system,
		MaxTokens: h.opts.MaxTokens,
		Tools:     tools,
		Messages:  conversation,
	})
	if err != nil {
		h.logger.Error("Model call failed", zap.Error(err))
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	return response, nil
}

// executeTools produces exactly one tool_result per invocation, in order.
func (h *ChatHandler) executeTools(ctx context.Context, session mcp.Session, uses []llm.ContentBlock, aggregator *items.Aggregator) []llm.ContentBlock {
	results := make([]llm.ContentBlock, 0, len(uses))
	for _, use := range uses {
		h.logger.Info("Calling tool", zap.String("tool", use.Name), zap.ByteString("input", use.Input))

		result, err := callTool(ctx, session, use)
		if err != nil {
			h.logger.Error("Tool call failed", zap.String("tool", use.Name), zap.Error(err))
			results = append(results, ErrorResult(use.ID, err))
			continue
		}

		if result.IsError {
			h.logger.Warn("Tool reported an error", zap.String("tool", use.Name))
		} else {
			for _, text := range result.Texts {
				payload, perr := items.Parse(text)
				if perr != nil {
					h.logger.Debug("Tool result is not structured", zap.String("tool", use.Name), zap.Error(perr))
					continue
				}
				h.logger.Debug("Parsing tool result", zap.Strings("keys", payload.Keys()))
				aggregator.Add(payload)
			}
		}

		results = append(results, llm.ContentBlock{
			Type:      llm.BlockToolResult,
			ToolUseID: use.ID,
			Content:   TruncateResult(string(result.Content)),
			IsError:   result.IsError,
		})
	}
	return results
}

func callTool(ctx context.Context, session mcp.Session, use llm.ContentBlock) (*mcp.CallResult, error) {
	if session == nil {
		return nil, errors.New("tool service is not connected")
	}
	return session.CallTool(ctx, use.Name, use.Input)
}

// ErrorResult builds the error-tagged tool_result for a failed invocation.
func ErrorResult(toolUseID string, err error) llm.ContentBlock {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return llm.ContentBlock{
		Type:      llm.BlockToolResult,
		ToolUseID: toolUseID,
		Content:   string(body),
		IsError:   true,
	}
}

// TruncateResult caps a serialised tool result at MaxToolResultChars
// characters, appending TruncationSuffix when anything was cut.
func TruncateResult(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxToolResultChars {
		return content
	}
	return string(runes[:MaxToolResultChars]) + TruncationSuffix
}

// ConvertTools maps tool-service descriptors 1:1 onto the model's tool schema.
func ConvertTools(descriptors []mcp.ToolDescriptor) []llm.Tool {
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return tools
}

func (h *ChatHandler) convertHistory(messages []models.ConversationMessage) ([]llm.Message, error) {
	if len(messages) == 0 {
		return nil, &ValidationError{Message: "messages are required"}
	}

	out := make([]llm.Message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			return nil, &ValidationError{Message: fmt.Sprintf("messages[%d]: unsupported role %q", i, msg.Role)}
		}

		var text string
		if err := json.Unmarshal(msg.Content, &text); err == nil {
			out = append(out, llm.TextMessage(msg.Role, text))
			continue
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(msg.Content, &raw); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("messages[%d]: content must be a string or an array of blocks", i)}
		}
		blocks := make([]llm.ContentBlock, 0, len(raw))
		for j, data := range raw {
			block, err := llm.RawBlock(data)
			if err != nil {
				return nil, &ValidationError{Message: fmt.Sprintf("messages[%d].content[%d]: %v", i, j, err)}
			}
			blocks = append(blocks, block)
		}
		out = append(out, llm.Message{Role: msg.Role, Content: blocks})
	}
	return out, nil
}
