package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/config"
	"github.com/avvvet/mute-api/internal/handlers"
	"github.com/avvvet/mute-api/internal/models"
)

func newTestNATS(chat ChatProcessor) *NATSTransport {
	cfg := &config.Config{NatsChatSubject: "mute.chat", AnthropicTimeout: time.Second, MaxToolIterations: 4}
	return newNATSTransport(nil, cfg, chat, zap.NewNop())
}

func TestNATSProcess_Success(t *testing.T) {
	chat := &fakeChat{resp: &models.ChatResponse{Success: true, Message: "hello"}}
	nt := newTestNATS(chat)

	out := nt.process([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	resp, ok := out.(*models.ChatResponse)
	require.True(t, ok)
	assert.Equal(t, "hello", resp.Message)
	require.Len(t, chat.got.Messages, 1)
	assert.Equal(t, models.RoleUser, chat.got.Messages[0].Role)
}

func TestNATSProcess_DeadlineCoversToolLoop(t *testing.T) {
	chat := &fakeChat{resp: &models.ChatResponse{Success: true}}
	start := time.Now()

	newTestNATS(chat).process([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))

	require.False(t, chat.deadline.IsZero())
	assert.WithinDuration(t, start.Add(5*time.Second), chat.deadline, time.Second)
}

func TestNATSProcess_Errors(t *testing.T) {
	chat := &fakeChat{}
	nt := newTestNATS(chat)

	out := nt.process([]byte(`garbage`))
	errResp := out.(*models.ErrorResponse)
	assert.Equal(t, models.ErrorParseError, errResp.Code)
	assert.False(t, errResp.Success)

	chat.err = &handlers.ValidationError{Message: "messages are required"}
	errResp = nt.process([]byte(`{}`)).(*models.ErrorResponse)
	assert.Equal(t, models.ErrorValidation, errResp.Code)
	assert.Equal(t, "messages are required", errResp.Error)

	chat.err = errors.New("model call failed: overloaded")
	errResp = nt.process([]byte(`{}`)).(*models.ErrorResponse)
	assert.Equal(t, models.ErrorLLMFailed, errResp.Code)

	body, err := json.Marshal(errResp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"success":false`)
}

func TestNATSClose_NoConnection(t *testing.T) {
	assert.NoError(t, newTestNATS(&fakeChat{}).Close())
}
