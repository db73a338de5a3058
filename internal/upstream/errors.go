// Package upstream classifies failures returned by third-party providers.
package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// HTTPError is returned by the raw HTTP provider clients for any non-2xx
// response. Body holds the upstream payload verbatim.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if msg := extractMessage(e.Body); msg != "" {
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s API error (%d)", e.Provider, e.StatusCode)
}

// Message returns the most specific human-readable message carried by err,
// unwrapping nested provider error shapes. fallback is used when err carries
// nothing better.
func Message(err error, fallback string) string {
	if err == nil {
		return fallback
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if msg := extractMessage(httpErr.Body); msg != "" {
			return msg
		}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Message != "" {
		return apiErrPtr.Message
	}

	msg := err.Error()
	if nested := extractMessage([]byte(msg)); nested != "" {
		return nested
	}
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}

// extractMessage digs a message out of the JSON error shapes seen upstream:
// {"error":{"message":...}}, {"error":"..."}, {"message":...} and
// {"response":{"data":{"error":{"message":...}}}}.
func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ""
	}
	return messageFrom(payload)
}

func messageFrom(payload map[string]any) string {
	if response, ok := payload["response"].(map[string]any); ok {
		if data, ok := response["data"].(map[string]any); ok {
			if msg := messageFrom(data); msg != "" {
				return msg
			}
		}
	}

	switch e := payload["error"].(type) {
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	case string:
		if e != "" {
			return e
		}
	}

	if msg, ok := payload["message"].(string); ok {
		return msg
	}
	return ""
}
