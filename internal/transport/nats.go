package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/config"
	"github.com/avvvet/mute-api/internal/models"
	"github.com/avvvet/mute-api/internal/upstream"
)

// NATSTransport answers chat requests published on the chat subject with the
// same body POST /api/chat returns.
type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	config  *config.Config
	handler ChatProcessor
	logger  *zap.Logger
}

func NewNATSTransport(cfg *config.Config, handler ChatProcessor, logger *zap.Logger) (*NATSTransport, error) {
	// Connect to NATS
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(cfg.NatsTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	nt := newNATSTransport(conn, cfg, handler, logger)
	nt.logger.Info("Connected to NATS server", zap.String("url", cfg.NatsURL))
	return nt, nil
}

func newNATSTransport(conn *nats.Conn, cfg *config.Config, handler ChatProcessor, logger *zap.Logger) *NATSTransport {
	return &NATSTransport{
		conn:    conn,
		config:  cfg,
		handler: handler,
		logger:  logger.Named("nats"),
	}
}

func (nt *NATSTransport) Start() error {
	// Subscribe to chat requests
	sub, err := nt.conn.Subscribe(nt.config.NatsChatSubject, nt.handleChatRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.config.NatsChatSubject, err)
	}
	nt.sub = sub

	nt.logger.Info("Subscribed to subject", zap.String("subject", nt.config.NatsChatSubject))
	return nil
}

func (nt *NATSTransport) handleChatRequest(msg *nats.Msg) {
	if err := nt.respond(msg, nt.process(msg.Data)); err != nil {
		nt.logger.Error("Error sending response", zap.Error(err))
	}
}

// process turns one request payload into the reply body.
func (nt *NATSTransport) process(data []byte) any {
	// Parse the request
	var request models.ChatRequest
	if err := json.Unmarshal(data, &request); err != nil {
		nt.logger.Warn("Error parsing request", zap.Error(err))
		return &models.ErrorResponse{Code: models.ErrorParseError, Error: "Invalid request format"}
	}

	nt.logger.Info("Processing chat request", zap.Int("messages", len(request.Messages)))

	// Create context with timeout covering the whole tool loop
	ctx, cancel := context.WithTimeout(context.Background(), nt.config.ChatTimeout())
	defer cancel()

	// Call the handler
	response, err := nt.handler.ProcessChat(ctx, &request)
	if err != nil {
		nt.logger.Error("Error processing chat", zap.Error(err))
		code := models.ErrorLLMFailed
		if StatusFor(err) < 500 {
			code = models.ErrorValidation
		}
		return &models.ErrorResponse{Code: code, Error: upstream.Message(err, "Chat request failed")}
	}

	nt.logger.Info("Response ready", zap.Int("actions", len(response.Actions)), zap.Int("items", len(response.Items)))
	return response
}

func (nt *NATSTransport) respond(msg *nats.Msg, payload any) error {
	responseData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := msg.Respond(responseData); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

// Close drains in-flight requests before closing the connection.
func (nt *NATSTransport) Close() error {
	if nt.conn == nil {
		return nil
	}
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return err
	}
	nt.logger.Info("NATS connection drained")
	return nil
}
