package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/items"
	"github.com/avvvet/mute-api/internal/mcp"
)

const (
	TrendingSlug           = "trending"
	DefaultCollectionLimit = 20
	collectionsTool        = "get_collections"
)

// ErrToolsNotConfigured is returned when the tool service has no token.
var ErrToolsNotConfigured = errors.New("OpenSea token not configured")

// CollectionsHandler serves direct lookups against the tool service,
// outside of any conversation.
type CollectionsHandler struct {
	tools   mcp.Connector
	popular []string
	logger  *zap.Logger
}

func NewCollectionsHandler(tools mcp.Connector, popular []string, logger *zap.Logger) *CollectionsHandler {
	return &CollectionsHandler{
		tools:   tools,
		popular: popular,
		logger:  logger.Named("collections"),
	}
}

// LookupSlugs returns the slugs to request for slug. "trending" selects the
// popular set; any other slug leads and the popular set fills the rest.
func (h *CollectionsHandler) LookupSlugs(slug string, limit int) []string {
	if limit <= 0 {
		limit = DefaultCollectionLimit
	}
	if slug == TrendingSlug {
		return head(h.popular, limit)
	}
	return append([]string{slug}, head(h.popular, limit-1)...)
}

// Lookup fetches basic stats for slug (and the popular set) and returns at
// most limit normalised collections.
func (h *CollectionsHandler) Lookup(ctx context.Context, slug string, limit int) ([]items.AggregatedItem, error) {
	if slug == "" {
		return nil, &ValidationError{Message: "collection slug is required"}
	}
	if limit <= 0 {
		limit = DefaultCollectionLimit
	}

	session, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	slugs := h.LookupSlugs(slug, limit)
	h.logger.Info("Fetching collections", zap.String("slug", slug), zap.Strings("slugs", slugs))

	args, err := json.Marshal(map[string]any{
		"slugs":    slugs,
		"includes": []string{"basic_stats"},
	})
	if err != nil {
		return nil, err
	}

	result, err := session.CallTool(ctx, collectionsTool, args)
	if err != nil {
		return nil, err
	}

	out := []items.AggregatedItem{}
	for _, text := range result.Texts {
		payload, perr := items.Parse(text)
		if perr != nil {
			h.logger.Debug("Collections result is not structured", zap.Error(perr))
			continue
		}
		out = append(out, items.CollectionStats(payload, limit-len(out))...)
		if len(out) >= limit {
			break
		}
	}

	h.logger.Info("Collections fetched", zap.Int("count", len(out)))
	return out, nil
}

// ListTools returns the tools the service currently advertises.
func (h *CollectionsHandler) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	session, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []mcp.ToolDescriptor{}
	}
	return tools, nil
}

// Configured reports whether the tool service can be reached at all.
func (h *CollectionsHandler) Configured() bool {
	return h.tools != nil && h.tools.Configured()
}

func (h *CollectionsHandler) connect(ctx context.Context) (mcp.Session, error) {
	if !h.Configured() {
		return nil, ErrToolsNotConfigured
	}
	session, err := h.tools.Connect(ctx)
	if err != nil {
		h.logger.Error("Failed to connect to tool service", zap.Error(err))
		return nil, fmt.Errorf("tool service unavailable: %w", err)
	}
	return session, nil
}

func head(list []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(list) < n {
		n = len(list)
	}
	return append([]string(nil), list[:n]...)
}
