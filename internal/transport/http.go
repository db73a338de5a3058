package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/config"
	"github.com/avvvet/mute-api/internal/handlers"
	"github.com/avvvet/mute-api/internal/items"
	"github.com/avvvet/mute-api/internal/mcp"
	"github.com/avvvet/mute-api/internal/models"
	"github.com/avvvet/mute-api/internal/music"
	"github.com/avvvet/mute-api/internal/upstream"
	"github.com/avvvet/mute-api/internal/video"
)

const maxBodyBytes = 10 << 20

type ChatProcessor interface {
	ProcessChat(ctx context.Context, request *models.ChatRequest) (*models.ChatResponse, error)
}

type CollectionService interface {
	Configured() bool
	Lookup(ctx context.Context, slug string, limit int) ([]items.AggregatedItem, error)
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
}

type VideoJobs interface {
	Available() bool
	Start(ctx context.Context, req video.GenerateRequest) (string, error)
	Poll(ctx context.Context, id string) (*video.PollResult, error)
	Pending() int
}

type AltVideo interface {
	Ready() bool
	Init(ctx context.Context) (bool, error)
	Health() video.AltHealth
	Generate(ctx context.Context, req video.AltRequest) (*video.AltResult, error)
}

type MusicCatalog interface {
	Trending(ctx context.Context, q music.TrendingQuery) ([]music.Track, error)
	Search(ctx context.Context, q music.SearchQuery) ([]music.Track, error)
	Track(ctx context.Context, id string) (*music.Track, error)
	Health(ctx context.Context) music.Health
}

// Services bundles everything the HTTP surface dispatches to.
type Services struct {
	Chat        ChatProcessor
	Collections CollectionService
	Videos      VideoJobs
	AltVideo    AltVideo
	Music       MusicCatalog
}

type HTTPServer struct {
	cfg    *config.Config
	svc    Services
	logger *zap.Logger
	server *http.Server
}

func NewHTTPServer(cfg *config.Config, svc Services, logger *zap.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		logger: logger.Named("http"),
	}
	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Alt-video generation and tool loops run inside the request.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the full route table wrapped in CORS and request logging.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/collections/{slug}/items", s.handleCollectionItems)
	mux.HandleFunc("GET /api/tools", s.handleTools)

	mux.HandleFunc("POST /api/video/generate", s.handleVideoGenerate)
	mux.HandleFunc("GET /api/video/status/{operationId...}", s.handleVideoStatus)
	mux.HandleFunc("GET /api/video/health", s.handleVideoHealth)

	mux.HandleFunc("POST /api/alt-video/init", s.handleAltInit)
	mux.HandleFunc("GET /api/alt-video/health", s.handleAltHealth)
	mux.HandleFunc("POST /api/alt-video/generate", s.handleAltGenerate)

	mux.HandleFunc("GET /api/music/trending", s.handleMusicTrending)
	mux.HandleFunc("GET /api/music/search", s.handleMusicSearch)
	mux.HandleFunc("GET /api/music/track/{id}", s.handleMusicTrack)
	mux.HandleFunc("GET /api/music/health", s.handleMusicHealth)

	mux.Handle("GET /videos/", http.StripPrefix("/videos/", http.FileServer(http.Dir(s.cfg.VideoDir))))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return s.logRequests(c.Handler(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("API server listening", zap.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var request models.ChatRequest
	if !s.decode(w, r, &request) {
		return
	}

	response, err := s.svc.Chat.ProcessChat(r.Context(), &request)
	if err != nil {
		s.fail(w, err, "Chat request failed")
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"status":          "ok",
		"hasAnthropicKey": s.cfg.AnthropicAPIKey != "",
		"hasOpenSeaToken": s.cfg.ToolsEnabled(),
	})
}

func (s *HTTPServer) handleCollectionItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", handlers.DefaultCollectionLimit)

	found, err := s.svc.Collections.Lookup(r.Context(), r.PathValue("slug"), limit)
	if err != nil {
		s.fail(w, err, "Collection lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   found,
	})
}

func (s *HTTPServer) handleTools(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Collections.Configured() {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"tools":   []mcp.ToolDescriptor{},
			"message": handlers.ErrToolsNotConfigured.Error(),
		})
		return
	}

	tools, err := s.svc.Collections.ListTools(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to list tools")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tools":   tools,
		"count":   len(tools),
	})
}

type videoGenerateRequest struct {
	Prompt         string `json:"prompt"`
	ReferenceImage string `json:"referenceImage,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (s *HTTPServer) handleVideoGenerate(w http.ResponseWriter, r *http.Request) {
	var body videoGenerateRequest
	if !s.decode(w, r, &body) {
		return
	}

	id, err := s.svc.Videos.Start(r.Context(), video.GenerateRequest{
		Prompt:         body.Prompt,
		ReferenceImage: body.ReferenceImage,
		Model:          body.Model,
	})
	if err != nil {
		s.fail(w, err, "Video generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"operationId": id,
		"status":      video.StatusProcessing,
		"message":     "Video generation started. Poll /api/video/status/:operationId for results.",
	})
}

func (s *HTTPServer) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("operationId")

	result, err := s.svc.Videos.Poll(r.Context(), id)
	if err != nil {
		s.fail(w, err, "Video status check failed")
		return
	}

	switch result.Status {
	case video.StatusFailed:
		s.writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Status: video.StatusFailed,
			Error:  result.Error,
		})
	case video.StatusCompleted:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"status":   result.Status,
			"videoUrl": result.VideoURL,
			"videos":   result.VideoURIs,
		})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  result.Status,
			"message": "Video is still being generated...",
		})
	}
}

func (s *HTTPServer) handleVideoHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"available":         s.svc.Videos.Available(),
		"hasApiKey":         s.cfg.GoogleAPIKey != "",
		"pendingOperations": s.svc.Videos.Pending(),
	})
}

func (s *HTTPServer) handleAltInit(w http.ResponseWriter, r *http.Request) {
	if s.svc.AltVideo.Ready() {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Veed service already initialized",
		})
		return
	}

	if _, err := s.svc.AltVideo.Init(r.Context()); err != nil {
		s.fail(w, err, "Failed to initialize")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Veed service initialized",
	})
}

func (s *HTTPServer) handleAltHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.AltVideo.Health()
	body := map[string]any{
		"success":       true,
		"available":     h.Available,
		"authenticated": h.Authenticated,
		"initializing":  h.Initializing,
		"hasApiKey":     h.HasAPIKey,
	}
	if h.Error != "" {
		body["error"] = h.Error
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleAltGenerate(w http.ResponseWriter, r *http.Request) {
	var body video.AltRequest
	if !s.decode(w, r, &body) {
		return
	}

	result, err := s.svc.AltVideo.Generate(r.Context(), body)
	if err != nil {
		s.fail(w, err, "Video generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"videoUrl": result.VideoURL,
		"cdnUrl":   result.CDNURL,
	})
}

func (s *HTTPServer) handleMusicTrending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tracks, err := s.svc.Music.Trending(r.Context(), music.TrendingQuery{
		Genre: q.Get("genre"),
		Time:  q.Get("time"),
		Limit: queryInt(r, "limit", music.DefaultLimit),
	})
	if err != nil {
		s.fail(w, err, "Failed to load trending tracks")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "tracks": tracks})
}

func (s *HTTPServer) handleMusicSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tracks, err := s.svc.Music.Search(r.Context(), music.SearchQuery{
		Query: q.Get("q"),
		Genre: q.Get("genre"),
		Mood:  q.Get("mood"),
		Limit: queryInt(r, "limit", music.DefaultLimit),
	})
	if err != nil {
		s.fail(w, err, "Search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "tracks": tracks})
}

func (s *HTTPServer) handleMusicTrack(w http.ResponseWriter, r *http.Request) {
	track, err := s.svc.Music.Track(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err, "Failed to load track")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "track": track})
}

func (s *HTTPServer) handleMusicHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Music.Health(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"available":      h.Available,
		"hasApiKey":      h.HasAPIKey,
		"baseUrl":        h.BaseURL,
		"cacheEnabled":   h.CacheEnabled,
		"cacheReachable": h.CacheReachable,
	})
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.logger.Warn("Invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// fail logs err and writes it with the status its class maps to.
func (s *HTTPServer) fail(w http.ResponseWriter, err error, fallback string) {
	status := StatusFor(err)
	message := upstream.Message(err, fallback)

	if status >= http.StatusInternalServerError {
		s.logger.Error(fallback, zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn(fallback, zap.Int("status", status), zap.Error(err))
	}

	if errors.Is(err, video.ErrJobExpired) {
		s.writeJSON(w, status, models.ErrorResponse{Status: video.StatusExpired, Error: message})
		return
	}
	s.writeError(w, status, message)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var validation *handlers.ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, video.ErrPromptRequired),
		errors.Is(err, video.ErrNotConfigured),
		errors.Is(err, video.ErrImageURLRequired),
		errors.Is(err, video.ErrAltPromptMissing),
		errors.Is(err, music.ErrQueryRequired):
		return http.StatusBadRequest
	case errors.Is(err, video.ErrJobNotFound),
		errors.Is(err, music.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, video.ErrJobExpired):
		return http.StatusGone
	case errors.Is(err, video.ErrAltUnavailable),
		errors.Is(err, handlers.ErrToolsNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, models.ErrorResponse{Error: message})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
