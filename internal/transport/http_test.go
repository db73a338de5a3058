package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type fakeChat struct {
	resp     *models.ChatResponse
	err      error
	got      *models.ChatRequest
	deadline time.Time
}

func (f *fakeChat) ProcessChat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	f.got = req
	f.deadline, _ = ctx.Deadline()
	return f.resp, f.err
}

type fakeCollections struct {
	configured bool
	items      []items.AggregatedItem
	tools      []mcp.ToolDescriptor
	err        error
	slug       string
	limit      int
}

func (f *fakeCollections) Configured() bool { return f.configured }

func (f *fakeCollections) Lookup(_ context.Context, slug string, limit int) ([]items.AggregatedItem, error) {
	f.slug, f.limit = slug, limit
	return f.items, f.err
}

func (f *fakeCollections) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return f.tools, f.err
}

type fakeVideos struct {
	available bool
	id        string
	startErr  error
	poll      *video.PollResult
	pollErr   error
	started   video.GenerateRequest
	polledID  string
}

func (f *fakeVideos) Available() bool { return f.available }
func (f *fakeVideos) Pending() int    { return 2 }

func (f *fakeVideos) Start(_ context.Context, req video.GenerateRequest) (string, error) {
	f.started = req
	return f.id, f.startErr
}

func (f *fakeVideos) Poll(_ context.Context, id string) (*video.PollResult, error) {
	f.polledID = id
	return f.poll, f.pollErr
}

type fakeAlt struct {
	ready   bool
	initErr error
	result  *video.AltResult
	genErr  error
}

func (f *fakeAlt) Ready() bool { return f.ready }
func (f *fakeAlt) Init(context.Context) (bool, error) {
	return f.initErr == nil, f.initErr
}
func (f *fakeAlt) Health() video.AltHealth {
	return video.AltHealth{Available: f.ready, Authenticated: f.ready, HasAPIKey: true}
}
func (f *fakeAlt) Generate(context.Context, video.AltRequest) (*video.AltResult, error) {
	return f.result, f.genErr
}

type fakeMusic struct {
	tracks []music.Track
	err    error
	search music.SearchQuery
}

func (f *fakeMusic) Trending(context.Context, music.TrendingQuery) ([]music.Track, error) {
	return f.tracks, f.err
}
func (f *fakeMusic) Search(_ context.Context, q music.SearchQuery) ([]music.Track, error) {
	f.search = q
	if q.Query == "" {
		return nil, music.ErrQueryRequired
	}
	return f.tracks, f.err
}
func (f *fakeMusic) Track(_ context.Context, id string) (*music.Track, error) {
	if id != "D7KyD" {
		return nil, music.ErrTrackNotFound
	}
	return &music.Track{ID: id, Title: "Night Drive"}, nil
}
func (f *fakeMusic) Health(context.Context) music.Health {
	return music.Health{Available: true, BaseURL: "https://api.audius.co/v1"}
}

type fixture struct {
	chat        *fakeChat
	collections *fakeCollections
	videos      *fakeVideos
	alt         *fakeAlt
	music       *fakeMusic
	cfg         *config.Config
	handler     http.Handler
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		chat:        &fakeChat{},
		collections: &fakeCollections{configured: true},
		videos:      &fakeVideos{available: true},
		alt:         &fakeAlt{},
		music:       &fakeMusic{},
		cfg: &config.Config{
			Port:               "0",
			AnthropicAPIKey:    "sk-test",
			OpenSeaBearerToken: "os-token",
			GoogleAPIKey:       "g-key",
			VideoDir:           t.TempDir(),
		},
	}
	srv := NewHTTPServer(f.cfg, Services{
		Chat:        f.chat,
		Collections: f.collections,
		Videos:      f.videos,
		AltVideo:    f.alt,
		Music:       f.music,
	}, zap.NewNop())
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestChatEndpoint(t *testing.T) {
	f := newFixture(t)
	f.chat.resp = &models.ChatResponse{Success: true, Message: "hi", Actions: nil, Items: []items.AggregatedItem{{Identifier: "7", Name: "Foo"}}}

	rec, body := f.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hello"}],"useTools":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hi", body["message"])
	require.NotNil(t, f.chat.got)
	assert.False(t, f.chat.got.ToolsRequested())

	list := body["items"].([]any)
	assert.Equal(t, "7", list[0].(map[string]any)["identifier"])
}

func TestChatEndpoint_Errors(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	f.chat.err = &handlers.ValidationError{Message: "messages are required"}
	rec, body = f.do(t, http.MethodPost, "/api/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "messages are required", body["error"])

	f.chat.err = errors.Join(errors.New("model call failed"), &upstream.HTTPError{
		Provider: "Anthropic", StatusCode: 429, Body: []byte(`{"error":{"message":"quota exceeded"}}`),
	})
	rec, body = f.do(t, http.MethodPost, "/api/chat", `{"messages":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "quota exceeded", body["error"])
	assert.Equal(t, false, body["success"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["hasAnthropicKey"])
	assert.Equal(t, true, body["hasOpenSeaToken"])
}

func TestCollectionItemsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.collections.items = []items.AggregatedItem{{Identifier: "azuki", Name: "Azuki", DisplayImageURL: "https://img/a.png"}}

	rec, body := f.do(t, http.MethodGet, "/api/collections/azuki/items?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "azuki", f.collections.slug)
	assert.Equal(t, 5, f.collections.limit)
	assert.Len(t, body["items"], 1)

	f.do(t, http.MethodGet, "/api/collections/trending/items?limit=abc", "")
	assert.Equal(t, handlers.DefaultCollectionLimit, f.collections.limit)

	f.collections.err = handlers.ErrToolsNotConfigured
	rec, _ = f.do(t, http.MethodGet, "/api/collections/azuki/items", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestToolsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.collections.tools = []mcp.ToolDescriptor{{Name: "search_items"}}

	_, body := f.do(t, http.MethodGet, "/api/tools", "")
	assert.Equal(t, float64(1), body["count"])

	f.collections.configured = false
	rec, body := f.do(t, http.MethodGet, "/api/tools", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OpenSea token not configured", body["message"])
	assert.Empty(t, body["tools"])
}

func TestVideoEndpoints(t *testing.T) {
	f := newFixture(t)
	f.videos.id = "models/veo/operations/abc"

	rec, body := f.do(t, http.MethodPost, "/api/video/generate", `{"prompt":"a cat","referenceImage":"gs://b/c.png"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "models/veo/operations/abc", body["operationId"])
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "gs://b/c.png", f.videos.started.ReferenceImage)

	f.videos.poll = &video.PollResult{Status: video.StatusCompleted, VideoURL: "https://v/1.mp4", VideoURIs: []string{"https://v/1.mp4"}}
	rec, body = f.do(t, http.MethodGet, "/api/video/status/models/veo/operations/abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "models/veo/operations/abc", f.videos.polledID)
	assert.Equal(t, "https://v/1.mp4", body["videoUrl"])

	f.videos.poll = &video.PollResult{Status: video.StatusProcessing}
	_, body = f.do(t, http.MethodGet, "/api/video/status/x", "")
	assert.Equal(t, "processing", body["status"])
	assert.NotContains(t, body, "videoUrl")

	f.videos.poll = &video.PollResult{Status: video.StatusFailed, Error: "blocked"}
	rec, body = f.do(t, http.MethodGet, "/api/video/status/x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "blocked", body["error"])

	f.videos.poll, f.videos.pollErr = nil, video.ErrJobNotFound
	rec, _ = f.do(t, http.MethodGet, "/api/video/status/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.videos.poll, f.videos.pollErr = &video.PollResult{Status: video.StatusExpired}, video.ErrJobExpired
	rec, body = f.do(t, http.MethodGet, "/api/video/status/old", "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "expired", body["status"])

	f.videos.startErr = video.ErrPromptRequired
	rec, body = f.do(t, http.MethodPost, "/api/video/generate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Prompt is required", body["error"])

	_, body = f.do(t, http.MethodGet, "/api/video/health", "")
	assert.Equal(t, true, body["available"])
	assert.Equal(t, true, body["hasApiKey"])
	assert.Equal(t, float64(2), body["pendingOperations"])
}

func TestAltVideoEndpoints(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodPost, "/api/alt-video/init", "")
	assert.Equal(t, "Veed service initialized", body["message"])

	f.alt.ready = true
	_, body = f.do(t, http.MethodPost, "/api/alt-video/init", "")
	assert.Equal(t, "Veed service already initialized", body["message"])

	_, body = f.do(t, http.MethodGet, "/api/alt-video/health", "")
	assert.Equal(t, true, body["authenticated"])

	f.alt.result = &video.AltResult{VideoURL: "http://localhost:3001/videos/a.mp4", CDNURL: "https://cdn/a.mp4"}
	rec, body := f.do(t, http.MethodPost, "/api/alt-video/generate", `{"imageUrl":"https://img/x.png","prompt":"zoom"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn/a.mp4", body["cdnUrl"])

	f.alt.genErr = video.ErrAltUnavailable
	rec, _ = f.do(t, http.MethodPost, "/api/alt-video/generate", `{"imageUrl":"https://img/x.png","prompt":"zoom"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.alt.genErr = video.ErrImageURLRequired
	rec, body = f.do(t, http.MethodPost, "/api/alt-video/generate", `{"prompt":"zoom"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "imageUrl is required", body["error"])
}

func TestMusicEndpoints(t *testing.T) {
	f := newFixture(t)
	f.music.tracks = []music.Track{{ID: "a", Title: "A", DurationFormatted: "1:00"}}

	_, body := f.do(t, http.MethodGet, "/api/music/trending?genre=Electronic", "")
	assert.Len(t, body["tracks"], 1)

	rec, body := f.do(t, http.MethodGet, "/api/music/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Query parameter "q" is required`, body["error"])

	f.do(t, http.MethodGet, "/api/music/search?q=lofi&mood=Peaceful&limit=3", "")
	assert.Equal(t, music.SearchQuery{Query: "lofi", Mood: "Peaceful", Limit: 3}, f.music.search)

	rec, _ = f.do(t, http.MethodGet, "/api/music/track/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, body = f.do(t, http.MethodGet, "/api/music/track/D7KyD", "")
	assert.Equal(t, "Night Drive", body["track"].(map[string]any)["title"])

	_, body = f.do(t, http.MethodGet, "/api/music/health", "")
	assert.Equal(t, "https://api.audius.co/v1", body["baseUrl"])
	assert.Equal(t, false, body["cacheEnabled"])
	assert.Equal(t, false, body["cacheReachable"])
}

func TestStaticVideos(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.VideoDir, "clip.mp4"), []byte("mp4"), 0o644))

	rec, _ := f.do(t, http.MethodGet, "/videos/clip.mp4", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp4", rec.Body.String())
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(&handlers.ValidationError{Message: "x"}))
	assert.Equal(t, http.StatusBadRequest, StatusFor(video.ErrNotConfigured))
	assert.Equal(t, http.StatusNotFound, StatusFor(video.ErrJobNotFound))
	assert.Equal(t, http.StatusGone, StatusFor(video.ErrJobExpired))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(video.ErrAltUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
