package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/avvvet/mute-api/internal/upstream"
)

const altProvider = "Veed"

var (
	ErrImageURLRequired = errors.New("imageUrl is required")
	ErrAltPromptMissing = errors.New("prompt is required")
	ErrAltUnavailable   = errors.New("Veed service not available. Check authentication.")
)

// AltRequest is an image-to-video request for the second provider.
type AltRequest struct {
	ImageURL    string `json:"imageUrl"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

// AltResult points at the finished video, locally and on the provider CDN.
type AltResult struct {
	VideoURL string `json:"videoUrl"`
	CDNURL   string `json:"cdnUrl"`
}

// AltHealth is the provider status as reported to the UI.
type AltHealth struct {
	Available     bool   `json:"available"`
	Authenticated bool   `json:"authenticated"`
	Initializing  bool   `json:"initializing"`
	HasAPIKey     bool   `json:"hasApiKey"`
	Error         string `json:"error,omitempty"`
}

type AltVideoOptions struct {
	APIKey        string
	BaseURL       string
	VideoDir      string
	PublicBaseURL string
	PollInterval  time.Duration
	Timeout       time.Duration
}

// AltVideoClient talks to the second video provider. It needs a session
// token, obtained once and shared by all callers.
type AltVideoClient struct {
	opts       AltVideoOptions
	httpClient *http.Client
	logger     *zap.Logger

	init         singleflight.Group
	mu           sync.RWMutex
	token        string
	initializing bool
	lastErr      error
}

func NewAltVideoClient(opts AltVideoOptions, logger *zap.Logger) *AltVideoClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	return &AltVideoClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Named("altvideo"),
	}
}

// Ready reports whether a session token is held.
func (c *AltVideoClient) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Init exchanges the API key for a session token. Concurrent callers share
// a single exchange; an existing token is reused.
func (c *AltVideoClient) Init(ctx context.Context) (bool, error) {
	if c.Ready() {
		return true, nil
	}

	_, err, shared := c.init.Do("session", func() (any, error) {
		c.mu.Lock()
		if c.token != "" {
			c.mu.Unlock()
			return nil, nil
		}
		c.initializing = true
		c.mu.Unlock()

		c.logger.Info("Initializing video provider session")

		token, err := c.createSession(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.initializing = false
		c.lastErr = err
		if err != nil {
			return nil, err
		}
		c.token = token
		return nil, nil
	})
	if err != nil {
		c.logger.Error("Video provider initialization failed", zap.Error(err), zap.Bool("shared", shared))
		return false, err
	}
	c.logger.Info("Video provider ready")
	return true, nil
}

// Health reports the session state without triggering initialization.
func (c *AltVideoClient) Health() AltHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := AltHealth{
		Available:     c.token != "",
		Authenticated: c.token != "",
		Initializing:  c.initializing,
		HasAPIKey:     c.opts.APIKey != "",
	}
	if c.lastErr != nil {
		h.Error = upstream.Message(c.lastErr, c.lastErr.Error())
	}
	return h
}

// Generate validates req, initializes the session if needed and runs the
// generation to completion, downloading the result into the video dir.
func (c *AltVideoClient) Generate(ctx context.Context, req AltRequest) (*AltResult, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, ErrImageURLRequired
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrAltPromptMissing
	}

	if !c.Ready() {
		c.logger.Info("Video provider not ready, initializing")
		if ok, err := c.Init(ctx); !ok || err != nil {
			return nil, ErrAltUnavailable
		}
	}

	gen, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Generation submitted", zap.String("generation_id", gen.ID))

	gen, err = c.wait(ctx, gen)
	if err != nil {
		return nil, err
	}

	result := &AltResult{VideoURL: gen.VideoURL, CDNURL: gen.VideoURL}
	local, err := c.download(ctx, gen)
	if err != nil {
		c.logger.Warn("Failed to store video locally, serving CDN URL", zap.Error(err))
		return result, nil
	}
	result.VideoURL = c.opts.PublicBaseURL + local
	return result, nil
}

type generation struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error,omitempty"`
}

func (c *AltVideoClient) createSession(ctx context.Context) (string, error) {
	if c.opts.APIKey == "" {
		return "", errors.New("VEED_API_KEY not configured")
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/session", "", nil, &session); err != nil {
		return "", err
	}
	if session.Token == "" {
		return "", errors.New("video provider returned an empty session token")
	}
	return session.Token, nil
}

func (c *AltVideoClient) submit(ctx context.Context, req AltRequest) (*generation, error) {
	body := map[string]any{
		"image_url": req.ImageURL,
		"prompt":    req.Prompt,
	}
	if req.AspectRatio != "" {
		body["aspect_ratio"] = req.AspectRatio
	}
	if req.Duration > 0 {
		body["duration"] = req.Duration
	}

	var gen generation
	if err := c.do(ctx, http.MethodPost, "/generations", c.sessionToken(), body, &gen); err != nil {
		return nil, err
	}
	return &gen, nil
}

func (c *AltVideoClient) wait(ctx context.Context, gen *generation) (*generation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		switch gen.Status {
		case "completed", "succeeded":
			if gen.VideoURL == "" {
				return nil, errors.New("generation finished without a video")
			}
			return gen, nil
		case "failed", "error":
			msg := gen.Error
			if msg == "" {
				msg = "video generation failed"
			}
			return nil, errors.New(msg)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for generation %s: %w", gen.ID, ctx.Err())
		case <-ticker.C:
		}

		var latest generation
		if err := c.do(ctx, http.MethodGet, "/generations/"+gen.ID, c.sessionToken(), nil, &latest); err != nil {
			return nil, err
		}
		gen = &latest
	}
}

// download stores the video under VideoDir and returns its /videos/ path.
func (c *AltVideoClient) download(ctx context.Context, gen *generation) (string, error) {
	if c.opts.VideoDir == "" {
		return "", errors.New("video dir not configured")
	}
	if err := os.MkdirAll(c.opts.VideoDir, 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gen.VideoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &upstream.HTTPError{Provider: altProvider, StatusCode: resp.StatusCode, Body: body}
	}

	name := fileName(gen)
	tmp, err := os.CreateTemp(c.opts.VideoDir, ".download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.opts.VideoDir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	c.logger.Info("Video stored", zap.String("file", name))
	return "/videos/" + name, nil
}

func fileName(gen *generation) string {
	ext := path.Ext(strings.SplitN(gen.VideoURL, "?", 2)[0])
	if ext == "" || len(ext) > 5 {
		ext = ".mp4"
	}
	id := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, gen.ID)
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return "veed_" + id + ext
}

func (c *AltVideoClient) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *AltVideoClient) do(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", altProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &upstream.HTTPError{Provider: altProvider, StatusCode: resp.StatusCode, Body: respBody}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", altProvider, err)
	}
	return nil
}
