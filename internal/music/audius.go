// Package music proxies the Audius catalog and reshapes its tracks for the UI.
package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/cache"
	"github.com/avvvet/mute-api/internal/upstream"
)

const (
	provider     = "Audius"
	DefaultLimit = 10
	DefaultTime  = "week"
)

var (
	ErrQueryRequired = errors.New(`Query parameter "q" is required`)
	ErrTrackNotFound = errors.New("Track not found")
	ErrNoData        = errors.New("No data returned")
)

// Track is the reshaped catalog entry returned to the UI.
type Track struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Artist            string `json:"artist"`
	ArtistHandle      string `json:"artistHandle,omitempty"`
	Duration          int    `json:"duration"`
	DurationFormatted string `json:"durationFormatted"`
	Artwork           string `json:"artwork,omitempty"`
	Genre             string `json:"genre,omitempty"`
	Mood              string `json:"mood,omitempty"`
	PlayCount         int64  `json:"playCount"`
	StreamURL         string `json:"streamUrl"`
}

type TrendingQuery struct {
	Genre string
	Time  string
	Limit int
}

type SearchQuery struct {
	Query string
	Genre string
	Mood  string
	Limit int
}

type Health struct {
	Available    bool   `json:"available"`
	HasAPIKey    bool   `json:"hasApiKey"`
	BaseURL      string `json:"baseUrl"`
	CacheEnabled bool   `json:"cacheEnabled"`

	// CacheReachable is false when an enabled cache fails its ping.
	CacheReachable bool `json:"cacheReachable"`
}

type Options struct {
	BaseURL string
	APIKey  string
	AppName string
	Timeout time.Duration
}

// Client is a read-only catalog client. Successful upstream bodies are
// cached in store.
type Client struct {
	opts       Options
	httpClient *http.Client
	store      cache.Store
	logger     *zap.Logger
}

func NewClient(opts Options, store cache.Store, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if store == nil {
		store = cache.NopStore{}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		store:      store,
		logger:     logger.Named("music"),
	}
}

func (c *Client) Trending(ctx context.Context, q TrendingQuery) ([]Track, error) {
	if q.Time == "" {
		q.Time = DefaultTime
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("time", q.Time)
	if q.Genre != "" {
		params.Set("genre", q.Genre)
	}
	return c.tracks(ctx, "/tracks/trending", params)
}

func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Track, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, ErrQueryRequired
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Genre != "" {
		params.Set("genre", q.Genre)
	}
	if q.Mood != "" {
		params.Set("mood", q.Mood)
	}
	return c.tracks(ctx, "/tracks/search", params)
}

func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrTrackNotFound
	}

	var envelope struct {
		Data *rawTrack `json:"data"`
	}
	err := c.get(ctx, "/tracks/"+url.PathEscape(id), url.Values{}, &envelope)
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, ErrTrackNotFound
	}

	track := c.reshape(envelope.Data)
	return &track, nil
}

func (c *Client) Health(ctx context.Context) Health {
	h := Health{
		Available:    true,
		HasAPIKey:    c.opts.APIKey != "",
		BaseURL:      c.opts.BaseURL,
		CacheEnabled: c.store.Enabled(),
	}
	if h.CacheEnabled {
		if err := c.store.Ping(ctx); err != nil {
			c.logger.Warn("Music cache unreachable", zap.Error(err))
		} else {
			h.CacheReachable = true
		}
	}
	return h
}

func (c *Client) tracks(ctx context.Context, endpoint string, params url.Values) ([]Track, error) {
	var envelope struct {
		Data []rawTrack `json:"data"`
	}
	if err := c.get(ctx, endpoint, params, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, ErrNoData
	}

	tracks := make([]Track, 0, len(envelope.Data))
	for i := range envelope.Data {
		tracks = append(tracks, c.reshape(&envelope.Data[i]))
	}
	if len(tracks) > 0 {
		c.logger.Debug("Catalog response", zap.String("endpoint", endpoint), zap.Int("tracks", len(tracks)), zap.String("first_artwork", tracks[0].Artwork))
	}
	return tracks, nil
}

// get fetches endpoint, going through the cache. The API key is never part
// of the cache key.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("app_name", c.opts.AppName)
	cacheKey := endpoint + "?" + params.Encode()

	if body, ok, err := c.store.Get(ctx, cacheKey); err != nil {
		c.logger.Warn("Cache read failed", zap.String("key", cacheKey), zap.Error(err))
	} else if ok {
		c.logger.Debug("Cache hit", zap.String("key", cacheKey))
		return json.Unmarshal(body, out)
	}

	if c.opts.APIKey != "" {
		params.Set("api_key", c.opts.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Catalog request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &upstream.HTTPError{Provider: provider, StatusCode: resp.StatusCode, Body: body}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", provider, err)
	}

	if err := c.store.Set(ctx, cacheKey, body); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return nil
}

type rawTrack struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	User          *rawUser        `json:"user"`
	Duration      json.Number     `json:"duration"`
	Artwork       json.RawMessage `json:"artwork"`
	CoverArtSizes json.RawMessage `json:"cover_art_sizes"`
	Genre         string          `json:"genre"`
	Mood          string          `json:"mood"`
	PlayCount     int64           `json:"play_count"`
}

type rawUser struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

func (c *Client) reshape(t *rawTrack) Track {
	track := Track{
		ID:        t.ID,
		Title:     t.Title,
		Artist:    "Unknown Artist",
		Artwork:   artworkURL(t.Artwork, t.CoverArtSizes),
		Genre:     t.Genre,
		Mood:      t.Mood,
		PlayCount: t.PlayCount,
		StreamURL: fmt.Sprintf("%s/tracks/%s/stream?app_name=%s", c.opts.BaseURL, t.ID, url.QueryEscape(c.opts.AppName)),
	}
	if t.User != nil {
		if t.User.Name != "" {
			track.Artist = t.User.Name
		}
		track.ArtistHandle = t.User.Handle
	}
	if f, err := t.Duration.Float64(); err == nil {
		track.Duration = int(f)
	}
	track.DurationFormatted = FormatDuration(track.Duration)
	return track
}

// artworkURL picks a URL from artwork (a string or a size map), falling back
// to the cover art size map.
func artworkURL(artwork, coverArt json.RawMessage) string {
	var direct string
	if json.Unmarshal(artwork, &direct) == nil && direct != "" {
		return direct
	}

	var sizes map[string]any
	if json.Unmarshal(artwork, &sizes) == nil {
		if u := firstSize(sizes, "480x480", "150x150", "1000x1000"); u != "" {
			return u
		}
	}

	sizes = nil
	if json.Unmarshal(coverArt, &sizes) == nil {
		return firstSize(sizes, "480x480", "150x150")
	}
	return ""
}

func firstSize(sizes map[string]any, keys ...string) string {
	for _, k := range keys {
		if u, ok := sizes[k].(string); ok && u != "" {
			return u
		}
	}
	return ""
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
