package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPopularCollections is the hardcoded popular PFP set used for the
// "trending" collections lookup.
var DefaultPopularCollections = []string{
	"pudgypenguins",
	"boredapeyachtclub",
	"azuki",
	"doodles-official",
	"cryptopunks",
	"milady",
	"degods",
}

type Config struct {
	// Service configuration
	ServiceName   string
	Port          string
	LogLevel      string
	LogFormat     string
	PublicBaseURL string

	// Anthropic configuration
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicBaseURL  string
	AnthropicTimeout  time.Duration
	MaxTokens         int
	MaxToolIterations int
	AssistantName     string

	// OpenSea MCP configuration
	OpenSeaBearerToken string
	OpenSeaMCPURL      string
	PopularCollections []string

	// Video configuration
	GoogleAPIKey       string
	VeoModel           string
	VideoJobTTL        time.Duration
	VideoSweepSchedule string
	VeedAPIKey         string
	VeedBaseURL        string
	VideoDir           string

	// Audius configuration
	AudiusAPIKey  string
	AudiusBaseURL string
	AudiusAppName string
	RedisURL      string
	MusicCacheTTL time.Duration

	// NATS configuration
	NatsURL         string
	NatsChatSubject string
	NatsTimeout     time.Duration
}

// overlay is the optional YAML file layered over the environment.
type overlay struct {
	AssistantName      string   `yaml:"assistant_name"`
	AnthropicModel     string   `yaml:"anthropic_model"`
	MaxToolIterations  int      `yaml:"max_tool_iterations"`
	PopularCollections []string `yaml:"popular_collections"`
}

func Load() (*Config, error) {
	cfg := &Config{
		// Service settings
		ServiceName:   getEnv("SERVICE_NAME", "mute-api"),
		Port:          getEnv("PORT", "3001"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		// Anthropic settings
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicTimeout:  getDurationEnv("ANTHROPIC_TIMEOUT", 2*time.Minute),
		MaxTokens:         getIntEnv("ANTHROPIC_MAX_TOKENS", 4096),
		MaxToolIterations: getIntEnv("MAX_TOOL_ITERATIONS", 10),
		AssistantName:     getEnv("ASSISTANT_NAME", "Liquid"),

		// OpenSea settings
		OpenSeaBearerToken: getEnv("OPENSEA_BEARER_TOKEN", ""),
		OpenSeaMCPURL:      getEnv("OPENSEA_MCP_URL", "https://mcp.opensea.io/sse"),
		PopularCollections: getListEnv("POPULAR_COLLECTIONS", DefaultPopularCollections),

		// Video settings
		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		VeoModel:           getEnv("VEO_MODEL", "veo-2.0-generate-001"),
		VideoJobTTL:        getDurationEnv("VIDEO_JOB_TTL", time.Hour),
		VideoSweepSchedule: getEnv("VIDEO_SWEEP_SCHEDULE", "@every 1m"),
		VeedAPIKey:         getEnv("VEED_API_KEY", ""),
		VeedBaseURL:        getEnv("VEED_BASE_URL", "https://api.veed.io/v1"),
		VideoDir:           getEnv("VIDEO_DIR", "public/videos"),

		// Audius settings
		AudiusAPIKey:  getEnv("AUDIUS_API_KEY", ""),
		AudiusBaseURL: getEnv("AUDIUS_BASE_URL", "https://api.audius.co/v1"),
		AudiusAppName: getEnv("AUDIUS_APP_NAME", "MUTE"),
		RedisURL:      getEnv("REDIS_URL", ""),
		MusicCacheTTL: getDurationEnv("MUSIC_CACHE_TTL", 5*time.Minute),

		// NATS settings
		NatsURL:         getEnv("NATS_URL", ""),
		NatsChatSubject: getEnv("NATS_CHAT_SUBJECT", "mute.chat"),
		NatsTimeout:     getDurationEnv("NATS_TIMEOUT", 30*time.Second),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.MaxToolIterations <= 0 {
		return nil, fmt.Errorf("MAX_TOOL_ITERATIONS must be positive, got %d", cfg.MaxToolIterations)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if o.AssistantName != "" {
		c.AssistantName = o.AssistantName
	}
	if o.AnthropicModel != "" {
		c.AnthropicModel = o.AnthropicModel
	}
	if o.MaxToolIterations != 0 {
		c.MaxToolIterations = o.MaxToolIterations
	}
	if len(o.PopularCollections) > 0 {
		c.PopularCollections = o.PopularCollections
	}
	return nil
}

// ChatTimeout bounds one whole chat exchange: every model call of the tool
// loop plus the final answer.
func (c *Config) ChatTimeout() time.Duration {
	return c.AnthropicTimeout * time.Duration(c.MaxToolIterations+1)
}

// ToolsEnabled reports whether the remote tool service can be reached at all.
func (c *Config) ToolsEnabled() bool {
	return c.OpenSeaBearerToken != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
