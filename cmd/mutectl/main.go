// Command mutectl drives the MUTE backend components from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/config"
	"github.com/avvvet/mute-api/internal/handlers"
	"github.com/avvvet/mute-api/internal/llm"
	"github.com/avvvet/mute-api/internal/logging"
	"github.com/avvvet/mute-api/internal/mcp"
	"github.com/avvvet/mute-api/internal/prompts"
)

const version = "0.1.0"

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "mutectl",
	Short:         "Operator CLI for the MUTE API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show runtime logs")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(collectionsCmd)
}

func main() {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds the components a command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	tools  *mcp.Client
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = logging.New(cfg.LogLevel, "console")
		if err != nil {
			return nil, err
		}
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		tools:  mcp.NewClient(cfg.OpenSeaMCPURL, cfg.OpenSeaBearerToken, "mutectl", version),
	}, nil
}

func (e *env) chatHandler() *handlers.ChatHandler {
	provider := llm.NewAnthropicProvider(e.cfg.AnthropicAPIKey, e.cfg.AnthropicBaseURL, e.cfg.AnthropicTimeout)
	return handlers.NewChatHandler(provider, e.tools, prompts.NewSystemPrompt(e.cfg.AssistantName, "MUTE"), handlers.ChatOptions{
		Model:         e.cfg.AnthropicModel,
		MaxTokens:     e.cfg.MaxTokens,
		MaxIterations: e.cfg.MaxToolIterations,
	}, e.logger)
}

func (e *env) collectionsHandler() *handlers.CollectionsHandler {
	return handlers.NewCollectionsHandler(e.tools, e.cfg.PopularCollections, e.logger)
}
