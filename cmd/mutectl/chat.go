package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avvvet/mute-api/internal/models"
	"github.com/avvvet/mute-api/internal/upstream"
)

var chatNoTools bool

var chatCmd = &cobra.Command{
	Use:   "chat <message...>",
	Short: "Run one orchestrated chat exchange",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "Do not offer NFT tools to the model")
}

func runChat(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	if e.cfg.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ChatTimeout())
	defer cancel()

	content, err := json.Marshal(strings.Join(args, " "))
	if err != nil {
		return err
	}
	useTools := !chatNoTools

	fmt.Fprintln(os.Stderr, "  ↳ thinking...")
	resp, err := e.chatHandler().ProcessChat(ctx, &models.ChatRequest{
		Messages: []models.ConversationMessage{{Role: models.RoleUser, Content: content}},
		UseTools: &useTools,
	})
	if err != nil {
		return errors.New(upstream.Message(err, "chat failed"))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Message)

	if len(resp.Actions) > 0 {
		rows := make([][]string, 0, len(resp.Actions))
		for _, a := range resp.Actions {
			param2 := ""
			if a.Param2 != nil {
				param2 = fmt.Sprint(*a.Param2)
			}
			rows = append(rows, []string{a.Type, a.Param1, param2})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Action", "Param 1", "Param 2"}, rows, nil))
	}

	if len(resp.Items) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderItems(resp.Items))
	}
	if resp.IterationLimitReached {
		fmt.Fprintln(os.Stderr, "  ! tool iteration limit reached, reply is partial")
	}
	return nil
}
