package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/avvvet/mute-api/internal/handlers"
	"github.com/avvvet/mute-api/internal/items"
	"github.com/avvvet/mute-api/internal/upstream"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools advertised by the NFT tool service",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var collectionsLimit int

var collectionsCmd = &cobra.Command{
	Use:   "collections <slug|trending>",
	Short: "Look up collection stats through the NFT tool service",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollections,
}

func init() {
	collectionsCmd.Flags().IntVarP(&collectionsLimit, "limit", "n", handlers.DefaultCollectionLimit, "Maximum collections to return")
}

func runTools(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tools, err := e.collectionsHandler().ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %s", upstream.Message(err, err.Error()))
	}

	rows := make([][]string, 0, len(tools))
	for _, t := range tools {
		rows = append(rows, []string{t.Name, firstLine(t.Description, 80)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Tool", "Description"}, rows, nil))
	fmt.Fprintf(cmd.OutOrStdout(), "%d tools\n", len(tools))
	return nil
}

func runCollections(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	found, err := e.collectionsHandler().Lookup(ctx, args[0], collectionsLimit)
	if err != nil {
		return fmt.Errorf("lookup %s: %s", args[0], upstream.Message(err, err.Error()))
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderItems(found))
	return nil
}

func renderItems(list []items.AggregatedItem) string {
	rows := make([][]string, 0, len(list))
	for _, it := range list {
		floor := ""
		if it.FloorPrice != nil {
			floor = fmt.Sprint(it.FloorPrice)
		}
		rows = append(rows, []string{it.Identifier, it.Name, it.Collection, floor})
	}
	return renderTable([]string{"Identifier", "Name", "Collection", "Floor"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return s
}
