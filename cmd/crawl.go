package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var req crawler.CrawlRequest
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and exit",
		Long: `Discovers every listed business for each --category in --city/--state,
enriches them from their detail pages, writes the results to the configured
sinks, and prints a JSON run summary.`,
		Example: "listing-crawler crawl --city anchorage --state ak --category plumbers --category electricians",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.City, "city", "", "city to crawl")
	cmd.Flags().StringVar(&req.State, "state", "", "state to crawl")
	cmd.Flags().StringSliceVar(&req.Categories, "category", nil, "listing category (repeatable)")
	_ = cmd.MarkFlagRequired("city")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, req crawler.CrawlRequest) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), appInstance, &err)

	summary, err := appInstance.Crawl(cmd.Context(), req)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
