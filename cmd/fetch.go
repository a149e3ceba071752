package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/yonasBSD/stract/pkg/config"
	"github.com/yonasBSD/stract/pkg/results"
	"github.com/yonasBSD/stract/pkg/storage"
)

// FetchCommand creates the fetch command
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch and cache search results for queries",
		ArgsUsage: "[qid...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Fetch results for every query in the chain",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return fetchResults(ctx, c.String("config"), c.Bool("all"), c.Args().Slice())
		},
	}
}

// fetchResults warms the result cache for the given queries so annotation
// sessions don't wait on the remote engine.
func fetchResults(ctx context.Context, configPath string, all bool, qids []string) error {
	if !all && len(qids) == 0 {
		return fmt.Errorf("pass one or more qids, or --all")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.OpenAndMigrate(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("Warning: failed to close store: %v\n", err)
		}
	}()

	loader := results.NewService(store, newSearchClient(cfg), nil)

	if all {
		queries, err := store.ListQueries()
		if err != nil {
			return fmt.Errorf("listing queries: %w", err)
		}
		qids = qids[:0]
		for _, q := range queries {
			qids = append(qids, q.QID)
		}
	}

	for _, qid := range qids {
		page, err := loader.Load(ctx, qid)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", qid, err)
		}
		fmt.Printf("%s: %d results cached\n", qid, len(page.SearchResults))
	}

	return nil
}
