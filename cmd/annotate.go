package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/yonasBSD/stract/pkg/config"
	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/storage"
)

// AnnotateCommand creates the annotate command
func AnnotateCommand() *cli.Command {
	return &cli.Command{
		Name:      "annotate",
		Usage:     "Set or clear the annotated rank of a search result",
		ArgsUsage: "<result-id> [rank]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Clear the annotated rank instead of setting one",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("result-id is required")
			}

			var rank *int
			if !c.Bool("clear") {
				if len(args) != 2 {
					return fmt.Errorf("pass a rank, or --clear")
				}
				parsed, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid rank %q: %w", args[1], err)
				}
				rank = &parsed
			}

			return annotateResult(c.String("config"), args[0], rank)
		},
	}
}

func annotateResult(configPath, resultID string, rank *int) error {
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

	if err := store.SetAnnotatedRank(resultID, rank); err != nil {
		return fmt.Errorf("updating rank: %w", err)
	}

	if err := store.SaveExperiment(core.Experiment{
		ID:        uuid.New().String(),
		Name:      "annotate",
		ResultID:  resultID,
		Rank:      rank,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("recording experiment: %w", err)
	}

	if rank == nil {
		fmt.Printf("Cleared annotated rank for %s\n", resultID)
	} else {
		fmt.Printf("Set annotated rank %d for %s\n", *rank, resultID)
	}
	return nil
}
