package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/yonasBSD/stract/pkg/config"
	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/storage"
)

var (
	queryTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	qidStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	queryTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	annotatedCountStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("32"))
)

// QueriesCommand creates the queries command with its subcommands
func QueriesCommand() *cli.Command {
	return &cli.Command{
		Name:  "queries",
		Usage: "Manage the query chain",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Append a query to the chain",
				ArgsUsage: "<query text>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "qid",
						Usage: "Explicit query identifier (defaults to a generated one)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if text == "" {
						return fmt.Errorf("query text is required")
					}
					return addQuery(c.String("config"), c.String("qid"), text)
				},
			},
			{
				Name:  "list",
				Usage: "List all queries",
				Action: func(ctx context.Context, c *cli.Command) error {
					return listQueries(c.String("config"))
				},
			},
			{
				Name:      "import",
				Usage:     "Import queries from a file, one per line",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one file argument")
					}
					return importQueries(c.String("config"), c.Args().First())
				},
			},
		},
	}
}

func addQuery(configPath, qid, text string) error {
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

	if qid == "" {
		qid = newQID()
	}

	if err := store.SaveQuery(core.Query{
		QID:       qid,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("saving query: %w", err)
	}

	fmt.Printf("Added query %s: %s\n", qid, text)
	return nil
}

func listQueries(configPath string) error {
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

	queries, err := store.ListQueries()
	if err != nil {
		return fmt.Errorf("listing queries: %w", err)
	}

	title := cases.Title(language.English).String("queries")
	fmt.Println(queryTitleStyle.Render(fmt.Sprintf("%s (%d)", title, len(queries))))

	if len(queries) == 0 {
		fmt.Println("No queries yet.")
		return nil
	}

	for _, q := range queries {
		results, err := store.GetSearchResults(q.QID)
		if err != nil {
			return fmt.Errorf("loading results for %s: %w", q.QID, err)
		}

		annotated := 0
		for _, r := range results {
			if r.AnnotatedRank != nil {
				annotated++
			}
		}

		line := fmt.Sprintf("%s  %s  %s",
			qidStyle.Render(q.QID),
			queryTextStyle.Render(q.Text),
			annotatedCountStyle.Render(fmt.Sprintf("%d/%d annotated", annotated, len(results))))
		fmt.Println(line)
	}

	return nil
}

func importQueries(configPath, filePath string) error {
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

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Printf("Warning: failed to close %s: %v\n", filePath, err)
		}
	}()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if err := store.SaveQuery(core.Query{
			QID:       newQID(),
			Text:      text,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("saving query %q: %w", text, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}

	fmt.Printf("Imported %d queries from %s\n", count, filePath)
	return nil
}

// newQID generates a short identifier usable as a URL slug.
func newQID() string {
	return uuid.New().String()[:8]
}
