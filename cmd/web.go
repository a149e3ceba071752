package cmd

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/urfave/cli/v3"

	"github.com/yonasBSD/stract/pkg/api"
	"github.com/yonasBSD/stract/pkg/config"
	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/log"
	"github.com/yonasBSD/stract/pkg/realtime"
	"github.com/yonasBSD/stract/pkg/results"
	"github.com/yonasBSD/stract/pkg/storage"
	"github.com/yonasBSD/stract/pkg/stract"
	"github.com/yonasBSD/stract/pkg/version"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

var webLogger = log.ForComponent("web")

// WebCommand creates the web command serving the annotation UI and the API
func WebCommand() *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Start the annotation web server (HTML interface and JSON API)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "Port to listen on (overrides config)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind to (overrides config)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return startWebServer(ctx, c.String("config"), c.String("host"), c.String("port"))
		},
	}
}

// swappableSearcher lets config reloads replace the remote client without
// restarting the server.
type swappableSearcher struct {
	mu sync.RWMutex
	c  results.Searcher
}

func (s *swappableSearcher) Search(ctx context.Context, query string) ([]core.Webpage, error) {
	s.mu.RLock()
	c := s.c
	s.mu.RUnlock()
	return c.Search(ctx, query)
}

func (s *swappableSearcher) swap(c results.Searcher) {
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
}

// WebServer holds the server configuration and dependencies
type WebServer struct {
	store     *storage.Store
	loader    *results.Service
	hub       *realtime.Hub
	apiServer *api.Server
	templates *template.Template
}

// startWebServer starts the web server with both API and UI
func startWebServer(ctx context.Context, configPath, host, port string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if host == "" {
		host = cfg.Web.Host
	}
	if port == "" {
		port = cfg.Web.Port
	}

	store, err := storage.OpenAndMigrate(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			webLogger.Warnf("failed to close store: %v", err)
		}
	}()

	searcher := &swappableSearcher{c: newSearchClient(cfg)}
	hub := realtime.NewHub(32)
	loader := results.NewService(store, searcher, hub)

	webServer, err := NewWebServer(store, loader, hub)
	if err != nil {
		return err
	}

	handler := webServer.Handler()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", host, port),
		Handler: handler,
	}

	go func() {
		webLogger.Infof("starting web server on http://%s:%s", host, port)
		webLogger.Infof("endpoints: / (query list), /q/{qid} (annotation page), /api/... (JSON API)")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			webLogger.Errorf("server failed: %v", err)
			os.Exit(1)
		}
	}()

	// Signal handling: SIGHUP reloads config, SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Nil channels when the watcher is unavailable: those select cases
	// simply never fire.
	var watchEvents chan fsnotify.Event
	var watchErrors chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		webLogger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				webLogger.Warnf("failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			webLogger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			webLogger.Infof("watching config file for changes: %s", configPath)
		}
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	reload := func() {
		newCfg, err := config.LoadConfig(configPath)
		if err != nil {
			webLogger.Errorf("failed to reload config: %v", err)
			return
		}
		searcher.swap(newSearchClient(newCfg))
		webLogger.Infof("search settings reloaded: base_url=%s num_results=%d",
			newCfg.Search.BaseURL, newCfg.Search.NumResults)
	}

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				webLogger.Infof("received SIGHUP, reloading configuration")
				reload()
			case syscall.SIGINT, syscall.SIGTERM:
				webLogger.Infof("shutting down web server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		case event, ok := <-watchEvents:
			if !ok {
				continue
			}
			// Editors often replace files atomically, so rename/remove
			// count as changes too.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						webLogger.Warnf("config file removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						webLogger.Warnf("failed to re-add config file to watcher: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}
				webLogger.Infof("config file changed (%s), reloading", event.Op.String())
				reload()
			}
		case err, ok := <-watchErrors:
			if !ok {
				continue
			}
			webLogger.Warnf("config file watcher error: %v", err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	}
}

func newSearchClient(cfg *config.Config) *stract.Client {
	return stract.NewClient(cfg.Search.BaseURL, cfg.Search.NumResults, cfg.Search.Timeout.Duration)
}

// NewWebServer wires up the HTML layer over the loader and store.
func NewWebServer(store *storage.Store, loader *results.Service, hub *realtime.Hub) (*WebServer, error) {
	templates, err := template.New("").Funcs(template.FuncMap{
		"rankOptions": rankOptions,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	return &WebServer{
		store:     store,
		loader:    loader,
		hub:       hub,
		apiServer: api.NewServer(store, loader, hub),
		templates: templates,
	}, nil
}

// Handler builds the full route table: API routes, UI routes and static
// assets, wrapped in CORS and gzip middleware.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.apiServer.RegisterRoutes(mux)

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /q/{slug}", s.handleQuery)
	mux.HandleFunc("POST /q/{slug}/annotate", s.handleAnnotate)
	mux.HandleFunc("GET /static/", s.handleStatic)

	return api.CorsMiddleware(gzhttp.GzipHandler(mux))
}

// homeData is the render payload for the query list page.
type homeData struct {
	Title   string
	Queries []core.Query
	Stats   map[string]int
	Version string
}

// handleHome renders the query list
func (s *WebServer) handleHome(w http.ResponseWriter, r *http.Request) {
	queries, err := s.store.ListQueries()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list queries: %v", err), http.StatusInternalServerError)
		return
	}

	stats, err := s.store.Stats()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load stats: %v", err), http.StatusInternalServerError)
		return
	}

	data := homeData{
		Title:   "Queries - Stract Annotations",
		Queries: queries,
		Stats:   stats,
		Version: version.APIVersion(),
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// queryData is the render payload for the annotation page.
type queryData struct {
	Title   string
	Page    *results.Page
	Version string
}

// handleQuery renders the annotation page for one query. An unknown slug
// sends the client back to the query list with a permanent redirect.
func (s *WebServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	page, err := s.loader.Load(r.Context(), slug)
	if err != nil {
		if errors.Is(err, results.ErrQueryNotFound) {
			http.Redirect(w, r, "/", http.StatusMovedPermanently)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load results: %v", err), http.StatusInternalServerError)
		return
	}

	data := queryData{
		Title:   fmt.Sprintf("%s - Stract Annotations", page.Query.Text),
		Page:    page,
		Version: version.APIVersion(),
	}

	if err := s.templates.ExecuteTemplate(w, "query.html", data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// handleAnnotate applies a rank chosen in the annotation form. An empty rank
// clears the annotation. The browser is sent back to the page it came from.
func (s *WebServer) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid form: %v", err), http.StatusBadRequest)
		return
	}

	resultID := r.PostFormValue("result_id")
	if resultID == "" {
		http.Error(w, "result_id is required", http.StatusBadRequest)
		return
	}

	var rank *int
	if rankStr := r.PostFormValue("rank"); rankStr != "" {
		parsed, err := strconv.Atoi(rankStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid rank: %v", err), http.StatusBadRequest)
			return
		}
		rank = &parsed
	}

	result, err := s.store.GetSearchResult(resultID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to look up result: %v", err), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.NotFound(w, r)
		return
	}

	if err := s.store.SetAnnotatedRank(resultID, rank); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update rank: %v", err), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	if err := s.store.SaveExperiment(core.Experiment{
		ID:        uuid.New().String(),
		Name:      "annotate",
		ResultID:  resultID,
		Rank:      rank,
		CreatedAt: now,
	}); err != nil {
		webLogger.Warnf("failed to record experiment for %s: %v", resultID, err)
	}

	if s.hub != nil {
		s.hub.BroadcastAnnotation(realtime.AnnotationEvent{
			ResultID: resultID,
			QID:      result.QID,
			Rank:     rank,
			At:       now,
		})
	}

	http.Redirect(w, r, "/q/"+slug, http.StatusSeeOther)
}

// handleStatic serves static assets from embedded files
func (s *WebServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	filePath := "static/" + strings.TrimPrefix(path, "/static/")

	content, err := staticFS.ReadFile(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if strings.HasSuffix(path, ".css") {
		w.Header().Set("Content-Type", "text/css")
	} else if strings.HasSuffix(path, ".js") {
		w.Header().Set("Content-Type", "application/javascript")
	} else if strings.HasSuffix(path, ".ico") {
		w.Header().Set("Content-Type", "image/x-icon")
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")

	if _, err := w.Write(content); err != nil {
		webLogger.Errorf("writing static content: %v", err)
	}
}

// rankOption is one entry of the rank select on the annotation page.
type rankOption struct {
	Value    int
	Selected bool
}

// rankOptions builds the select options 0..10, marking the current rank.
func rankOptions(current *int) []rankOption {
	options := make([]rankOption, 11)
	for i := range options {
		options[i] = rankOption{
			Value:    i,
			Selected: current != nil && *current == i,
		}
	}
	return options
}
