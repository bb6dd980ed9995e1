// Package main provides the trendwire daemon and one-shot CLI.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/trendwire/internal/config"
	gormdb "github.com/thebtf/trendwire/internal/db/gorm"
	"github.com/thebtf/trendwire/internal/metrics"
	"github.com/thebtf/trendwire/internal/scheduler"
	"github.com/thebtf/trendwire/internal/watcher"
)

// Version is the current version of trendwire (injected at build time).
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	once := flag.Bool("once", false, "Generate clusters for --scope once and print them")
	scope := flag.String("scope", "", "Scope to operate on (user id or \"global\")")
	similar := flag.String("similar", "", "Print articles similar to this article id within --scope")
	importPath := flag.String("import", "", "Upsert articles from a JSON file into --scope before running")
	list := flag.Bool("list", false, "Print live clusters for --scope")
	lookback := flag.Duration("lookback", 0, "Lookback window override (e.g. 24h)")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	store, err := gormdb.NewStore(storeConfig(cfg, *debug))
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to initialize store")
	}
	defer store.Close()
	repo := gormdb.NewRepository(store)

	shutdownMetrics, err := metrics.Setup(cfg.MetricsPath, cfg.MetricsExportInterval())
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.MetricsPath).Msg("Metrics export disabled")
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(flushCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush metrics")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down trendwire")
		cancel()
	}()

	oneShot := *once || *similar != "" || *importPath != "" || *list
	if oneShot && *scope == "" {
		log.Fatal().Msg("--scope is required")
	}

	if *importPath != "" {
		n, err := importArticles(ctx, repo, *scope, *importPath)
		if err != nil {
			log.Fatal().Err(err).Str("file", *importPath).Msg("Import failed")
		}
		log.Info().Int("articles", n).Str("scope", *scope).Msg("Imported articles")
	}

	manager := buildManager(cfg, repo)

	switch {
	case *once:
		result, err := manager.GenerateClusters(ctx, *scope, *lookback)
		if err != nil {
			log.Fatal().Err(err).Str("scope", *scope).Msg("Cluster generation failed")
		}
		printJSON(os.Stdout, result)
	case *similar != "":
		articles, err := manager.FindSimilarArticles(ctx, *similar, *scope)
		if err != nil {
			log.Fatal().Err(err).Str("article", *similar).Msg("Similar-article search failed")
		}
		printJSON(os.Stdout, articles)
	case *list:
		clusters, err := manager.GetUserClusters(ctx, *scope, 0)
		if err != nil {
			log.Fatal().Err(err).Str("scope", *scope).Msg("Listing clusters failed")
		}
		printJSON(os.Stdout, clusters)
	case *importPath != "":
		// import only
	default:
		runDaemon(ctx, cfg, repo, *scope)
	}
}

// runDaemon schedules generation and expiry until ctx is cancelled,
// rebuilding the manager and schedule whenever the settings or scopes file changes.
func runDaemon(ctx context.Context, cfg *config.Config, repo *gormdb.Repository, onlyScope string) {
	sched := scheduler.New(buildManager(cfg, repo))

	reg, err := loadScopes(cfg, onlyScope)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ScopesPath).Msg("Failed to load scopes")
	}
	if err := sched.Configure(reg, schedulerOptions(cfg)); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure scheduler")
	}
	sched.Start()
	defer sched.Stop()

	w, err := watcher.New(func(path string) {
		next, err := config.Load()
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload config")
			return
		}
		nextReg, err := loadScopes(next, onlyScope)
		if err != nil {
			log.Error().Err(err).Str("path", next.ScopesPath).Msg("Failed to reload scopes, keeping current schedule")
			return
		}
		if err := sched.Configure(nextReg, schedulerOptions(next)); err != nil {
			log.Error().Err(err).Msg("Invalid schedule, keeping current schedule")
			return
		}
		sched.SetRunner(buildManager(next, repo))
		log.Info().Str("path", path).Msg("Configuration reloaded")
	}, config.SettingsPath(), cfg.ScopesPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		defer w.Stop()
		log.Info().Str("path", config.SettingsPath()).Msg("Config file watcher started")
	}

	log.Info().Str("version", Version).Strs("scopes", reg.Names()).Msg("trendwire started")
	<-ctx.Done()
}

func printJSON(out io.Writer, v interface{}) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode output")
	}
}
