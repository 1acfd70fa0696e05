package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/celebwire/pkg/cache"
	"github.com/Sternrassler/celebwire/pkg/config"
	"github.com/Sternrassler/celebwire/pkg/credential"
	"github.com/Sternrassler/celebwire/pkg/fetcher"
	"github.com/Sternrassler/celebwire/pkg/logging"
	"github.com/Sternrassler/celebwire/pkg/roster"
	"github.com/Sternrassler/celebwire/pkg/rotation"
	"github.com/Sternrassler/celebwire/pkg/scheduler"
	"github.com/Sternrassler/celebwire/pkg/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "celebwired",
	Short:   "Celebrity news ingestion daemon",
	Long:    "celebwired rotates through a roster of tracked names, fetches fresh coverage on a schedule, deduplicates it into local storage, and serves it with an audit trail.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
			cfg.Logging.Pretty = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("celebwired", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/celebwire/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the roster and set CELEBWIRE_API_KEYS.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored articles and fetch history",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cfg.StoragePath())
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		stats, err := db.Stats(ctx)
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		fmt.Println("Articles:")
		fmt.Printf("  Total stored: %d\n", stats.TotalArticles)
		fmt.Println("\nFetch cycles:")
		fmt.Printf("  Total: %d\n", stats.TotalCycles)
		fmt.Printf("  Successful: %d\n", stats.SuccessCycles)
		fmt.Printf("  Failed: %d\n", stats.FailedCycles)
		fmt.Printf("  API calls consumed: %d\n", stats.TotalAPICalls)
		if stats.LastFetchedAt != nil {
			fmt.Printf("  Last cycle: %s\n", stats.LastFetchedAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run a single fetch cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if app.limited {
			return errors.New("all credentials are rate limited; try again later")
		}

		fmt.Println("Running fetch cycle...")
		if !app.orch.RunOnce(ctx) {
			return errors.New("a cycle is already running")
		}

		last, err := app.db.RecentCycles(ctx, 1)
		if err != nil || len(last) == 0 {
			return fmt.Errorf("cycle finished but no audit record found: %w", err)
		}
		cycle := last[0]

		fmt.Println("\nCycle complete:")
		fmt.Printf("  Status: %s\n", cycle.Status)
		fmt.Printf("  New articles: %d\n", cycle.NewItems)
		fmt.Printf("  Duplicates skipped: %d\n", cycle.Duplicates)
		fmt.Printf("  API calls: %d\n", cycle.APICalls)
		if cycle.Error != "" {
			fmt.Printf("  Error: %s\n", cycle.Error)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		go app.orch.Run(ctx)

		return serveHTTP(ctx, app, cfg.Server.Port)
	},
}

// app bundles the wired pipeline for the daemon commands.
type app struct {
	logger  zerolog.Logger
	redis   *redis.Client
	db      *store.DB
	pool    *credential.Pool
	cache   *cache.Manager
	ttl     cache.TTLPolicy
	orch    *scheduler.Orchestrator
	limited bool
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func buildApp(ctx context.Context) (*app, error) {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.RedisPassword(),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	db, err := store.Open(cfg.StoragePath())
	if err != nil {
		redisClient.Close()
		return nil, err
	}

	client := fetcher.New(fetcher.Config{
		BaseURL:  cfg.API.BaseURL,
		Timeout:  cfg.API.Timeout.Std(),
		PageSize: cfg.API.PageSize,
		Language: cfg.API.Language,
	}).WithLogger(logging.NewLogger("fetcher"))

	pool := credential.NewPool(redisClient, client, cfg.APIKeys(), logging.NewLogger("credential"))

	a := &app{
		logger: logger,
		redis:  redisClient,
		db:     db,
		pool:   pool,
		cache:  cache.NewManager(redisClient, logging.NewLogger("cache")),
	}
	a.ttl = cache.DefaultTTLPolicy()
	if cfg.Cache.ListTTL > 0 {
		a.ttl.List = cfg.Cache.ListTTL.Std()
	}
	if cfg.Cache.TrendingTTL > 0 {
		a.ttl.Trending = cfg.Cache.TrendingTTL.Std()
	}
	if cfg.Cache.StatisticsTTL > 0 {
		a.ttl.Statistics = cfg.Cache.StatisticsTTL.Std()
	}

	if err := pool.StartupCheck(ctx); err != nil {
		if !errors.Is(err, credential.ErrAllRateLimited) {
			a.Close()
			return nil, err
		}
		// Limited mode: keep serving stored articles, skip ingestion
		// until quotas reset.
		a.limited = true
		logger.Warn().Msg("All credentials rate limited, starting in limited mode")
	}

	entities := make([]roster.Entity, 0, len(cfg.Roster))
	for _, e := range cfg.Roster {
		entities = append(entities, roster.Entity{
			ID:       e.ID,
			Name:     e.Name,
			Aliases:  e.Aliases,
			Active:   e.IsActive(),
			Priority: e.Priority,
		})
	}

	retry := fetcher.DefaultRetryConfig()
	if cfg.Fetch.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Fetch.MaxRetries
	}
	if cfg.Fetch.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.Fetch.InitialBackoff.Std()
	}

	a.orch = scheduler.New(scheduler.Deps{
		Roster:   roster.NewStaticProvider(entities),
		Planner:  rotation.NewPlanner(cfg.Fetch.BatchSize),
		Cursor:   rotation.NewCursorStore(redisClient, logging.NewLogger("rotation")),
		Executor: fetcher.NewExecutor(client, pool, retry, logging.NewLogger("executor")),
		Store:    a.db,
		Cache:    a.cache,
	}, scheduler.Options{
		Interval:         cfg.Fetch.Interval.Std(),
		AdvanceOnFailure: cfg.Fetch.AdvanceOnFailure,
	}, logging.NewLogger("scheduler"))

	if a.limited {
		a.orch.SetIngestionEnabled(false)
	}
	return a, nil
}
