package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/vigil/internal/api"
	"github.com/wonny/vigil/internal/api/handlers"
	"github.com/wonny/vigil/internal/auth"
	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/engine"
	"github.com/wonny/vigil/internal/execution"
	"github.com/wonny/vigil/internal/feed"
	"github.com/wonny/vigil/internal/killswitch"
	"github.com/wonny/vigil/internal/notify"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/internal/store"
	"github.com/wonny/vigil/internal/stress"
	"github.com/wonny/vigil/pkg/config"
	"github.com/wonny/vigil/pkg/database"
	"github.com/wonny/vigil/pkg/httputil"
	"github.com/wonny/vigil/pkg/logger"
	"github.com/wonny/vigil/pkg/redis"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the risk engine and API server",
	Long: `Starts the full service: the metrics scheduler, the evaluation
loop with the kill switch, the price stream consumer and the REST API.

Endpoints:
  GET  /health                   - Health check
  GET  /api/risk/snapshot        - Latest risk snapshot
  GET  /api/risk/alerts          - Recent alerts
  POST /api/risk/stress          - Run stress scenarios
  POST /api/risk/size            - Size a trading signal
  GET  /api/killswitch/status    - Kill switch state
  GET  /api/killswitch/events    - Kill switch audit trail
  POST /api/killswitch/override  - Request a trigger override
  POST /api/killswitch/reset     - Re-arm after execution

Example:
  go run ./cmd/vigil run
  go run ./cmd/vigil run --port 8095`,
	RunE: runServer,
}

var runPort string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPort, "port", "", "API server port (default from PORT)")
}

func runServer(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runPort != "" {
		cfg.Port = runPort
	}
	if riskConfigFile != "" {
		cfg.RiskConfigPath = riskConfigFile
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load and validate risk parameters
	rc, _, err := riskconfig.Load(cfg.RiskConfigPath)
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}
	hash, err := riskconfig.Hash(rc)
	if err != nil {
		return fmt.Errorf("hash risk config: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"path":      cfg.RiskConfigPath,
		"config_id": rc.Meta.ConfigID,
		"hash":      hash,
	}).Info("Risk parameters loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect to database (optional)
	var repo *store.Repository
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo = store.NewRepository(db.Pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		log.Info("Connected to database")
	} else {
		log.Warn("DATABASE_URL not set, persistence disabled")
	}

	// 5. Connect to Redis (optional)
	var cache *redis.Cache
	redisClient, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient.Enabled() {
		defer redisClient.Close()
		cache = redis.NewCache(redisClient, "vigil")
		log.Info("Connected to Redis")
	}

	// 6. Build the market data feed
	lookback := rc.RiskCalculations.VaR.LookbackDays
	marketFeed := feed.New(lookback, cfg.Feed.BenchmarkSymbol, cfg.Feed.CacheTTL, cache, log)
	if err := marketFeed.LoadState(ctx); err != nil {
		log.WithError(err).Warn("Could not restore feed state, starting cold")
	}
	if cfg.PortfolioPath != "" {
		portfolio, err := feed.LoadPortfolioFile(cfg.PortfolioPath)
		if err != nil {
			return fmt.Errorf("load portfolio: %w", err)
		}
		marketFeed.SetPortfolio(portfolio)
		log.WithField("positions", len(portfolio.Positions)).Info("Portfolio loaded")
	}

	// 7. Notifier
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.WebhookURL != "" {
		webhookClient := httputil.New(log, cfg.Notify.RequestTimeout).
			WithRateLimit(cfg.Notify.RatePerMinute)
		notifier = notify.NewFanout(
			notify.NewLogNotifier(log),
			notify.NewWebhookNotifier(webhookClient, cfg.Notify.WebhookURL, log),
		)
	}

	// 8. Execution client
	var exec contracts.ExecutionClient
	if cfg.Exec.BaseURL != "" {
		exec = execution.NewRESTClient(cfg.Exec, log)
	} else {
		if cfg.Env == "production" {
			return fmt.Errorf("EXEC_BASE_URL is required in production")
		}
		log.Warn("EXEC_BASE_URL not set, running execution in dry-run mode")
		exec = execution.NewDryRunClient(log)
	}

	// 9. Role authorizer
	var authorizer contracts.RoleAuthorizer
	if cfg.OperatorGrants != "" {
		authorizer, err = auth.ParseGrants(cfg.OperatorGrants)
		if err != nil {
			return fmt.Errorf("parse operator grants: %w", err)
		}
	} else {
		if cfg.Env == "production" {
			return fmt.Errorf("OPERATOR_GRANTS is required in production")
		}
		log.Warn("OPERATOR_GRANTS not set, any actor can override and reset")
		authorizer = auth.AllowAll{}
	}

	// 10. Kill switch, with persisted overrides restored
	var sink killswitch.EventSink
	if repo != nil {
		sink = repo
	}
	ks := killswitch.New(rc, exec, authorizer, notifier, sink, log)
	if repo != nil {
		overrides, err := repo.ActiveOverrides(ctx, time.Now())
		if err != nil {
			log.WithError(err).Warn("Could not restore overrides")
		} else if len(overrides) > 0 {
			ks.RestoreOverrides(overrides)
			log.WithField("count", len(overrides)).Info("Restored active overrides")
		}
	}

	// 11. Engine
	var engineRepo engine.Repository
	if repo != nil {
		engineRepo = repo
	}
	eng := engine.New(rc, marketFeed, ks, notifier, engineRepo, log)

	// 12. Price stream (optional)
	if cfg.Feed.WSURL != "" {
		symbols := []string{cfg.Feed.BenchmarkSymbol}
		if p, err := marketFeed.Portfolio(ctx); err == nil {
			symbols = append(symbols, p.Symbols()...)
		}
		stream := feed.NewStream(cfg.Feed, marketFeed, symbols, log)
		if err := stream.Start(ctx); err != nil {
			return fmt.Errorf("start price stream: %w", err)
		}
		defer stream.Stop()
	} else {
		log.Warn("FEED_WS_URL not set, relying on seeded data only")
	}

	// 13. Periodic feed state persistence
	if cache != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := marketFeed.SaveState(ctx); err != nil {
						log.WithError(err).Warn("Failed to save feed state")
					}
				}
			}
		}()
	}

	// 14. Engine loop
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	// 15. API server
	riskHandler := handlers.NewRiskHandler(eng, stress.NewTester(rc), marketFeed, alertStore(repo), exec, rc, log)
	ksHandler := handlers.NewKillSwitchHandler(ks, eventStore(repo), log)
	router := api.NewRouter(riskHandler, ksHandler, log)
	server := api.New(cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.WithField("port", cfg.Port).Info("Vigil started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-engineDone:
		if err != nil && err != context.Canceled {
			log.WithError(err).Error("Engine stopped unexpectedly")
		}
	}

	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := marketFeed.SaveState(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to save feed state on shutdown")
	}

	log.Info("Stopped")
	return nil
}

// alertStore avoids handing the handlers a typed nil when persistence
// is disabled.
func alertStore(repo *store.Repository) handlers.AlertStore {
	if repo == nil {
		return nil
	}
	return repo
}

func eventStore(repo *store.Repository) handlers.EventStore {
	if repo == nil {
		return nil
	}
	return repo
}
