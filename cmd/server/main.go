/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Open the SQLite store and, if enabled, the Redis balance cache
  4. Create the engine, API handler and router
  5. Start the voucher expiry scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database
  -token   Print a bearer token for role:subject[:tenant] and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the expiry scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close cache and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with in-memory database and demo scenarios
  LOYALTY_SCENARIOS_ENABLED=true ./server -db=":memory:"

  # Token for a partner of tenant t-123
  ./server -token partner:alice:t-123

ENVIRONMENT:
  Every config key can be set as LOYALTY_<SECTION>_<KEY>, for example
  LOYALTY_AUTH_JWT_SECRET or LOYALTY_REDIS_ENABLED.

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/cache"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	token := flag.String("token", "", "Print a token for role:subject[:tenant] and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	tokens := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if *token != "" {
		if err := printToken(tokens, *token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, tokens, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, tokens *api.Tokens, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Display balance cache
	var balanceCache cache.BalanceCache = cache.Nop{}
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rc.Close()
		balanceCache = rc
		logger.Info("balance cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	engine := rewards.NewEngine(store, balanceCache, logger)
	engine.VoucherValidity = cfg.Vouchers.Validity
	engine.CodeRetries = cfg.Vouchers.CodeRetries

	handler := api.NewHandler(engine, store, logger)
	router := api.NewRouter(handler, tokens, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Scenarios:      cfg.Scenarios.Enabled,
	})

	// Background voucher expiry
	expiry := api.NewExpiryScheduler(engine, logger)
	expiry.Enabled = cfg.Scheduler.Enabled
	expiry.Interval = cfg.Scheduler.ExpiryInterval
	if err := expiry.Start(); err != nil {
		return fmt.Errorf("start expiry scheduler: %w", err)
	}
	defer expiry.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("app", cfg.App.Name),
			zap.String("env", cfg.App.Env),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("scenarios", cfg.Scenarios.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	expiry.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// printToken issues a token for "role:subject[:tenant]" and writes it to
// stdout.
func printToken(tokens *api.Tokens, arg string) error {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 {
		return fmt.Errorf("token: want role:subject[:tenant], got %q", arg)
	}
	p := api.Principal{Role: api.Role(parts[0]), Subject: parts[1]}
	if len(parts) == 3 {
		p.TenantID = parts[2]
	}
	tok, err := tokens.IssueToken(p)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Println(tok)
	return nil
}
