/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Ledger Engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize structured logging
  3. Initialize SQLite store (seed demo book if empty)
  4. Create API handler and router
  5. Start auto-enter scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: book.db, env DATABASE_PATH)
           Use ":memory:" for in-memory database
  -seed    Seed the demo book when the database has no accounts
  -cron    Auto-enter cron spec (default: @hourly)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auto-enter scheduler
  4. Tear down account sessions and close the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/book.db"

  # Run with in-memory demo book
  ./server -db=":memory:" -seed

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	// .env is optional; flags override it.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "book.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "seed the demo book when the database is empty")
	cronSpec := flag.String("cron", "@hourly", "auto-enter cron spec")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	ctx := context.Background()
	if *seed {
		accounts, err := store.Accounts(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read accounts")
		}
		if len(accounts) == 0 {
			if err := factory.Seed(ctx, store, factory.DemoBook()); err != nil {
				log.Fatal().Err(err).Msg("failed to seed demo book")
			}
			log.Info().Msg("demo book seeded")
		}
	}

	// Initialize handler and router
	handler := api.NewHandler(store, log)
	handler.Seeder = func(ctx context.Context, s *sqlite.Store) error {
		return factory.Seed(ctx, s, factory.DemoBook())
	}
	defer handler.Close()
	router := api.NewRouter(handler)

	// Auto-enter scheduler
	scheduler := api.NewAutoEnterScheduler(store, log)
	scheduler.Spec = *cronSpec
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
