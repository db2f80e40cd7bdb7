// Package main runs the discover reference service: JSON-RPC over HTTP,
// engagement push over WebSocket, health and Prometheus metrics.
//
// Storage is in-memory by default. With --store postgres, profiles, swipes
// and activities live in PostgreSQL; --clickhouse-dsn moves the activity log
// to ClickHouse and --dynamo-table moves swipes to DynamoDB. --redis-url fans
// engagement events out across instances.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"discover-engine/internal/backend"
	"discover-engine/internal/broker"
	"discover-engine/internal/config"
	"discover-engine/internal/storage"
	chstore "discover-engine/internal/storage/clickhouse"
	"discover-engine/internal/storage/dynamo"
	"discover-engine/internal/storage/memory"
	"discover-engine/internal/storage/migrations"
	pgstore "discover-engine/internal/storage/postgres"
)

const shutdownTimeout = 30 * time.Second

// storeOptions selects the storage backends.
type storeOptions struct {
	kind          string // memory | postgres
	postgresDSN   string
	clickhouseDSN string
	dynamoTable   string
	dynamoRegion  string
	dynamoURL     string
}

// stores holds the storage implementations used by the service.
type stores struct {
	profiles   storage.ProfileStore
	swipes     storage.SwipeStore
	activities storage.ActivityStore
}

func main() {
	config.LoadEnvFile(".env")

	addr := flag.String("addr", config.EnvOr("DISCOVERD_ADDR", ":8080"), "HTTP listen address")
	storeKind := flag.String("store", config.EnvOr("DISCOVERD_STORE", "memory"), "Primary storage: memory or postgres")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the activity log")
	dynamoTable := flag.String("dynamo-table", os.Getenv("DYNAMO_TABLE"), "DynamoDB table for swipes")
	dynamoRegion := flag.String("dynamo-region", config.EnvOr("AWS_REGION", "us-east-1"), "DynamoDB region")
	dynamoURL := flag.String("dynamo-endpoint", os.Getenv("DYNAMO_ENDPOINT"), "DynamoDB endpoint override (e.g. DynamoDB Local)")
	redisURL := flag.String("redis-url", os.Getenv("REDIS_URL"), "Redis URL for cross-instance engagement fan-out")
	origins := flag.String("allowed-origins", os.Getenv("DISCOVERD_ALLOWED_ORIGINS"), "Comma-separated CORS origins (default: any)")
	seed := flag.Int("seed", 0, "Seed N demo profiles on startup")

	flag.Parse()

	logger := log.New(os.Stdout, "[discoverd] ", log.LstdFlags|log.Lshortfile)

	opts := storeOptions{
		kind:          *storeKind,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		dynamoTable:   *dynamoTable,
		dynamoRegion:  *dynamoRegion,
		dynamoURL:     *dynamoURL,
	}
	if err := opts.validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, opts)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	b, err := createBroker(ctx, *redisURL)
	if err != nil {
		logger.Fatalf("Failed to create broker: %v", err)
	}
	defer b.Close()

	if *seed > 0 {
		n, err := backend.SeedProfiles(ctx, st.profiles, *seed, 1)
		if err != nil {
			logger.Fatalf("Failed to seed profiles: %v", err)
		}
		logger.Printf("Seeded %d profiles", n)
	}

	svc := backend.NewService(backend.Options{
		Profiles:   st.profiles,
		Swipes:     st.swipes,
		Activities: st.activities,
		Broker:     b,
		Logger:     log.New(os.Stdout, "[backend] ", log.LstdFlags),
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           backend.NewRouter(svc, backend.RouterOptions{AllowedOrigins: splitList(*origins)}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to signal completion
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		case <-done:
			return
		}
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-done:
		}
	}()

	err = serve(ctx, server, logger)
	close(done)
	if err != nil {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// serve runs server until ctx is cancelled, then drains it.
func serve(ctx context.Context, server *http.Server, logger *log.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (o storeOptions) validate() error {
	switch o.kind {
	case "memory":
	case "postgres":
		if o.postgresDSN == "" {
			return errors.New("--postgres-dsn is required with --store postgres")
		}
	default:
		return fmt.Errorf("unknown --store %q (memory, postgres)", o.kind)
	}
	return nil
}

// createStores opens the primary store, then applies the ClickHouse and
// DynamoDB overrides when configured.
func createStores(ctx context.Context, opts storeOptions) (*stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st := &stores{
		profiles:   memory.NewProfileStore(),
		swipes:     memory.NewSwipeStore(),
		activities: memory.NewActivityStore(),
	}

	if opts.kind == "postgres" {
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}

		st.profiles = pgstore.NewProfileStore(pool)
		st.swipes = pgstore.NewSwipeStore(pool)
		st.activities = pgstore.NewActivityStore(pool)
	}

	if opts.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		st.activities = chstore.NewActivityStore(conn)
	}

	if opts.dynamoTable != "" {
		client, err := dynamo.NewClient(ctx, opts.dynamoRegion, opts.dynamoURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to dynamodb: %w", err)
		}
		if err := dynamo.EnsureTable(ctx, client, opts.dynamoTable); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("ensure dynamodb table: %w", err)
		}
		st.swipes = dynamo.NewSwipeStore(client, opts.dynamoTable)
	}

	return st, cleanup, nil
}

// createBroker returns a Redis broker when redisURL is set, else an in-process one.
func createBroker(ctx context.Context, redisURL string) (broker.Broker, error) {
	if redisURL == "" {
		return broker.NewMemory(), nil
	}
	return broker.NewRedis(ctx, broker.RedisOptions{
		URL:    redisURL,
		Logger: log.New(os.Stdout, "[broker] ", log.LstdFlags),
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
