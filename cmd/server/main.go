package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/db"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	// 1. Config: environment first, flags override
	cfg := config.FromEnv()
	var origins string

	cmd := &cobra.Command{
		Use:           "chat-server",
		Short:         "Real-time group chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("origins") {
				cfg.AllowedOrigins = config.ParseList(origins)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "http service address")
	f.StringVar(&cfg.Store, "store", cfg.Store, "message store: postgres or memory")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN (defaults to DB_DSN)")
	f.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for cross-instance fan-out; empty disables it")
	f.StringVar(&origins, "origins", "", "comma separated allowed origins")
	f.IntVar(&cfg.HistoryLimit, "history", cfg.HistoryLimit, "messages sent on connect")
	f.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "messages allowed per rate interval; 0 disables")
	f.DurationVar(&cfg.RateInterval, "rate-interval", cfg.RateInterval, "rate limit refill interval")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	// 2. Message Store (Platform Layer)
	var store chat.Store
	switch cfg.Store {
	case config.StoreMemory:
		store = chat.NewMemoryStore()
		log.Println("⚠️ Using in-memory message store")
	default:
		database, err := db.NewDatabase(ctx, cfg.DSN)
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		defer database.Close()
		log.Println("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			log.Fatalf("❌ Migration failed: %v", err)
		}
		log.Println("✅ Database Schema Initialized")
		store = chat.NewRepository(database.Conn)
	}

	// 3. Redis relay (optional)
	var relay chat.Relay
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✅ Connected to Redis")
		relay = chat.NewRedisRelay(redisClient)
	}

	// 4. Chat feature
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := chat.NewMetrics(reg)

	hub := chat.NewHub(relay, metrics)
	svc := chat.NewService(hub, chat.NewRegistry(), store, metrics, chat.Options{
		HistoryLimit: cfg.HistoryLimit,
		RateBurst:    cfg.RateBurst,
		RateInterval: cfg.RateInterval,
	})
	handler := chat.NewHandler(svc, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chat.NewRouter(handler, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Start the engines
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return hub.RunRelay(ctx)
	})
	g.Go(func() error {
		log.Printf("🚀 Server starting on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
