package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/commission"
	"github.com/fondiart/ledger-engine/internal/config"
	"github.com/fondiart/ledger-engine/internal/ledger"
	"github.com/fondiart/ledger-engine/internal/metrics"
	"github.com/fondiart/ledger-engine/internal/model"
	"github.com/fondiart/ledger-engine/internal/store"
	"github.com/fondiart/ledger-engine/internal/token"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.TTLSecs)*time.Second)
			slog.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Commission rates ---
	rates, err := parseRates(cfg.Ledger)
	if err != nil {
		slog.Error("invalid commission rates", "err", err)
		os.Exit(1)
	}

	// --- Platform account ---
	if err := ensurePlatformAccount(context.Background(), st, cfg.Ledger.PlatformAccountID); err != nil {
		slog.Error("platform account init failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := ledger.NewWSHub()
	go wsHub.Run()

	// --- Ledger engine ---
	engine := ledger.NewEngine(st, rates, cfg.Ledger.PlatformAccountID, token.NewStaticService(), wsHub)
	engine.SetOperationTimeout(time.Duration(cfg.Ledger.OperationTimeoutSecs) * time.Second)
	svc := ledger.NewService(engine)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time operation events.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
	})

	// --- Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}

func parseRates(lc config.LedgerConfig) (commission.Rates, error) {
	buyer, err := decimal.NewFromString(lc.BuyerCommission)
	if err != nil {
		return commission.Rates{}, fmt.Errorf("buyer_commission: %w", err)
	}
	seller, err := decimal.NewFromString(lc.SellerCommission)
	if err != nil {
		return commission.Rates{}, fmt.Errorf("seller_commission: %w", err)
	}
	liq, err := decimal.NewFromString(lc.LiquidationCommission)
	if err != nil {
		return commission.Rates{}, fmt.Errorf("liquidation_commission: %w", err)
	}
	rates := commission.Rates{Buyer: buyer, Seller: seller, Liquidation: liq}
	return rates, rates.Validate()
}

// ensurePlatformAccount creates the platform's brokerage account on first
// startup so commission credits never fail on a missing counterparty.
func ensurePlatformAccount(ctx context.Context, st store.Store, userID string) error {
	_, err := st.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		err = st.CreateAccount(ctx, &model.Account{
			UserID:    userID,
			Balance:   decimal.Zero,
			CreatedAt: time.Now().UTC(),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
	}
	return err
}
