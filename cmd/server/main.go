package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/energosphere/game-engine/internal/auth"
	"github.com/energosphere/game-engine/internal/events"
	"github.com/energosphere/game-engine/internal/gateway"
	"github.com/energosphere/game-engine/internal/market"
	"github.com/energosphere/game-engine/internal/metrics"
	"github.com/energosphere/game-engine/internal/session"
	"github.com/energosphere/game-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		slog.Warn("TOKEN_SECRET not set, using insecure development secret")
		tokenSecret = "dev-secret-do-not-use-in-production"
	}

	// --- Initialize store ---
	var st store.PlayerStore
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := gateway.NewHub()
	go hub.Run()

	// --- Event scheduler ---
	// Separate random sources: the scheduler and the session layer guard
	// theirs independently.
	scheduler := events.NewScheduler(hub, rand.New(rand.NewSource(time.Now().UnixNano())))
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	scheduler.Start(schedCtx)
	defer scheduler.Stop()

	// --- Session layer ---
	sessions := session.NewManager(st, scheduler, rand.New(rand.NewSource(time.Now().UnixNano()+1)))
	verifier := auth.NewTokenVerifier([]byte(tokenSecret), 24*time.Hour)
	gw := gateway.NewGateway(hub, sessions, verifier, scheduler)

	// --- Marketplace ---
	mk := market.NewMarketSystem()
	marketHandlers := market.NewHandlers(mk, sessions)

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
		w.Write([]byte(`{"status":"ok","service":"game-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for game commands and real-time updates.
		r.Get("/ws", gw.HandleWS)

		// Development token minting. Real deployments put an identity
		// provider in front of this service.
		r.Post("/auth/token", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				PlayerID string `json:"player_id"`
				Username string `json:"username"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, `{"success":false,"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			if body.PlayerID == "" {
				body.PlayerID = session.NewPlayerID()
			}
			token, err := verifier.Issue(body.PlayerID, body.Username)
			if err != nil {
				http.Error(w, `{"success":false,"error":"token issue failed"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"success":   true,
				"token":     token,
				"player_id": body.PlayerID,
			})
		})

		// Marketplace.
		r.Route("/market", func(r chi.Router) {
			marketHandlers.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("game-engine listening", "port", port)
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

	slog.Info("shutting down game-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("game-engine stopped")
}
