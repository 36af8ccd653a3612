package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umar/roomchat/internal/auth"
	"github.com/umar/roomchat/internal/chat"
	"github.com/umar/roomchat/internal/config"
	"github.com/umar/roomchat/internal/database"
	"github.com/umar/roomchat/internal/handlers"
	"github.com/umar/roomchat/internal/middleware"
	"github.com/umar/roomchat/internal/readpos"
	redisc "github.com/umar/roomchat/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	slog.Info("starting chat server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	store := database.NewStore(db)
	tracker := readpos.New(store, logger.With("component", "readpos"))

	metrics := chat.NewMetrics(prometheus.DefaultRegisterer)
	bus := chat.NewBus(logger.With("component", "bus"), metrics)
	router := chat.NewRouter(store, tracker, bus, logger.With("component", "router"), chat.RouterConfig{
		HistoryLimit:   cfg.HistoryLimit,
		ModeratorRoles: cfg.ModeratorRoles,
	})

	// Redis is optional; without it the bus and presence stay local.
	if cfg.RedisURL != "" {
		redisClient, err := redisc.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.Info("connected to Redis")

		relay := redisc.NewRelay(redisClient, logger.With("component", "relay"))
		bus.SetRelay(relay)
		router.SetPresence(redisc.NewPresence(redisClient))
		go func() {
			if err := relay.Run(ctx, bus.Deliver); err != nil {
				slog.Error("relay stopped", "error", err)
			}
		}()
	}

	ws := chat.NewHandler(store, router, logger.With("component", "ws"), chat.HandlerConfig{
		JWTSecret:     cfg.JWTSecret,
		AllowedOrigin: cfg.CORSOrigin,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
		SendBuffer:    cfg.SendBuffer,
	})

	// Set up router
	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigin))

	// Public routes
	r.HandleFunc("/health", handlers.Health(store)).Methods("GET", "OPTIONS")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket; authenticates before the upgrade
	r.HandleFunc("/ws/rooms/{room}", ws.ServeWS).Methods("GET")

	// Protected routes
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/rooms/{room}/messages", handlers.GetMessages(store, cfg.HistoryLimit)).Methods("GET")
	protected.HandleFunc("/rooms/{room}/pinned", handlers.GetPinned(store)).Methods("GET")
	protected.HandleFunc("/rooms/{room}/unread", handlers.GetUnread(store, tracker)).Methods("GET")
	protected.HandleFunc("/rooms/{room}/read", handlers.MarkRead(store, tracker, bus)).Methods("POST")
	protected.HandleFunc("/rooms/{room}/messages/{id}/reactions", handlers.GetReactions(store)).Methods("GET")
	protected.HandleFunc("/rooms/{room}/messages/{id}/audit", handlers.GetAuditTrail(store, cfg.ModeratorRoles)).Methods("GET")

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ws.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}
