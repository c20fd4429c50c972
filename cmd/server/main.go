package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wqeqwqeq/opsagent-chat/internal/config"
	"github.com/wqeqwqeq/opsagent-chat/internal/db"
	"github.com/wqeqwqeq/opsagent-chat/internal/history"
	"github.com/wqeqwqeq/opsagent-chat/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	mode, err := history.ParseMode(cfg.Mode)
	if err != nil {
		slog.Error("invalid storage mode", "mode", cfg.Mode, "error", err)
		os.Exit(1)
	}

	opts := history.Options{
		Mode:        mode,
		BaseDir:     cfg.BaseDir,
		HistoryDays: cfg.HistoryDays,
		CacheTTL:    time.Duration(cfg.RedisTTLSeconds) * time.Second,
	}

	if mode == history.ModePostgres || mode == history.ModeRedis {
		gdb, err := db.Connect(cfg.PostgresDSN())
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		opts.DB = gdb
	}
	if mode == history.ModeRedis {
		ropts := &redis.Options{
			Addr:         cfg.RedisAddr(),
			Password:     cfg.RedisPassword,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
		if cfg.RedisSSL {
			ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.Redis = redis.NewClient(ropts)
	}

	mgr, err := history.NewManager(opts)
	if err != nil {
		slog.Error("failed to build history manager", "error", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(cfg, mgr)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server listening", "addr", cfg.Addr, "mode", string(mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
