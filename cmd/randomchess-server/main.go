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

	"go.uber.org/zap"

	"github.com/karchx/randomchess/internal/archive"
	appcfg "github.com/karchx/randomchess/internal/config"
	"github.com/karchx/randomchess/internal/gateway"
	"github.com/karchx/randomchess/internal/notify"
	"github.com/karchx/randomchess/internal/obslog"
	"github.com/karchx/randomchess/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.InitFromEnv()
	logger := obslog.L()

	mgr, err := session.NewManager(cfg.RedisURL)
	if err != nil {
		log.Fatalf("session manager init error: %v", err)
	}

	// Archive and webhook are optional.
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		mgr.AttachArchive(repo)
	}
	if cfg.WebhookURL != "" || cfg.WebhookWSURL != "" {
		notifier, err := notify.New(cfg.NotifyMode, cfg.WebhookURL, cfg.WebhookWSURL, logger)
		if err != nil {
			log.Fatalf("notifier init error: %v", err)
		}
		mgr.AttachNotifier(notifier)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.NewServer(mgr, time.Duration(cfg.TimeLimitMs)*time.Millisecond).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("server_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = mgr.Close()
}
