package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatpulse/internal/auth"
	"chatpulse/internal/chat"
	"chatpulse/internal/config"
	"chatpulse/internal/db"
	"chatpulse/internal/logging"
	"chatpulse/internal/presence"
	"chatpulse/internal/realtime"
	"chatpulse/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("config", zap.Error(err))
	}

	pool := db.MustConnect(cfg.DatabaseURL, log)
	defer pool.Close()

	if err := db.RunMigrations(pool, log); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	authSvc, err := auth.NewService(cfg, log)
	if err != nil {
		log.Fatal("auth keys", zap.Error(err))
	}

	if cfg.Env == "dev" && cfg.DemoSeed {
		if err := db.RunDevSeed(pool, log); err != nil {
			log.Error("dev-seed", zap.Error(err))
		} else {
			logDevTokens(authSvc, log)
		}
	}

	var observers []realtime.PresenceObserver
	var mirror *presence.Mirror
	if cfg.RedisAddr != "" {
		store, err := presence.NewRedisStore(context.Background(), presence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatal("redis", zap.Error(err))
		}
		defer store.Close()
		mirror = presence.NewMirror(store, nodeID(), cfg.PresenceTTL, 0, log.Named("presence"))
		observers = append(observers, mirror)
	}

	engine := realtime.NewEngine(log.Named("realtime"), observers...)
	if mirror != nil {
		mirror.Track(engine)
		mirror.Start()
	}

	handler := server.New(cfg, server.Deps{
		Store:  chat.NewPgStore(pool),
		Engine: engine,
		Auth:   authSvc,
		Log:    log,
	})

	addr := ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("chatpulse listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		errCh <- httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	engine.Close()
	if mirror != nil {
		mirror.Stop()
	}
}

func nodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}

func logDevTokens(authSvc *auth.Service, log *zap.Logger) {
	for _, user := range db.DevSeedUsers() {
		tok, err := authSvc.IssueToken(user, 24*time.Hour)
		if err != nil {
			log.Warn("dev token", zap.String("user", user), zap.Error(err))
			continue
		}
		log.Info("dev token", zap.String("user", user), zap.String("token", tok))
	}
}
