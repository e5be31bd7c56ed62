// Tracker runs the project tracker's status and notification engine. It
// serves the HTTP API (including the notification event stream) and runs
// the scheduler that sweeps statuses and fires time-based notifications.
//
// Configuration is read from a YAML file (default
// ~/.config/tracker/config.yaml), TRACKER_* environment variables and
// flags, in increasing priority. Edits to the file are picked up live
// for the due reminder window and the log level.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/project-tracker/internal/api"
	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/credential"
	"github.com/nhle/project-tracker/internal/lock"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/notification"
	"github.com/nhle/project-tracker/internal/store"
	"github.com/nhle/project-tracker/internal/stream"
	tracksync "github.com/nhle/project-tracker/internal/sync"
	"github.com/nhle/project-tracker/internal/tracker"
	"github.com/nhle/project-tracker/internal/trigger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("tracker", pflag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	fs.String("db", "", "SQLite database path (overrides database.path)")
	fs.String("addr", "", "HTTP listen address (overrides server.addr)")
	fs.String("log-level", "", "log level: debug, info, warn or error (overrides log.level)")
	writeConfig := fs.Bool("write-config", false, "write the effective configuration to --config and exit")
	storeToken := fs.String("store-api-token", "", "store the API bearer token in the OS keyring and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *storeToken != "" {
		if err := credential.Set(credential.APITokenKey, *storeToken); err != nil {
			return err
		}
		fmt.Println("API token stored in keyring")
		return nil
	}

	loader, err := model.NewLoader(*configPath, fs)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if *writeConfig {
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *configPath)
		return nil
	}

	var level slog.LevelVar
	if err := setLevel(&level, cfg.Log.Level); err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Format, &level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := cfg.Database.Path
	if !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
		fileLock := lock.NewFileLock(dbPath + ".lock")
		if err := fileLock.TryLock(); err != nil {
			return err
		}
		defer fileLock.Unlock() //nolint:errcheck
	}

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	token, err := credential.APIToken()
	if err != nil {
		logger.Warn("api token unavailable, serving without bearer check", "error", err)
	}

	sched := cfg.Scheduler
	registry := stream.NewRegistry(logger)
	notifications := notification.NewService(db, registry, logger)
	engine := trigger.New(db, notifications, trigger.Config{
		DueSoonDays:     sched.DueSoonDays,
		StartedLookback: time.Duration(sched.StartedLookbackHours) * time.Hour,
		Location:        sched.Location(),
	}, logger)
	coordinator := cascade.New(db, logger, cascade.WithObserver(engine))
	scheduler := tracksync.New(coordinator, engine, tracksync.ConfigFrom(sched), logger)
	mutations := tracker.NewService(db, coordinator, engine, logger)

	handler := api.NewHandler(api.Config{
		Notifications: notifications,
		Mutations:     mutations,
		Streams:       registry,
		Ticker:        scheduler,
		Token:         token,
		StreamBuffer:  cfg.Stream.BufferSize,
		Logger:        logger,
	})

	if _, err := os.Stat(*configPath); err == nil {
		loader.Watch(func(next *model.AppConfig) {
			engine.SetDueSoonDays(next.Scheduler.DueSoonDays)
			if err := setLevel(&level, next.Log.Level); err != nil {
				logger.Warn("config reload: bad log level", "error", err)
			}
			logger.Info("config reloaded",
				"due_soon_days", engine.DueSoonDays(),
				"log_level", level.Level().String())
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		})
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ping := time.Duration(cfg.Stream.PingIntervalSec) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr, "db", dbPath, "bearer_auth", token != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		registry.Run(gctx, ping)
		return nil
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func setLevel(lv *slog.LevelVar, name string) error {
	if name == "" {
		lv.Set(slog.LevelInfo)
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("parsing log level %q: %w", name, err)
	}
	lv.Set(l)
	return nil
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
