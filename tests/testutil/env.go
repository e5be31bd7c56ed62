package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/notification"
	"github.com/nhle/project-tracker/internal/store"
	"github.com/nhle/project-tracker/internal/stream"
	"github.com/nhle/project-tracker/internal/tracker"
	"github.com/nhle/project-tracker/internal/trigger"
)

// Env wires the core components over an in-memory store the same way
// the server does.
type Env struct {
	Store         *store.SQLiteStore
	Registry      *stream.Registry
	Notifications *notification.Service
	Triggers      *trigger.Engine
	Cascade       *cascade.Coordinator
	Tracker       *tracker.Service
	Logger        *slog.Logger
}

// NewEnv builds an Env with a 3 day reminder window in UTC. Log output
// is discarded.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTestStore(t)
	reg := stream.NewRegistry(logger)
	svc := notification.NewService(s, reg, logger)
	engine := trigger.New(s, svc, trigger.Config{
		DueSoonDays:     3,
		StartedLookback: 24 * time.Hour,
		Location:        time.UTC,
	}, logger)
	coord := cascade.New(s, logger, cascade.WithObserver(engine))

	return &Env{
		Store:         s,
		Registry:      reg,
		Notifications: svc,
		Triggers:      engine,
		Cascade:       coord,
		Tracker:       tracker.NewService(s, coord, engine, logger),
		Logger:        logger,
	}
}
