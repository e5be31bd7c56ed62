// Package sync runs the periodic status sweep and batch notification
// checks.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/trigger"
)

// ErrTickInProgress is returned by RunTick when another tick is running.
// The request is dropped, not queued.
var ErrTickInProgress = errors.New("tick already in progress")

// TickState represents the current state of the scheduler.
type TickState int

const (
	TickIdle TickState = iota
	TickRunning
	TickError
)

func (s TickState) String() string {
	switch s {
	case TickRunning:
		return "running"
	case TickError:
		return "error"
	}
	return "idle"
}

// MarshalText renders the state by name.
func (s TickState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sweeper re-derives every status.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) cascade.SweepReport
}

// BatchRunner runs the time-based notification checks.
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time) trigger.BatchReport
}

// TickReport summarizes one tick.
type TickReport struct {
	Now      time.Time           `json:"now"`
	Duration time.Duration       `json:"duration_ns"`
	Sweep    cascade.SweepReport `json:"sweep"`
	Triggers trigger.BatchReport `json:"triggers"`
}

// Writes returns the status writes plus notifications created.
func (r TickReport) Writes() int {
	return r.Sweep.Writes() + r.Triggers.Created()
}

// Errors returns the per-entity failures of the tick.
func (r TickReport) Errors() int {
	return r.Sweep.Errors + r.Triggers.Errors
}

// Status holds the scheduler state for health reporting.
type Status struct {
	State      TickState   `json:"state"`
	LastTick   time.Time   `json:"last_tick"`
	LastReport *TickReport `json:"last_report,omitempty"`
	Skipped    int64       `json:"skipped"`
	Error      string      `json:"error,omitempty"`
}

// Config controls tick timing.
type Config struct {
	// Interval is the period of the full evaluation.
	Interval time.Duration

	// BusinessHours adds a higher-frequency tick inside a daily window.
	BusinessHours model.BusinessHoursConfig

	// Location is the reference for business hours.
	Location *time.Location

	// Watchdog logs a warning when a tick runs longer. Zero disables it.
	Watchdog time.Duration
}

// ConfigFrom builds a scheduler Config from application settings.
func ConfigFrom(c model.SchedulerConfig) Config {
	return Config{
		Interval:      time.Duration(c.IntervalSec) * time.Second,
		BusinessHours: c.BusinessHours,
		Location:      c.Location(),
		Watchdog:      time.Duration(c.WatchdogSec) * time.Second,
	}
}

// Scheduler fires the sweep and then the batch checks on a single
// logical worker. Ticks never overlap.
type Scheduler struct {
	sweeper  Sweeper
	triggers BatchRunner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	running   atomic.Bool
	skipped   atomic.Int64
	triggerCh chan struct{}

	mu     gosync.Mutex
	status Status
}

// New creates a Scheduler.
func New(sw Sweeper, tr BatchRunner, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		sweeper:   sw,
		triggers:  tr,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
	}
}

// RunTick runs one sweep followed by the batch checks at now. It is
// safe to call from tests or an admin endpoint while the timer loop is
// running; an overlapping call returns ErrTickInProgress.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("tick skipped, previous tick still running", "now", now)
		return TickReport{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	s.setState(TickRunning, nil, nil)
	start := time.Now()

	if s.cfg.Watchdog > 0 {
		watchdog := time.AfterFunc(s.cfg.Watchdog, func() {
			s.logger.Warn("tick exceeded watchdog", "now", now, "watchdog", s.cfg.Watchdog)
		})
		defer watchdog.Stop()
	}

	rep := TickReport{Now: now}
	rep.Sweep = s.sweeper.Sweep(ctx, now)
	if err := ctx.Err(); err != nil {
		rep.Duration = time.Since(start)
		s.setState(TickError, &rep, err)
		return rep, err
	}
	rep.Triggers = s.triggers.RunBatch(ctx, now)
	rep.Duration = time.Since(start)

	state := TickIdle
	var err error
	if rep.Errors() > 0 {
		state = TickError
		err = errors.New("tick finished with errors")
	}
	s.setState(state, &rep, err)

	s.logger.Info("tick complete",
		"tasks_updated", rep.Sweep.TasksUpdated,
		"milestones_updated", rep.Sweep.MilestonesUpdated,
		"projects_updated", rep.Sweep.ProjectsUpdated,
		"notifications_created", rep.Triggers.Created(),
		"errors", rep.Errors(),
		"duration", rep.Duration,
	)
	return rep, ctx.Err()
}

// Start runs a tick immediately and then on every interval until ctx
// is cancelled. When business hours are enabled an extra tick fires on
// the business-hours interval inside the window.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var businessC <-chan time.Time
	bh := s.cfg.BusinessHours
	if bh.Enabled && bh.IntervalSec > 0 {
		bt := time.NewTicker(time.Duration(bh.IntervalSec) * time.Second)
		defer bt.Stop()
		businessC = bt.C
	}

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case <-businessC:
			if InBusinessHours(s.now(), bh, s.cfg.Location) {
				s.tick(ctx)
			}
		case <-s.triggerCh:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunTick(ctx, s.now()); err != nil && !errors.Is(err, ErrTickInProgress) && ctx.Err() == nil {
		s.logger.Error("tick failed", "error", err)
	}
}

// TriggerNow requests an immediate tick from the Start loop. It never
// blocks; a request already pending absorbs this one.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Skipped = s.skipped.Load()
	return st
}

func (s *Scheduler) setState(state TickState, rep *TickReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.State = state
	s.status.Error = ""
	if err != nil {
		s.status.Error = err.Error()
	}
	if rep != nil {
		s.status.LastTick = rep.Now
		s.status.LastReport = rep
	}
}

// InBusinessHours reports whether t falls inside the configured window
// in loc. The window is [StartHour, EndHour).
func InBusinessHours(t time.Time, bh model.BusinessHoursConfig, loc *time.Location) bool {
	if !bh.Enabled {
		return false
	}
	local := t.In(loc)
	if bh.WeekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	h := local.Hour()
	return h >= bh.StartHour && h < bh.EndHour
}
