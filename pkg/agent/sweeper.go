package agent

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/memory"
	"github.com/kdf-labs/empathicbot/pkg/profile"
)

// SweeperConfig schedules background maintenance. Zero values fall back
// to defaults.
type SweeperConfig struct {
	Cron     string        // default "*/30 * * * *"
	HardGap  time.Duration // stale-session cutoff, default 24h
	Interval time.Duration // cron check tick, default 1m
}

// Sweeper runs periodic maintenance: clearing stale session buffers and
// reconciling the vector index with the durable memory rows.
type Sweeper struct {
	profiles *profile.SQLiteStore
	memories *memory.Service
	cfg      SweeperConfig

	gron      *gronx.Gronx
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSweeper(profiles *profile.SQLiteStore, memories *memory.Service, cfg SweeperConfig) *Sweeper {
	if cfg.Cron == "" {
		cfg.Cron = "*/30 * * * *"
	}
	if cfg.HardGap <= 0 {
		cfg.HardGap = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Sweeper{
		profiles: profiles,
		memories: memories,
		cfg:      cfg,
		gron:     gronx.New(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Invalid cron expressions are
// rejected up front rather than silently never firing.
func (s *Sweeper) Start() error {
	if !s.gron.IsValid(s.cfg.Cron) {
		return &InvalidCronError{Expr: s.cfg.Cron}
	}

	s.wg.Add(1)
	go s.run()
	logger.InfoCF("sweeper", "maintenance sweep scheduled", map[string]interface{}{
		"cron": s.cfg.Cron,
	})
	return nil
}

// Stop halts the worker and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.cfg.Cron, time.Now())
			if err != nil || !due {
				continue
			}
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one maintenance pass. Exported so the CLI can trigger it
// manually.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.HardGap).UnixMilli()
	cleared, err := s.profiles.ClearStaleSessions(ctx, cutoff)
	if err != nil {
		logger.WarnCF("sweeper", "stale session cleanup failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if cleared > 0 {
		logger.InfoCF("sweeper", "cleared stale session buffers", map[string]interface{}{
			"profiles": cleared,
		})
	}

	if err := s.memories.Reindex(ctx); err != nil {
		logger.WarnCF("sweeper", "vector reindex failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// InvalidCronError reports a malformed schedule expression.
type InvalidCronError struct {
	Expr string
}

func (e *InvalidCronError) Error() string {
	return "invalid cron expression: " + e.Expr
}
