// Package scheduler drives the heartbeat cadence. The pace is adjustable
// at runtime between a handful of presets plus arbitrary second values.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/engine"
	"github.com/botastrophic/botastrophic/internal/observability"
)

// weeklyCompressionSpec runs cold-memory compression for every bot early
// Sunday morning, regardless of warm memory size.
const weeklyCompressionSpec = "0 3 * * 0"

const DefaultPaceSeconds = 3600

// PacePresets maps the named speeds to a heartbeat interval in seconds.
var PacePresets = map[string]int{
	"turbo":  300,
	"fast":   900,
	"normal": 3600,
	"slow":   14400,
}

// PresetNames returns the preset names sorted by interval, fastest first.
func PresetNames() []string {
	names := make([]string, 0, len(PacePresets))
	for name := range PacePresets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return PacePresets[names[i]] < PacePresets[names[j]]
	})
	return names
}

// Scheduler ticks the whole roster on a shared interval and owns the
// weekly maintenance job.
type Scheduler struct {
	pipeline *engine.Pipeline
	metrics  *observability.Metrics
	logger   *zap.Logger
	cron     *cron.Cron

	mu          sync.Mutex
	runCtx      context.Context
	paceSeconds int
	heartbeatID cron.EntryID
}

func New(pipeline *engine.Pipeline, metrics *observability.Metrics, logger *zap.Logger, paceSeconds int) *Scheduler {
	if paceSeconds <= 0 {
		paceSeconds = DefaultPaceSeconds
	}
	return &Scheduler{
		pipeline:    pipeline,
		metrics:     metrics,
		logger:      logger.Named("scheduler"),
		cron:        cron.New(),
		paceSeconds: paceSeconds,
	}
}

// Start registers the heartbeat and maintenance jobs and begins ticking.
// The context is retained and governs every scheduled run until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCtx = ctx
	id, err := s.cron.AddFunc(paceSpec(s.paceSeconds), func() { s.RunAll(s.jobCtx()) })
	if err != nil {
		return fmt.Errorf("register heartbeat job: %w", err)
	}
	s.heartbeatID = id

	if _, err := s.cron.AddFunc(weeklyCompressionSpec, func() {
		if err := s.pipeline.CompressAll(s.jobCtx()); err != nil {
			s.logger.Warn("weekly compression finished with errors", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register compression job: %w", err)
	}

	s.metrics.PaceSeconds.Set(float64(s.paceSeconds))
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("pace_seconds", s.paceSeconds))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// Pace reports the current heartbeat interval in seconds.
func (s *Scheduler) Pace() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paceSeconds
}

// SetPace swaps the heartbeat job for one on the new interval. The next
// tick fires a full interval from now. The rescheduled job keeps running
// on the context given to Start, not the caller's.
func (s *Scheduler) SetPace(seconds int) error {
	if seconds < 1 {
		return fmt.Errorf("pace must be at least 1 second, got %d", seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heartbeatID != 0 {
		s.cron.Remove(s.heartbeatID)
	}
	id, err := s.cron.AddFunc(paceSpec(seconds), func() { s.RunAll(s.jobCtx()) })
	if err != nil {
		return fmt.Errorf("register heartbeat job: %w", err)
	}
	s.heartbeatID = id
	s.paceSeconds = seconds
	s.metrics.PaceSeconds.Set(float64(seconds))
	s.logger.Info("pace changed", zap.Int("pace_seconds", seconds))
	return nil
}

// SetPacePreset resolves a named preset and applies it.
func (s *Scheduler) SetPacePreset(name string) (int, error) {
	seconds, ok := PacePresets[name]
	if !ok {
		return 0, fmt.Errorf("unknown pace preset %q", name)
	}
	if err := s.SetPace(seconds); err != nil {
		return 0, err
	}
	return seconds, nil
}

func (s *Scheduler) jobCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// RunAll heartbeats every bot sequentially. One bot's failure never stops
// the rest of the roster.
func (s *Scheduler) RunAll(ctx context.Context) {
	ids, err := s.pipeline.RunnableBots(ctx)
	if err != nil {
		s.logger.Error("list bots for tick failed", zap.Error(err))
		return
	}
	started := time.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := s.pipeline.Heartbeat(ctx, id); err != nil {
			s.logger.Error("heartbeat failed", zap.String("bot_id", id), zap.Error(err))
		}
	}
	s.logger.Info("tick complete",
		zap.Int("bots", len(ids)),
		zap.Duration("elapsed", time.Since(started)))
}

// TriggerBot runs a single bot's heartbeat immediately, outside the
// scheduled cadence.
func (s *Scheduler) TriggerBot(ctx context.Context, botID string) error {
	return s.pipeline.Heartbeat(ctx, botID)
}

func paceSpec(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}
