// Package scheduler runs periodic background processing passes so queued
// operations drain even when no client calls the process endpoint.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/service/syncservice"
	"github.com/syncstack/docsync-api/internal/store"
)

// Config controls the background sweep.
type Config struct {
	Enabled  bool
	Interval string // cron spec, e.g. "@every 30s"
	MaxUsers int    // max users swept per tick
}

// Scheduler sweeps users with pending operations on a cron interval.
type Scheduler struct {
	cfg    Config
	engine *syncservice.Engine
	queue  store.QueueStore
	states store.StateStore
	cron   *cron.Cron
}

func New(cfg Config, engine *syncservice.Engine, queue store.QueueStore, states store.StateStore) *Scheduler {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 100
	}
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		queue:  queue,
		states: states,
		cron:   cron.New(),
	}
}

// Start registers the sweep job and starts the cron loop. A disabled
// scheduler is a no-op so callers can Start/Stop unconditionally.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		log.Info().Msg("sweep scheduler disabled")
		return
	}

	log.Info().Str("interval", s.cfg.Interval).Msg("starting sweep scheduler")

	if _, err := s.cron.AddFunc(s.cfg.Interval, s.sweep); err != nil {
		log.Error().Err(err).Str("interval", s.cfg.Interval).Msg("failed to schedule sweep job")
		return
	}
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("sweep scheduler stopped")
}

// sweep runs one processing pass for each user with pending work. Users
// whose state reports a pass already in progress are skipped; a stale
// in-progress flag is cleared by that user's next completed pass.
func (s *Scheduler) sweep() {
	ctx := context.Background()

	users, err := s.queue.UsersWithPending(ctx, s.cfg.MaxUsers)
	if err != nil {
		log.Error().Err(err).Msg("sweep: failed to list users with pending operations")
		return
	}
	if len(users) == 0 {
		return
	}

	log.Debug().Int("users", len(users)).Msg("sweep tick")

	for _, userID := range users {
		state, err := s.states.GetState(ctx, userID)
		if err == nil && state.SyncInProgress {
			log.Debug().Str("userId", userID).Msg("sweep: pass already in progress, skipping")
			continue
		}

		result, err := s.engine.Process(ctx, userID)
		if err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("sweep: processing pass failed")
			continue
		}

		log.Info().
			Str("userId", userID).
			Int("processed", result.Processed).
			Int("failed", result.Failed).
			Int("conflicts", result.Conflicts).
			Msg("sweep: pass complete")
	}
}
