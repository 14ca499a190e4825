package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tably/grouporder-server/internal/engine"
	"github.com/tably/grouporder-server/internal/repository"
)

// ReaperJob periodically drops terminal sessions from the in-memory registry
// and purges rows past the retention window from the database. Completed
// orders survive in group_orders; only the session state is retention-bound.
type ReaperJob struct {
	registry    *engine.Registry
	sessionRepo repository.SessionRepository
	retention   time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewReaperJob(
	registry *engine.Registry,
	sessionRepo repository.SessionRepository,
	retention time.Duration,
	interval time.Duration,
) *ReaperJob {
	return &ReaperJob{
		registry:    registry,
		sessionRepo: sessionRepo,
		retention:   retention,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *ReaperJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("reaper job started")
}

func (j *ReaperJob) Stop() {
	close(j.done)
	log.Info().Msg("reaper job stopped")
}

func (j *ReaperJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reap()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reap()
		}
	}
}

func (j *ReaperJob) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if reaped := j.registry.ReapTerminal(); reaped > 0 {
		log.Info().Int("count", reaped).Msg("reaped terminal sessions from registry")
	}

	if j.sessionRepo != nil {
		cutoff := time.Now().Add(-j.retention)
		count, err := j.sessionRepo.DeleteTerminalOlderThan(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("failed to purge retained sessions")
		} else if count > 0 {
			log.Info().Int64("count", count).Msg("purged retained sessions")
		}
	}
}
