package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

const timerHandlerTimeout = 30 * time.Second

// Registry is the process-wide owner of live sessions: the only place they
// are created and the only place terminal ones are reaped. The id and
// join-code indices are mutated under one mutex so a code lookup can never
// race a session being created or reaped with that code.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byCode map[string]*Session

	cfg   Config
	deps  Deps
	sched *Scheduler
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	r := &Registry{
		byID:   make(map[string]*Session),
		byCode: make(map[string]*Session),
		cfg:    cfg,
		deps:   deps,
	}
	r.sched = NewScheduler(r.handleTimer)
	return r
}

// Start arms the deadline scheduler.
func (r *Registry) Start() {
	r.sched.Start()
}

func (r *Registry) Stop() {
	r.sched.Stop()
}

// Scheduler exposes the registry's timer facility, mainly for tests.
func (r *Registry) Scheduler() *Scheduler {
	return r.sched
}

// Create allocates an Active session with a fresh join code and registers
// its timers. Fails with CAPACITY_EXCEEDED when the restaurant already runs
// the configured number of live sessions; the cap protects the join-code
// space from exhaustion.
func (r *Registry) Create(ctx context.Context, params model.CreateSessionParams) (*Session, error) {
	if params.RestaurantID == "" {
		return nil, apperrors.MissingRequired("restaurantId")
	}
	if params.CreatorIdentity.Name == "" {
		return nil, apperrors.MissingRequired("creator name")
	}

	r.mu.Lock()
	active := 0
	for _, s := range r.byID {
		if s.RestaurantID() == params.RestaurantID && !s.Status().Terminal() {
			active++
		}
	}
	if active >= r.cfg.MaxActiveSessionsPerRestaurant {
		r.mu.Unlock()
		return nil, apperrors.CapacityExceeded("restaurant has too many active group orders")
	}

	code, err := GenerateJoinCode(func(candidate string) bool {
		_, taken := r.byCode[candidate]
		return taken
	})
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	session := newSession(params, code, r.cfg, r.deps, r.sched)
	r.byID[session.ID()] = session
	r.byCode[code] = session
	total := len(r.byID)
	r.mu.Unlock()

	r.deps.Metrics.IncSessionsCreated()
	r.deps.Metrics.SetActiveSessions(total)

	if snap := session.Snapshot(); snap.OrderDeadline != nil {
		r.sched.Schedule(session.ID(), TimerDeadline, *snap.OrderDeadline)
	}
	if r.cfg.IdleExpiry > 0 {
		r.sched.Schedule(session.ID(), TimerIdleExpiry, time.Now().Add(r.cfg.IdleExpiry))
	}

	session.mu.Lock()
	session.persistLocked(ctx)
	session.mu.Unlock()

	log.Info().
		Str("sessionId", session.ID()).
		Str("joinCode", code).
		Str("restaurantId", params.RestaurantID).
		Msg("group order session created")

	return session, nil
}

// LookupByJoinCode resolves a code for joining. Only Active and Locked
// sessions resolve; terminal sessions keep their code for audit but it is
// never resolvable again.
func (r *Registry) LookupByJoinCode(code string) (*Session, error) {
	r.mu.RLock()
	session := r.byCode[code]
	r.mu.RUnlock()

	if session == nil {
		return nil, apperrors.NotFound("session")
	}
	switch session.Status() {
	case model.SessionStatusActive, model.SessionStatusLocked:
		return session, nil
	}
	return nil, apperrors.NotFound("session")
}

func (r *Registry) LookupByID(id string) (*Session, error) {
	r.mu.RLock()
	session := r.byID[id]
	r.mu.RUnlock()

	if session == nil {
		return nil, apperrors.NotFound("session")
	}
	return session, nil
}

// Reap drops a terminal session from the in-memory indices. Idempotent;
// non-terminal sessions are left alone.
func (r *Registry) Reap(id string) {
	r.mu.Lock()
	session := r.byID[id]
	if session == nil || !session.Status().Terminal() {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	delete(r.byCode, session.JoinCode())
	total := len(r.byID)
	r.mu.Unlock()

	r.sched.Cancel(id)
	r.deps.Metrics.SetActiveSessions(total)
	log.Info().Str("sessionId", id).Msg("session reaped from registry")
}

// ReapTerminal sweeps every terminal session out of the registry and returns
// how many went. Called by the retention job.
func (r *Registry) ReapTerminal() int {
	r.mu.RLock()
	var terminal []string
	for id, s := range r.byID {
		if s.Status().Terminal() {
			terminal = append(terminal, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range terminal {
		r.Reap(id)
	}
	return len(terminal)
}

// Restore rebuilds live sessions from persisted snapshots after a restart.
// Terminal snapshots are skipped; deadlines already in the past fire
// immediately once the scheduler starts.
func (r *Registry) Restore(snaps []model.SessionSnapshot) int {
	restored := 0
	for _, snap := range snaps {
		if snap.Status.Terminal() {
			continue
		}
		session := restoreSession(snap, r.cfg, r.deps, r.sched)

		r.mu.Lock()
		r.byID[session.ID()] = session
		r.byCode[session.JoinCode()] = session
		total := len(r.byID)
		r.mu.Unlock()
		r.deps.Metrics.SetActiveSessions(total)

		if snap.Status == model.SessionStatusActive && snap.OrderDeadline != nil {
			r.sched.Schedule(session.ID(), TimerDeadline, *snap.OrderDeadline)
		}
		if r.cfg.IdleExpiry > 0 && !snap.Status.Terminal() && snap.Status != model.SessionStatusFinalizing {
			r.sched.Schedule(session.ID(), TimerIdleExpiry, snap.UpdatedAt.Add(r.cfg.IdleExpiry))
		}
		restored++
	}
	if restored > 0 {
		log.Info().Int("count", restored).Msg("sessions restored from snapshots")
	}
	return restored
}

// Len reports how many sessions the registry currently holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) handleTimer(sessionID string, kind TimerKind) {
	session, err := r.LookupByID(sessionID)
	if err != nil {
		// Session was reaped before the timer fired; nothing to do.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerHandlerTimeout)
	defer cancel()

	switch kind {
	case TimerDeadline:
		session.HandleDeadline(ctx)
	case TimerIdleExpiry:
		session.HandleIdleExpiry(ctx)
	}
}
