package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type TimerKind int

const (
	// TimerDeadline fires the order deadline: Active sessions lock (or expire
	// when nobody is left at the table).
	TimerDeadline TimerKind = iota
	// TimerIdleExpiry hard-expires sessions that saw no activity.
	TimerIdleExpiry
)

func (k TimerKind) String() string {
	if k == TimerDeadline {
		return "deadline"
	}
	return "idle_expiry"
}

type timerEntry struct {
	sessionID string
	kind      TimerKind
	at        time.Time
	cancelled bool
	index     int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is the process-wide timer facility for session deadlines. It
// holds session IDs only, never sessions; the fire callback goes back through
// the registry so a reaped session is just a missed lookup. Firing against a
// session that already moved on is an engine-level no-op, so stale timers are
// harmless.
type Scheduler struct {
	mu      sync.Mutex
	heap    timerHeap
	pending map[string]map[TimerKind]*timerEntry
	fire    func(sessionID string, kind TimerKind)
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewScheduler(fire func(sessionID string, kind TimerKind)) *Scheduler {
	return &Scheduler{
		pending: make(map[string]map[TimerKind]*timerEntry),
		fire:    fire,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
	log.Info().Msg("deadline scheduler started")
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	log.Info().Msg("deadline scheduler stopped")
}

// Schedule registers (sessionID, kind) to fire at the given time, replacing
// any pending timer of the same kind for that session.
func (s *Scheduler) Schedule(sessionID string, kind TimerKind, at time.Time) {
	s.mu.Lock()
	if kinds, ok := s.pending[sessionID]; ok {
		if prev, ok := kinds[kind]; ok {
			prev.cancelled = true
		}
	} else {
		s.pending[sessionID] = make(map[TimerKind]*timerEntry)
	}
	entry := &timerEntry{sessionID: sessionID, kind: kind, at: at}
	s.pending[sessionID][kind] = entry
	heap.Push(&s.heap, entry)
	s.mu.Unlock()

	s.kick()
}

// Cancel drops every pending timer for the session. Used when a session is
// locked, placed, or cancelled ahead of its deadline.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	for _, entry := range s.pending[sessionID] {
		entry.cancelled = true
	}
	delete(s.pending, sessionID)
	s.mu.Unlock()
}

// CancelKind drops one pending timer kind, leaving the others armed.
func (s *Scheduler) CancelKind(sessionID string, kind TimerKind) {
	s.mu.Lock()
	if kinds, ok := s.pending[sessionID]; ok {
		if entry, ok := kinds[kind]; ok {
			entry.cancelled = true
			delete(kinds, kind)
		}
		if len(kinds) == 0 {
			delete(s.pending, sessionID)
		}
	}
	s.mu.Unlock()
}

// PendingCount reports armed timers, cancelled entries excluded.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kinds := range s.pending {
		n += len(kinds)
	}
	return n
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		wait := time.Hour
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		now := time.Now()
		s.mu.Lock()
		var due []*timerEntry
		for s.heap.Len() > 0 && !s.heap[0].at.After(now) {
			entry := heap.Pop(&s.heap).(*timerEntry)
			if entry.cancelled {
				continue
			}
			if kinds, ok := s.pending[entry.sessionID]; ok && kinds[entry.kind] == entry {
				delete(kinds, entry.kind)
				if len(kinds) == 0 {
					delete(s.pending, entry.sessionID)
				}
			}
			due = append(due, entry)
		}
		s.mu.Unlock()

		for _, entry := range due {
			log.Debug().
				Str("sessionId", entry.sessionID).
				Str("kind", entry.kind.String()).
				Msg("session timer fired")
			s.fire(entry.sessionID, entry.kind)
		}
	}
}
