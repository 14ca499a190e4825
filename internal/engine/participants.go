package engine

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

// participantManager owns one session's participant list. It is not safe for
// concurrent use on its own; every call happens under the owning session's
// lock. Join order is preserved because equal-split remainder cents are
// assigned in join order.
type participantManager struct {
	ordered []*model.Participant
	byID    map[string]*model.Participant
	max     int
}

func newParticipantManager(max int) *participantManager {
	return &participantManager{
		byID: make(map[string]*model.Participant),
		max:  max,
	}
}

func (m *participantManager) add(identity model.Identity, now time.Time) (*model.Participant, error) {
	if m.max > 0 && m.activeCount() >= m.max {
		return nil, apperrors.CapacityExceeded("session participant limit reached")
	}

	p := &model.Participant{
		ID:             uuid.NewString(),
		Identity:       identity,
		Status:         model.ParticipantStatusActive,
		JoinedAt:       now,
		LastActivityAt: now,
	}
	m.ordered = append(m.ordered, p)
	m.byID[p.ID] = p
	return p, nil
}

func (m *participantManager) get(id string) *model.Participant {
	return m.byID[id]
}

// markLeft flips the participant to Left. The participant and their items are
// retained; totals and splits stop counting them.
func (m *participantManager) markLeft(id string, now time.Time) error {
	p := m.byID[id]
	if p == nil {
		return apperrors.NotFound("participant")
	}
	if p.Status == model.ParticipantStatusLeft {
		return nil
	}
	p.Status = model.ParticipantStatusLeft
	p.LastActivityAt = now
	return nil
}

func (m *participantManager) touch(id string, now time.Time) {
	if p := m.byID[id]; p != nil {
		p.LastActivityAt = now
	}
}

func (m *participantManager) activeCount() int {
	n := 0
	for _, p := range m.ordered {
		if p.Status == model.ParticipantStatusActive {
			n++
		}
	}
	return n
}

// activeIDs returns the set of participants whose items count toward totals.
func (m *participantManager) activeIDs() map[string]bool {
	ids := make(map[string]bool, len(m.ordered))
	for _, p := range m.ordered {
		if p.Status == model.ParticipantStatusActive {
			ids[p.ID] = true
		}
	}
	return ids
}

// snapshot returns participants in join order, by value.
func (m *participantManager) snapshot() []model.Participant {
	out := make([]model.Participant, 0, len(m.ordered))
	for _, p := range m.ordered {
		out = append(out, *p)
	}
	return out
}

func (m *participantManager) restore(participants []model.Participant) {
	for i := range participants {
		p := participants[i]
		m.ordered = append(m.ordered, &p)
		m.byID[p.ID] = &p
	}
}
