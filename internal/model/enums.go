package model

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusLocked     SessionStatus = "locked"
	SessionStatusFinalizing SessionStatus = "finalizing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusExpired    SessionStatus = "expired"
)

// Terminal reports whether the status is an end state. Terminal sessions are
// never mutated again and are only retained for audit until the reaper runs.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusExpired:
		return true
	}
	return false
}

type ParticipantStatus string

const (
	ParticipantStatusActive ParticipantStatus = "active"
	ParticipantStatusLeft   ParticipantStatus = "left"
)

type SplitMethod string

const (
	SplitEqual   SplitMethod = "equal"
	SplitByItems SplitMethod = "by_items"
	SplitCustom  SplitMethod = "custom"
)

// RemovedItemPolicy decides what happens to a participant's items when they
// leave or are removed mid-session.
type RemovedItemPolicy string

const (
	// RemovedItemsExcluded keeps the items in the ledger for audit but drops
	// them from totals and splits.
	RemovedItemsExcluded RemovedItemPolicy = "exclude"
	// RemovedItemsTransferred reassigns the items to the host.
	RemovedItemsTransferred RemovedItemPolicy = "transfer_to_host"
)
