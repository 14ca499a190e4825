package model

import "time"

type EventType string

const (
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantLeft    EventType = "participant_left"
	EventParticipantRemoved EventType = "participant_removed"
	EventItemsAdded         EventType = "items_added"
	EventItemUpdated        EventType = "item_updated"
	EventItemRemoved        EventType = "item_removed"
	EventSessionLocked      EventType = "session_locked"
	EventOrderPlaced        EventType = "order_placed"
	EventSessionCancelled   EventType = "session_cancelled"
	EventSessionExpired     EventType = "session_expired"
	EventSplitUpdated       EventType = "split_updated"
	EventLimitUpdated       EventType = "spending_limit_updated"
)

// Event is the domain event emitted exactly once per successful mutation.
// Delivery to participant devices is the notification collaborator's problem.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}
