package model

import "time"

// Identity is the name/email captured when a diner joins. It is whatever the
// upstream auth collaborator verified; a participant is not necessarily a
// registered account. PaymentMethodRef is the diner's saved payment method
// token, if their device supplied one; shares without it fall back to the
// gateway's default collection flow.
type Identity struct {
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	PaymentMethodRef string `json:"paymentMethodRef,omitempty"`
}

type Participant struct {
	ID             string            `json:"id"`
	Identity       Identity          `json:"identity"`
	Status         ParticipantStatus `json:"status"`
	JoinedAt       time.Time         `json:"joinedAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
}
