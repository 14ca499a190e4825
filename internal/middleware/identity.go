package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tably/grouporder-server/internal/model"
)

type contextKey string

const DinerContextKey contextKey = "diner"

// Diner is the lightweight caller identity attached to every request. Diners
// are not accounts; the participant ID is the session-scoped handle issued at
// join time and the name/email pair is whatever the device reported.
type Diner struct {
	ParticipantID string
	Identity      model.Identity
}

func GetDiner(ctx context.Context) *Diner {
	if diner, ok := ctx.Value(DinerContextKey).(*Diner); ok {
		return diner
	}
	return nil
}

type IdentityMiddleware struct{}

func NewIdentityMiddleware() *IdentityMiddleware {
	return &IdentityMiddleware{}
}

// Handler reads the diner headers into the request context. Nothing is
// rejected here; handlers decide whether an operation needs a participant.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		diner := &Diner{
			ParticipantID: strings.TrimSpace(r.Header.Get("X-Participant-Id")),
			Identity: model.Identity{
				Name:             strings.TrimSpace(r.Header.Get("X-Diner-Name")),
				Email:            strings.TrimSpace(r.Header.Get("X-Diner-Email")),
				PaymentMethodRef: strings.TrimSpace(r.Header.Get("X-Payment-Method")),
			},
		}

		ctx := context.WithValue(r.Context(), DinerContextKey, diner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
