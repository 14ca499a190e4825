package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tably/grouporder-server/internal/engine"
	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/middleware"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/notify"
)

// EventsHandler streams a session's domain events to a participant's device
// over SSE. The first frame is a full snapshot so a reconnecting client never
// has to reconcile missed events.
type EventsHandler struct {
	registry *engine.Registry
	broker   *notify.Broker
}

func NewEventsHandler(registry *engine.Registry, broker *notify.Broker) *EventsHandler {
	return &EventsHandler{
		registry: registry,
		broker:   broker,
	}
}

// GET /v1/sessions/{sessionID}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.registry.LookupByID(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	diner := middleware.GetDiner(r.Context())
	if diner == nil || diner.ParticipantID == "" {
		writeError(w, apperrors.Unauthorized("X-Participant-Id header is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("sessionId", sessionID).
		Str("participantId", diner.ParticipantID).
		Msg("sse connection established")

	session.TouchActivity(diner.ParticipantID)

	if err := h.sendSnapshot(w, flusher, session); err != nil {
		log.Error().Err(err).Msg("failed to send session snapshot")
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(notify.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", sessionID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("sessionId", sessionID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendSnapshot(w http.ResponseWriter, flusher http.Flusher, session *engine.Session) error {
	snap := session.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: snapshot\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
