package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tably/grouporder-server/internal/audit"
	"github.com/tably/grouporder-server/internal/engine"
	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/middleware"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/repository"
)

type SessionHandler struct {
	registry   *engine.Registry
	orders     repository.OrderRepository
	defaultTTL time.Duration
}

func NewSessionHandler(registry *engine.Registry, orders repository.OrderRepository, defaultTTL time.Duration) *SessionHandler {
	return &SessionHandler{
		registry:   registry,
		orders:     orders,
		defaultTTL: defaultTTL,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Post("/join", h.JoinSession)

	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/items", h.AddItems)
		r.Patch("/items/{itemID}", h.UpdateItem)
		r.Delete("/items/{itemID}", h.RemoveItem)
		r.Post("/lock", h.LockSession)
		r.Post("/cancel", h.CancelSession)
		r.Post("/place", h.PlaceOrder)
		r.Post("/leave", h.Leave)
		r.Delete("/participants/{participantID}", h.RemoveParticipant)
		r.Put("/split", h.SetPaymentSplit)
		r.Put("/participants/{participantID}/limit", h.SetSpendingLimit)
		r.Get("/order", h.GetOrder)
	})

	return r
}

type createSessionRequest struct {
	RestaurantID      string                     `json:"restaurantId"`
	TableID           string                     `json:"tableId"`
	ExpirationMinutes int                        `json:"expirationMinutes"`
	PaymentSplit      model.PaymentSplit         `json:"paymentSplit"`
	SpendingLimits    map[string]decimal.Decimal `json:"spendingLimits"`
}

type createSessionResponse struct {
	Session       model.SessionSnapshot `json:"session"`
	ParticipantID string                `json:"participantId"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	diner := middleware.GetDiner(r.Context())
	if diner == nil || diner.Identity.Name == "" {
		writeError(w, apperrors.MissingRequired("X-Diner-Name header"))
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	ttl := h.defaultTTL
	if req.ExpirationMinutes > 0 {
		ttl = time.Duration(req.ExpirationMinutes) * time.Minute
	}

	session, err := h.registry.Create(r.Context(), model.CreateSessionParams{
		RestaurantID:       req.RestaurantID,
		TableID:            req.TableID,
		CreatorIdentity:    diner.Identity,
		ExpirationDuration: ttl,
		PaymentSplit:       req.PaymentSplit,
		SpendingLimits:     req.SpendingLimits,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSessionCreate,
		SessionID:     session.ID(),
		ParticipantID: session.HostID(),
		Details:       map[string]interface{}{"restaurantId": req.RestaurantID},
	})

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session:       session.Snapshot(),
		ParticipantID: session.HostID(),
	})
}

type joinSessionRequest struct {
	JoinCode string `json:"joinCode"`
}

type joinSessionResponse struct {
	Session       model.SessionSnapshot `json:"session"`
	ParticipantID string                `json:"participantId"`
}

// POST /v1/sessions/join
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	diner := middleware.GetDiner(r.Context())
	if diner == nil || diner.Identity.Name == "" {
		writeError(w, apperrors.MissingRequired("X-Diner-Name header"))
		return
	}

	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.JoinCode == "" {
		writeError(w, apperrors.MissingRequired("joinCode"))
		return
	}

	session, err := h.registry.LookupByJoinCode(req.JoinCode)
	if err != nil {
		writeError(w, err)
		return
	}

	participant, err := session.Join(r.Context(), diner.Identity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinSessionResponse{
		Session:       session.Snapshot(),
		ParticipantID: participant.ID,
	})
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if diner := middleware.GetDiner(r.Context()); diner != nil && diner.ParticipantID != "" {
		session.TouchActivity(diner.ParticipantID)
	}

	writeJSON(w, http.StatusOK, session.Snapshot())
}

type addItemsRequest struct {
	Items []model.NewItem `json:"items"`
}

// POST /v1/sessions/{sessionID}/items
func (h *SessionHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	items, err := session.AddItems(r.Context(), participantID, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"items": items})
}

type updateItemRequest struct {
	ExpectedVersion int64     `json:"expectedVersion"`
	Quantity        *int      `json:"quantity,omitempty"`
	Customizations  *[]string `json:"customizations,omitempty"`
}

// PATCH /v1/sessions/{sessionID}/items/{itemID}
func (h *SessionHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	item, err := session.UpdateItem(r.Context(), participantID, chi.URLParam(r, "itemID"), req.ExpectedVersion, model.ItemPatch{
		Quantity:       req.Quantity,
		Customizations: req.Customizations,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// DELETE /v1/sessions/{sessionID}/items/{itemID}
func (h *SessionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	if err := session.RemoveItem(r.Context(), participantID, chi.URLParam(r, "itemID")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/sessions/{sessionID}/lock
func (h *SessionHandler) LockSession(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	if err := session.Lock(r.Context(), participantID); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSessionLock,
		SessionID:     session.ID(),
		ParticipantID: participantID,
	})

	writeJSON(w, http.StatusOK, session.Snapshot())
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

// POST /v1/sessions/{sessionID}/cancel
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	var req cancelSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := session.Cancel(r.Context(), participantID, req.Reason); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSessionCancel,
		SessionID:     session.ID(),
		ParticipantID: participantID,
		Details:       map[string]interface{}{"reason": req.Reason},
	})

	writeJSON(w, http.StatusOK, session.Snapshot())
}

// POST /v1/sessions/{sessionID}/place
func (h *SessionHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	order, err := session.PlaceOrder(r.Context(), participantID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodePaymentFailure {
			audit.LogFromRequest(r, audit.Event{
				Type:          audit.EventPaymentFailure,
				SessionID:     session.ID(),
				ParticipantID: participantID,
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventOrderPlace,
		SessionID:     session.ID(),
		ParticipantID: participantID,
		Details:       map[string]interface{}{"orderId": order.ID, "total": order.Total.StringFixed(2)},
	})

	writeJSON(w, http.StatusOK, order)
}

// POST /v1/sessions/{sessionID}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	if err := session.Leave(r.Context(), participantID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DELETE /v1/sessions/{sessionID}/participants/{participantID}
func (h *SessionHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	session, requestedBy, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	target := chi.URLParam(r, "participantID")
	if err := session.RemoveParticipant(r.Context(), target, requestedBy); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventParticipantRemove,
		SessionID:     session.ID(),
		ParticipantID: requestedBy,
		Details:       map[string]interface{}{"removedParticipantId": target},
	})

	w.WriteHeader(http.StatusNoContent)
}

// PUT /v1/sessions/{sessionID}/split
func (h *SessionHandler) SetPaymentSplit(w http.ResponseWriter, r *http.Request) {
	session, participantID, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	var split model.PaymentSplit
	if err := json.NewDecoder(r.Body).Decode(&split); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := session.SetPaymentSplit(r.Context(), participantID, split); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventSplitChange,
		SessionID:     session.ID(),
		ParticipantID: participantID,
		Details:       map[string]interface{}{"method": string(split.Method)},
	})

	writeJSON(w, http.StatusOK, session.Snapshot())
}

type setLimitRequest struct {
	Limit decimal.Decimal `json:"limit"`
}

// PUT /v1/sessions/{sessionID}/participants/{participantID}/limit
func (h *SessionHandler) SetSpendingLimit(w http.ResponseWriter, r *http.Request) {
	session, requestedBy, ok := h.lookupParticipant(w, r)
	if !ok {
		return
	}

	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	target := chi.URLParam(r, "participantID")
	if err := session.SetSpendingLimit(r.Context(), requestedBy, target, req.Limit); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventLimitSet,
		SessionID:     session.ID(),
		ParticipantID: requestedBy,
		Details: map[string]interface{}{
			"targetParticipantId": target,
			"limit":               req.Limit.StringFixed(2),
		},
	})

	writeJSON(w, http.StatusOK, session.Snapshot())
}

// GET /v1/sessions/{sessionID}/order
func (h *SessionHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	order, err := h.orders.FindBySessionID(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to load order")
		writeError(w, apperrors.Database(err))
		return
	}
	if order == nil {
		writeError(w, apperrors.NotFound("order"))
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	session, err := h.registry.LookupByID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) lookupParticipant(w http.ResponseWriter, r *http.Request) (*engine.Session, string, bool) {
	diner := middleware.GetDiner(r.Context())
	if diner == nil || diner.ParticipantID == "" {
		writeError(w, apperrors.Unauthorized("X-Participant-Id header is required"))
		return nil, "", false
	}

	session, ok := h.lookup(w, r)
	if !ok {
		return nil, "", false
	}
	return session, diner.ParticipantID, true
}
