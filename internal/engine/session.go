package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/payment"
)

// Session is the state machine owning one group order from creation to a
// terminal status. Every mutating entry point runs under the session's own
// mutex, so callers never observe a partially applied mutation; operations on
// different sessions proceed in parallel. The one deliberate exception is
// PlaceOrder, which releases the lock while the payment gateway is charging:
// the Finalizing status keeps all other mutation out in the meantime.
type Session struct {
	mu sync.Mutex

	id           string
	joinCode     string
	restaurantID string
	tableID      string
	createdBy    model.Identity
	hostID       string

	status       model.SessionStatus
	deadline     *time.Time
	split        model.PaymentSplit
	limits       map[string]decimal.Decimal
	cancelReason string

	participants *participantManager
	ledger       *itemLedger

	createdAt      time.Time
	updatedAt      time.Time
	lastActivityAt time.Time

	cfg   Config
	deps  Deps
	sched *Scheduler
}

func newSession(params model.CreateSessionParams, joinCode string, cfg Config, deps Deps, sched *Scheduler) *Session {
	now := time.Now()
	s := &Session{
		id:             uuid.NewString(),
		joinCode:       joinCode,
		restaurantID:   params.RestaurantID,
		tableID:        params.TableID,
		createdBy:      params.CreatorIdentity,
		status:         model.SessionStatusActive,
		split:          params.PaymentSplit,
		limits:         make(map[string]decimal.Decimal),
		participants:   newParticipantManager(cfg.MaxParticipantsPerSession),
		ledger:         newItemLedger(),
		createdAt:      now,
		updatedAt:      now,
		lastActivityAt: now,
		cfg:            cfg,
		deps:           deps,
		sched:          sched,
	}
	if s.split.Method == "" {
		s.split.Method = model.SplitEqual
	}
	for id, limit := range params.SpendingLimits {
		s.limits[id] = limit
	}

	if params.ExpirationDuration > 0 {
		ttl := params.ExpirationDuration
		if cfg.MaxSessionTTL > 0 && ttl > cfg.MaxSessionTTL {
			ttl = cfg.MaxSessionTTL
		}
		deadline := now.Add(ttl)
		s.deadline = &deadline
	}

	// The creator is the first participant and the session's host.
	host, _ := s.participants.add(params.CreatorIdentity, now)
	s.hostID = host.ID

	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) JoinCode() string     { return s.joinCode }
func (s *Session) RestaurantID() string { return s.restaurantID }
func (s *Session) HostID() string       { return s.hostID }

func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the full session state by value.
func (s *Session) Snapshot() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.SessionSnapshot {
	limits := make(map[string]decimal.Decimal, len(s.limits))
	for id, limit := range s.limits {
		limits[id] = limit
	}
	return model.SessionSnapshot{
		ID:                s.id,
		JoinCode:          s.joinCode,
		RestaurantID:      s.restaurantID,
		TableID:           s.tableID,
		CreatedBy:         s.createdBy,
		HostParticipantID: s.hostID,
		Status:            s.status,
		OrderDeadline:     s.deadline,
		PaymentSplit:      s.split,
		SpendingLimits:    limits,
		Participants:      s.participants.snapshot(),
		Items:             s.ledger.snapshot(),
		TotalAmount:       s.ledger.totalActive(s.participants.activeIDs()),
		CancelReason:      s.cancelReason,
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.updatedAt,
	}
}

// Join admits a new participant. Only Active sessions accept joins; locking a
// session stops joins while leaving item edits open to whoever is already in.
func (s *Session) Join(ctx context.Context, identity model.Identity) (model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive {
		return model.Participant{}, apperrors.SessionNotJoinable(string(s.status))
	}

	p, err := s.participants.add(identity, time.Now())
	if err != nil {
		return model.Participant{}, err
	}

	if err := s.commitLocked(ctx, model.EventParticipantJoined, map[string]any{"participant": *p}); err != nil {
		return model.Participant{}, err
	}
	return *p, nil
}

// AddItems appends a batch of line items for one participant. The batch is
// atomic: the spending limit is checked against the whole batch up front and
// either every item lands or none do.
func (s *Session) AddItems(ctx context.Context, participantID string, reqs []model.NewItem) ([]model.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditableLocked("add_items"); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, apperrors.MissingRequired("items")
	}
	p := s.participants.get(participantID)
	if p == nil {
		return nil, apperrors.NotFound("participant")
	}
	if p.Status != model.ParticipantStatusActive {
		return nil, apperrors.Unauthorized("participant has left the session")
	}

	batchTotal := decimal.Zero
	for _, req := range reqs {
		if req.Quantity <= 0 {
			return nil, apperrors.InvalidInput("quantity", "must be positive")
		}
		if req.UnitPrice.IsNegative() {
			return nil, apperrors.InvalidInput("unitPrice", "must not be negative")
		}
		batchTotal = batchTotal.Add(req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))))
	}
	if limit, ok := s.limits[participantID]; ok {
		if s.ledger.totalFor(participantID).Add(batchTotal).GreaterThan(limit) {
			return nil, apperrors.SpendingLimitExceeded(participantID).WithDetails(map[string]string{
				"participantId": participantID,
				"limit":         limit.StringFixed(2),
			})
		}
	}

	now := time.Now()
	added := make([]model.LineItem, 0, len(reqs))
	for _, req := range reqs {
		item, err := s.ledger.add(participantID, req, nil, now)
		if err != nil {
			// Validation already ran; anything here is a bug.
			return nil, apperrors.Internal("item batch partially applied").WithCause(err)
		}
		added = append(added, *item)
	}
	s.participants.touch(participantID, now)

	if err := s.commitLocked(ctx, model.EventItemsAdded, map[string]any{
		"participantId": participantID,
		"items":         added,
	}); err != nil {
		return nil, err
	}
	return added, nil
}

// UpdateItem applies an optimistic-concurrency patch. A stale expectedVersion
// fails with VERSION_CONFLICT so the caller re-reads and retries instead of
// silently overwriting a concurrent edit.
func (s *Session) UpdateItem(ctx context.Context, requestedBy, itemID string, expectedVersion int64, patch model.ItemPatch) (model.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditableLocked("update_item"); err != nil {
		return model.LineItem{}, err
	}
	item := s.ledger.byID[itemID]
	if item == nil {
		return model.LineItem{}, apperrors.NotFound("line item")
	}
	if item.AddedBy != requestedBy && requestedBy != s.hostID {
		return model.LineItem{}, apperrors.Unauthorized("only the item's author or the host may edit it")
	}

	var limit *decimal.Decimal
	if l, ok := s.limits[item.AddedBy]; ok {
		limit = &l
	}
	updated, err := s.ledger.update(itemID, expectedVersion, patch, requestedBy, limit, time.Now())
	if err != nil {
		return model.LineItem{}, err
	}
	s.participants.touch(requestedBy, time.Now())

	if err := s.commitLocked(ctx, model.EventItemUpdated, map[string]any{"item": *updated}); err != nil {
		return model.LineItem{}, err
	}
	return *updated, nil
}

// RemoveItem deletes a line item. Author or host only.
func (s *Session) RemoveItem(ctx context.Context, requestedBy, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditableLocked("remove_item"); err != nil {
		return err
	}
	removed, err := s.ledger.remove(itemID, requestedBy, requestedBy == s.hostID)
	if err != nil {
		return err
	}
	s.participants.touch(requestedBy, time.Now())

	return s.commitLocked(ctx, model.EventItemRemoved, map[string]any{
		"itemId":    removed.ID,
		"removedBy": requestedBy,
	})
}

// Lock stops new joins. Existing participants keep editing items until the
// order is placed. Host only.
func (s *Session) Lock(ctx context.Context, requestedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestedBy != s.hostID {
		return apperrors.Unauthorized("only the host may lock the session")
	}
	if s.status != model.SessionStatusActive {
		return apperrors.InvalidTransition(string(s.status), "lock")
	}

	s.setStatusLocked(model.SessionStatusLocked)
	s.sched.CancelKind(s.id, TimerDeadline)

	return s.commitLocked(ctx, model.EventSessionLocked, map[string]any{"lockedBy": requestedBy})
}

// Cancel abandons the session. Host only, from Active or Locked.
func (s *Session) Cancel(ctx context.Context, requestedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestedBy != s.hostID {
		return apperrors.Unauthorized("only the host may cancel the session")
	}
	if s.status != model.SessionStatusActive && s.status != model.SessionStatusLocked {
		return apperrors.InvalidTransition(string(s.status), "cancel")
	}

	s.setStatusLocked(model.SessionStatusCancelled)
	s.cancelReason = reason
	s.sched.Cancel(s.id)

	return s.commitLocked(ctx, model.EventSessionCancelled, map[string]any{"reason": reason})
}

// Leave marks a participant as gone. Their items stay in the ledger for audit
// but drop out of totals and splits (or move to the host, by policy).
func (s *Session) Leave(ctx context.Context, participantID string) error {
	return s.removeParticipant(ctx, participantID, model.EventParticipantLeft, map[string]any{
		"participantId": participantID,
	})
}

// RemoveParticipant is the host kicking someone out. Same ledger effect as
// Leave.
func (s *Session) RemoveParticipant(ctx context.Context, participantID, requestedBy string) error {
	s.mu.Lock()
	isHost := requestedBy == s.hostID
	s.mu.Unlock()
	if !isHost {
		return apperrors.Unauthorized("only the host may remove a participant")
	}
	return s.removeParticipant(ctx, participantID, model.EventParticipantRemoved, map[string]any{
		"participantId": participantID,
		"removedBy":     requestedBy,
	})
}

func (s *Session) removeParticipant(ctx context.Context, participantID string, event model.EventType, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive && s.status != model.SessionStatusLocked {
		return apperrors.InvalidTransition(string(s.status), "remove_participant")
	}

	// Decide the transfer before any state changes. If moving the items
	// would push the host past their own spending limit, fall back to
	// excluding them: limits hold after every mutation, and the removal
	// itself must never fail halfway through.
	transfer := s.cfg.RemovedItemPolicy == model.RemovedItemsTransferred && participantID != s.hostID
	if transfer {
		if limit, ok := s.limits[s.hostID]; ok {
			combined := s.ledger.totalFor(s.hostID).Add(s.ledger.totalFor(participantID))
			if combined.GreaterThan(limit) {
				transfer = false
			}
		}
	}

	now := time.Now()
	if err := s.participants.markLeft(participantID, now); err != nil {
		return err
	}
	if transfer {
		s.ledger.transferTo(participantID, s.hostID, now)
	}

	return s.commitLocked(ctx, event, payload)
}

// TouchActivity records participant activity for the idle-expiry policy. Not
// a mutation: no event, no snapshot, updatedAt untouched.
func (s *Session) TouchActivity(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.participants.touch(participantID, now)
	s.lastActivityAt = now
}

// SetPaymentSplit replaces the split policy. Host only, any time before
// finalization. Custom splits are validated in full at placeOrder; here only
// the method is checked so a host can stage shares while diners are still
// joining.
func (s *Session) SetPaymentSplit(ctx context.Context, requestedBy string, split model.PaymentSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestedBy != s.hostID {
		return apperrors.Unauthorized("only the host may change the payment split")
	}
	if err := s.ensureEditableLocked("set_payment_split"); err != nil {
		return err
	}
	switch split.Method {
	case model.SplitEqual, model.SplitByItems, model.SplitCustom:
	default:
		return apperrors.InvalidSplitConfiguration(fmt.Sprintf("unknown split method %q", split.Method))
	}

	s.split = split
	return s.commitLocked(ctx, model.EventSplitUpdated, map[string]any{"method": split.Method})
}

// SetSpendingLimit caps a participant's spend. Rejected when they have
// already ordered past the new cap, since limits are enforced at add time,
// never retroactively.
func (s *Session) SetSpendingLimit(ctx context.Context, requestedBy, participantID string, limit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestedBy != s.hostID {
		return apperrors.Unauthorized("only the host may set spending limits")
	}
	if err := s.ensureEditableLocked("set_spending_limit"); err != nil {
		return err
	}
	if s.participants.get(participantID) == nil {
		return apperrors.NotFound("participant")
	}
	if limit.IsNegative() {
		return apperrors.InvalidInput("limit", "must not be negative")
	}
	if s.ledger.totalFor(participantID).GreaterThan(limit) {
		return apperrors.ValidationError("participant has already exceeded the proposed limit")
	}

	s.limits[participantID] = limit
	return s.commitLocked(ctx, model.EventLimitUpdated, map[string]any{
		"participantId": participantID,
		"limit":         limit.StringFixed(2),
	})
}

// PlaceOrder finalizes a Locked session: computes the split over a frozen
// item snapshot, charges every participant with a non-zero share, and settles
// to Completed or Cancelled. The split runs before any gateway call so an
// invalid configuration or over-limit share never half-charges the table.
// Charges run without the session lock; the Finalizing status rejects every
// concurrent mutation, including a second PlaceOrder.
func (s *Session) PlaceOrder(ctx context.Context, requestedBy string) (model.OrderRecord, error) {
	s.mu.Lock()

	p := s.participants.get(requestedBy)
	if p == nil || p.Status != model.ParticipantStatusActive {
		s.mu.Unlock()
		return model.OrderRecord{}, apperrors.Unauthorized("only an active participant may place the order")
	}
	if s.status != model.SessionStatusLocked {
		status := s.status
		s.mu.Unlock()
		return model.OrderRecord{}, apperrors.InvalidTransition(string(status), "place_order")
	}

	items := s.ledger.snapshot()
	participants := s.participants.snapshot()
	owed, err := ComputeSplit(items, participants, s.split, s.limits)
	if err != nil {
		s.mu.Unlock()
		return model.OrderRecord{}, err
	}

	s.setStatusLocked(model.SessionStatusFinalizing)
	s.sched.Cancel(s.id)
	s.persistLocked(ctx)
	s.mu.Unlock()

	// Charges run on their own context so a disconnecting caller cannot
	// abandon the table half-charged.
	outcomes := s.chargeParticipants(participants, owed)

	allSucceeded := true
	for _, out := range outcomes {
		if out.Status != model.ChargeStatusSucceeded {
			allSucceeded = false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !allSucceeded {
		s.setStatusLocked(model.SessionStatusCancelled)
		s.cancelReason = "payment failure"
		if err := s.commitLocked(ctx, model.EventSessionCancelled, map[string]any{
			"reason":  s.cancelReason,
			"charges": outcomes,
		}); err != nil {
			return model.OrderRecord{}, err
		}
		return model.OrderRecord{}, apperrors.PaymentFailure("one or more participant charges failed").
			WithDetails(outcomes)
	}

	activeIDs := s.participants.activeIDs()
	orderItems := make([]model.LineItem, 0, len(items))
	for _, item := range items {
		if activeIDs[item.AddedBy] {
			orderItems = append(orderItems, item)
		}
	}
	total := decimal.Zero
	for _, amount := range owed {
		total = total.Add(amount)
	}

	order := model.OrderRecord{
		ID:           uuid.NewString(),
		SessionID:    s.id,
		RestaurantID: s.restaurantID,
		TableID:      s.tableID,
		Total:        total,
		Split:        owed,
		Items:        orderItems,
		Charges:      outcomes,
		PlacedAt:     time.Now(),
	}

	s.setStatusLocked(model.SessionStatusCompleted)
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveOrder(ctx, order); err != nil {
			log.Error().Err(err).Str("sessionId", s.id).Str("orderId", order.ID).Msg("failed to save order record")
		}
	}
	if err := s.commitLocked(ctx, model.EventOrderPlaced, map[string]any{
		"orderId": order.ID,
		"total":   order.Total.StringFixed(2),
		"split":   order.Split,
	}); err != nil {
		return model.OrderRecord{}, err
	}
	return order, nil
}

func (s *Session) chargeParticipants(participants []model.Participant, owed map[string]decimal.Decimal) []model.ChargeOutcome {
	outcomes := make([]model.ChargeOutcome, 0, len(owed))
	for _, p := range participants {
		amount, ok := owed[p.ID]
		if !ok || amount.IsZero() {
			continue
		}

		chargeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ChargeTimeout)
		outcome := s.deps.Gateway.Charge(chargeCtx, payment.ChargeRequest{
			SessionID:        s.id,
			ParticipantID:    p.ID,
			Amount:           amount,
			PaymentMethodRef: p.Identity.PaymentMethodRef,
			Description:      fmt.Sprintf("group order %s", s.joinCode),
		})
		cancel()

		s.deps.Metrics.IncCharge(string(outcome.Status))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// HandleDeadline is the scheduler's entry point for an expired order
// deadline. Idempotent against stale timers: anything past Active is a no-op
// that leaves updatedAt alone.
func (s *Session) HandleDeadline(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive {
		return
	}

	if s.participants.activeCount() == 0 {
		s.setStatusLocked(model.SessionStatusExpired)
		s.sched.Cancel(s.id)
		if err := s.commitLocked(ctx, model.EventSessionExpired, map[string]any{"reason": "deadline"}); err != nil {
			log.Error().Err(err).Str("sessionId", s.id).Msg("deadline expiry commit failed")
		}
		return
	}

	s.setStatusLocked(model.SessionStatusLocked)
	if err := s.commitLocked(ctx, model.EventSessionLocked, map[string]any{"reason": "deadline"}); err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Msg("deadline lock commit failed")
	}
}

// HandleIdleExpiry hard-expires a session nobody has touched. Recent activity
// just pushes the timer out again.
func (s *Session) HandleIdleExpiry(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusActive && s.status != model.SessionStatusLocked {
		return
	}

	if s.cfg.IdleExpiry > 0 {
		expiresAt := s.lastActivityAt.Add(s.cfg.IdleExpiry)
		if expiresAt.After(time.Now()) {
			s.sched.Schedule(s.id, TimerIdleExpiry, expiresAt)
			return
		}
	}

	s.setStatusLocked(model.SessionStatusExpired)
	s.sched.Cancel(s.id)
	if err := s.commitLocked(ctx, model.EventSessionExpired, map[string]any{"reason": "idle"}); err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Msg("idle expiry commit failed")
	}
}

// ensureEditableLocked gates item and policy edits: open in Active and
// Locked, closed from Finalizing on.
func (s *Session) ensureEditableLocked(event string) error {
	if s.status != model.SessionStatusActive && s.status != model.SessionStatusLocked {
		return apperrors.InvalidTransition(string(s.status), event)
	}
	return nil
}

func (s *Session) setStatusLocked(status model.SessionStatus) {
	s.status = status
	s.deps.Metrics.IncTransition(string(status))
}

// commitLocked runs the post-mutation tail: invariant check, updatedAt bump,
// write-through snapshot, and the mutation's single domain event.
func (s *Session) commitLocked(ctx context.Context, event model.EventType, payload map[string]any) error {
	if err := s.checkInvariantsLocked(); err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Msg("session invariant violation")
		return apperrors.Internal("session invariant violation").WithCause(err)
	}

	now := time.Now()
	s.updatedAt = now
	s.lastActivityAt = now

	s.persistLocked(ctx)
	s.emitLocked(ctx, event, payload)
	return nil
}

func (s *Session) persistLocked(ctx context.Context) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveSession(ctx, s.snapshotLocked()); err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Msg("failed to persist session snapshot")
	}
}

func (s *Session) emitLocked(ctx context.Context, event model.EventType, payload map[string]any) {
	if s.deps.Events == nil {
		return
	}
	err := s.deps.Events.Publish(ctx, model.Event{
		Type:       event,
		SessionID:  s.id,
		OccurredAt: time.Now(),
		Payload:    payload,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Str("event", string(event)).Msg("failed to publish domain event")
	}
}

// checkInvariantsLocked verifies the session's consistency conditions after a
// mutation. A failure here is a programming bug, not caller error.
func (s *Session) checkInvariantsLocked() error {
	for _, item := range s.ledger.ordered {
		if s.participants.get(item.AddedBy) == nil {
			return fmt.Errorf("item %s attributed to unknown participant %s", item.ID, item.AddedBy)
		}
		if item.Version < 1 {
			return fmt.Errorf("item %s has version %d", item.ID, item.Version)
		}
	}
	for id, limit := range s.limits {
		if s.ledger.totalFor(id).GreaterThan(limit) {
			return fmt.Errorf("participant %s exceeds spending limit %s", id, limit.StringFixed(2))
		}
	}
	return nil
}

// restoreSession rebuilds a live session from a persisted snapshot.
func restoreSession(snap model.SessionSnapshot, cfg Config, deps Deps, sched *Scheduler) *Session {
	s := &Session{
		id:             snap.ID,
		joinCode:       snap.JoinCode,
		restaurantID:   snap.RestaurantID,
		tableID:        snap.TableID,
		createdBy:      snap.CreatedBy,
		hostID:         snap.HostParticipantID,
		status:         snap.Status,
		deadline:       snap.OrderDeadline,
		split:          snap.PaymentSplit,
		limits:         make(map[string]decimal.Decimal),
		cancelReason:   snap.CancelReason,
		participants:   newParticipantManager(cfg.MaxParticipantsPerSession),
		ledger:         newItemLedger(),
		createdAt:      snap.CreatedAt,
		updatedAt:      snap.UpdatedAt,
		lastActivityAt: snap.UpdatedAt,
		cfg:            cfg,
		deps:           deps,
		sched:          sched,
	}
	for id, limit := range snap.SpendingLimits {
		s.limits[id] = limit
	}
	s.participants.restore(snap.Participants)
	s.ledger.restore(snap.Items)
	return s
}
