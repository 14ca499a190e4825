package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tably/grouporder-server/internal/engine"
	"github.com/tably/grouporder-server/internal/middleware"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/payment"
	"github.com/tably/grouporder-server/internal/repository"
)

// testStore drops session snapshots and lands placed orders in the same repo
// the handler reads from, so GET /order sees what PlaceOrder saved.
type testStore struct {
	orders *mockOrderRepo
}

func (testStore) SaveSession(context.Context, model.SessionSnapshot) error { return nil }

func (s testStore) SaveOrder(ctx context.Context, order model.OrderRecord) error {
	return s.orders.Save(ctx, order)
}

type nullSink struct{}

func (nullSink) Publish(context.Context, model.Event) error { return nil }

type okGateway struct{}

func (okGateway) Charge(_ context.Context, req payment.ChargeRequest) model.ChargeOutcome {
	return model.ChargeOutcome{
		ParticipantID: req.ParticipantID,
		Amount:        req.Amount,
		Status:        model.ChargeStatusSucceeded,
		Reference:     "ch_test",
	}
}

type mockOrderRepo struct {
	orders map[string]*model.OrderRecord
}

func (m *mockOrderRepo) Save(_ context.Context, order model.OrderRecord) error {
	if m.orders == nil {
		m.orders = make(map[string]*model.OrderRecord)
	}
	m.orders[order.SessionID] = &order
	return nil
}

func (m *mockOrderRepo) FindByID(context.Context, string) (*model.OrderRecord, error) {
	return nil, nil
}

func (m *mockOrderRepo) FindBySessionID(_ context.Context, sessionID string) (*model.OrderRecord, error) {
	return m.orders[sessionID], nil
}

func (m *mockOrderRepo) ListByRestaurant(context.Context, string, int) ([]model.OrderRecord, error) {
	return nil, nil
}

func (m *mockOrderRepo) WithTx(*sqlx.Tx) repository.OrderRepository { return m }

func newTestRouter(t *testing.T) (http.Handler, *engine.Registry) {
	t.Helper()

	orders := &mockOrderRepo{}
	registry := engine.NewRegistry(engine.Config{
		MaxActiveSessionsPerRestaurant: 10,
		MaxParticipantsPerSession:      10,
		ChargeTimeout:                  time.Second,
		RemovedItemPolicy:              model.RemovedItemsExcluded,
	}, engine.Deps{Store: testStore{orders}, Events: nullSink{}, Gateway: okGateway{}})

	h := NewSessionHandler(registry, orders, time.Hour)
	identity := middleware.NewIdentityMiddleware()
	return identity.Handler(h.Routes()), registry
}

func doRequest(t *testing.T, router http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func dinerHeaders(name, participantID string) map[string]string {
	h := map[string]string{"X-Diner-Name": name}
	if participantID != "" {
		h["X-Participant-Id"] = participantID
	}
	return h
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestCreateSession(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("creates and returns the host participant", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/", dinerHeaders("Host", ""), map[string]any{
			"restaurantId": "rest-1",
			"tableId":      "t-4",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decodeBody[createSessionResponse](t, rec)
		assert.NotEmpty(t, resp.ParticipantID)
		assert.Equal(t, model.SessionStatusActive, resp.Session.Status)
		assert.Len(t, resp.Session.JoinCode, 9)
	})

	t.Run("requires a diner name", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/", nil, map[string]any{"restaurantId": "rest-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires a restaurant", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/", dinerHeaders("Host", ""), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJoinSession(t *testing.T) {
	router, _ := newTestRouter(t)

	created := decodeBody[createSessionResponse](t, doRequest(t, router, http.MethodPost, "/",
		dinerHeaders("Host", ""), map[string]any{"restaurantId": "rest-1"}))

	t.Run("joins by code", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/join", dinerHeaders("Alice", ""), map[string]any{
			"joinCode": created.Session.JoinCode,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[joinSessionResponse](t, rec)
		assert.NotEmpty(t, resp.ParticipantID)
		assert.Len(t, resp.Session.Participants, 2)
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/join", dinerHeaders("Alice", ""), map[string]any{
			"joinCode": "ZZZZ-ZZZZ",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	created := decodeBody[createSessionResponse](t, doRequest(t, router, http.MethodPost, "/",
		dinerHeaders("Host", ""), map[string]any{"restaurantId": "rest-1"}))
	sessionPath := "/" + created.Session.ID
	hostHeaders := dinerHeaders("Host", created.ParticipantID)

	joined := decodeBody[joinSessionResponse](t, doRequest(t, router, http.MethodPost, "/join",
		dinerHeaders("Alice", ""), map[string]any{"joinCode": created.Session.JoinCode}))
	aliceHeaders := dinerHeaders("Alice", joined.ParticipantID)

	t.Run("mutations need a participant header", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, sessionPath+"/items", dinerHeaders("Alice", ""), map[string]any{
			"items": []map[string]any{{"name": "soup", "unitPrice": "4.00", "quantity": 1}},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("add items", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, sessionPath+"/items", aliceHeaders, map[string]any{
			"items": []map[string]any{
				{"menuItemId": "m1", "name": "soup", "unitPrice": "4.00", "quantity": 2},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("update with stale version conflicts", func(t *testing.T) {
		snap := decodeBody[model.SessionSnapshot](t, doRequest(t, router, http.MethodGet, sessionPath+"/", aliceHeaders, nil))
		require.NotEmpty(t, snap.Items)
		itemID := snap.Items[0].ID

		rec := doRequest(t, router, http.MethodPatch, sessionPath+"/items/"+itemID, aliceHeaders, map[string]any{
			"expectedVersion": 1,
			"quantity":        3,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doRequest(t, router, http.MethodPatch, sessionPath+"/items/"+itemID, aliceHeaders, map[string]any{
			"expectedVersion": 1,
			"quantity":        4,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("non-host cannot lock", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, sessionPath+"/lock", aliceHeaders, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("lock, place, fetch order", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, sessionPath+"/lock", hostHeaders, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doRequest(t, router, http.MethodPost, sessionPath+"/place", hostHeaders, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		// Alice's soup: 3 x 4.00, split equally across host and Alice.
		order := decodeBody[model.OrderRecord](t, rec)
		assert.Equal(t, created.Session.ID, order.SessionID)
		assert.Equal(t, "12.00", order.Total.StringFixed(2))
		assert.Equal(t, "6.00", order.Split[created.ParticipantID].StringFixed(2))
		assert.Equal(t, "6.00", order.Split[joined.ParticipantID].StringFixed(2))

		rec = doRequest(t, router, http.MethodGet, sessionPath+"/order", aliceHeaders, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		fetched := decodeBody[model.OrderRecord](t, rec)
		assert.Equal(t, order.ID, fetched.ID, "the saved order is the one GET returns")
	})

	t.Run("mutations after completion conflict", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, sessionPath+"/items", aliceHeaders, map[string]any{
			"items": []map[string]any{{"name": "late", "unitPrice": "2.00", "quantity": 1}},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRemoveParticipantOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	created := decodeBody[createSessionResponse](t, doRequest(t, router, http.MethodPost, "/",
		dinerHeaders("Host", ""), map[string]any{"restaurantId": "rest-1"}))
	sessionPath := "/" + created.Session.ID
	hostHeaders := dinerHeaders("Host", created.ParticipantID)

	joined := decodeBody[joinSessionResponse](t, doRequest(t, router, http.MethodPost, "/join",
		dinerHeaders("Alice", ""), map[string]any{"joinCode": created.Session.JoinCode}))

	rec := doRequest(t, router, http.MethodDelete, sessionPath+"/participants/"+joined.ParticipantID, hostHeaders, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	snap := decodeBody[model.SessionSnapshot](t, doRequest(t, router, http.MethodGet, sessionPath+"/", hostHeaders, nil))
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, model.ParticipantStatusLeft, snap.Participants[1].Status)
}

func TestGetOrderNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	created := decodeBody[createSessionResponse](t, doRequest(t, router, http.MethodPost, "/",
		dinerHeaders("Host", ""), map[string]any{"restaurantId": "rest-1"}))

	rec := doRequest(t, router, http.MethodGet, "/"+created.Session.ID+"/order", dinerHeaders("Host", created.ParticipantID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
