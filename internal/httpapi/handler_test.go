package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/hub"
	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/store"
	"github.com/stephdeve/SmartQueue/internal/ticketing"
)

const testSecret = "test-secret"

type fakeEngine struct {
	createFn       func(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error)
	callNextFn     func(ctx context.Context, serviceID string) (models.Ticket, bool, error)
	markAbsentFn   func(ctx context.Context, ticketID string) (models.Ticket, error)
	cancelFn       func(ctx context.Context, ticketID, actorUserID string) (models.Ticket, error)
	recallFn       func(ctx context.Context, ticketID string) (models.Ticket, error)
	completeFn     func(ctx context.Context, ticketID string) (models.Ticket, error)
	reprioritizeFn func(ctx context.Context, ticketID, priority string) (models.Ticket, error)
	closeFn        func(ctx context.Context, serviceID string) (models.Service, error)
	openFn         func(ctx context.Context, serviceID string) (models.Service, error)
}

func (f fakeEngine) CreateTicket(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error) {
	if f.createFn == nil {
		return models.TicketDetail{}, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeEngine) CallNext(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.callNextFn(ctx, serviceID)
}

func (f fakeEngine) MarkAbsent(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.markAbsentFn == nil {
		return models.Ticket{}, nil
	}
	return f.markAbsentFn(ctx, ticketID)
}

func (f fakeEngine) Cancel(ctx context.Context, ticketID, actorUserID string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID, actorUserID)
}

func (f fakeEngine) Recall(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.recallFn == nil {
		return models.Ticket{}, nil
	}
	return f.recallFn(ctx, ticketID)
}

func (f fakeEngine) Complete(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, ticketID)
}

func (f fakeEngine) Reprioritize(ctx context.Context, ticketID, priority string) (models.Ticket, error) {
	if f.reprioritizeFn == nil {
		return models.Ticket{}, nil
	}
	return f.reprioritizeFn(ctx, ticketID, priority)
}

func (f fakeEngine) CloseService(ctx context.Context, serviceID string) (models.Service, error) {
	if f.closeFn == nil {
		return models.Service{}, nil
	}
	return f.closeFn(ctx, serviceID)
}

func (f fakeEngine) OpenService(ctx context.Context, serviceID string) (models.Service, error) {
	if f.openFn == nil {
		return models.Service{}, nil
	}
	return f.openFn(ctx, serviceID)
}

type fakeReader struct {
	getTicketFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	getDetailFn      func(ctx context.Context, ticketID string) (models.TicketDetail, error)
	listFn           func(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error)
	registerDeviceFn func(ctx context.Context, device models.Device) (models.Device, error)
}

func (f fakeReader) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeReader) GetTicketDetail(ctx context.Context, ticketID string) (models.TicketDetail, error) {
	if f.getDetailFn == nil {
		return models.TicketDetail{}, store.ErrTicketNotFound
	}
	return f.getDetailFn(ctx, ticketID)
}

func (f fakeReader) ListUserTickets(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, filter)
}

func (f fakeReader) RegisterDevice(ctx context.Context, device models.Device) (models.Device, error) {
	if f.registerDeviceFn == nil {
		return device, nil
	}
	return f.registerDeviceFn(ctx, device)
}

func newTestHandler(engine Engine, reader Reader) http.Handler {
	return NewHandler(engine, reader, NewAuthenticator(testSecret), Options{
		Logger: zerolog.Nop(),
		Hub:    hub.New(zerolog.Nop()),
	}).Routes()
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	signed, err := NewAuthenticator(testSecret).Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, handler http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func intPtr(v int) *int { return &v }

func TestHealthAndMetricsArePublic(t *testing.T) {
	handler := newTestHandler(fakeEngine{}, fakeReader{})
	if rec := doRequest(t, handler, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	handler := newTestHandler(fakeEngine{}, fakeReader{})
	rec := doRequest(t, handler, http.MethodGet, "/api/tickets/active", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/tickets/active", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != "unauthorized" || resp.RequestID == "" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestCreateTicket(t *testing.T) {
	var got ticketing.CreateTicketInput
	engine := fakeEngine{
		createFn: func(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error) {
			got = input
			return models.TicketDetail{
				Ticket:  models.Ticket{TicketID: "t1", Number: "C-004-20251117", Status: models.StatusWaiting, Position: intPtr(4)},
				Service: models.Service{ServiceID: "s1", AvgServiceTimeMinutes: 5},
			}, nil
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	lat, lng := 6.36, 2.41
	rec := doRequest(t, handler, http.MethodPost, "/api/tickets", token(t, "u1", models.RoleUser), map[string]interface{}{
		"service_id": "s1",
		"lat":        lat,
		"lng":        lng,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.UserID != "u1" || got.ServiceID != "s1" || got.Lat == nil || *got.Lat != lat {
		t.Fatalf("unexpected engine input: %+v", got)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["number"] != "C-004-20251117" || body["eta_minutes"].(float64) != 20 {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	handler := newTestHandler(fakeEngine{}, fakeReader{})
	user := token(t, "u1", models.RoleUser)
	cases := []struct {
		name   string
		body   interface{}
		status int
	}{
		{name: "missing service", body: map[string]interface{}{}, status: http.StatusBadRequest},
		{name: "unknown field", body: map[string]interface{}{"service_id": "s1", "priority": "vip"}, status: http.StatusBadRequest},
		{name: "bad latitude", body: map[string]interface{}{"service_id": "s1", "lat": 95.0}, status: http.StatusBadRequest},
		{name: "walk-in by user", body: map[string]interface{}{"service_id": "s1", "walk_in": true}, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := doRequest(t, handler, http.MethodPost, "/api/tickets", user, tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
	}
}

func TestCreateTicketWalkInByAgent(t *testing.T) {
	var got ticketing.CreateTicketInput
	engine := fakeEngine{
		createFn: func(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error) {
			got = input
			return models.TicketDetail{Ticket: models.Ticket{TicketID: "t1"}}, nil
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	rec := doRequest(t, handler, http.MethodPost, "/api/tickets", token(t, "a1", models.RoleAgent), map[string]interface{}{"service_id": "s1", "walk_in": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if got.UserID != "" {
		t.Fatalf("walk-in ticket should be anonymous, got user %q", got.UserID)
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: ticketing.ErrServiceClosed, status: http.StatusUnprocessableEntity, code: "service_closed"},
		{err: ticketing.ErrDuplicateActiveTicket, status: http.StatusUnprocessableEntity, code: "duplicate_active_ticket"},
		{err: store.ErrServiceNotFound, status: http.StatusNotFound, code: "service_not_found"},
		{err: errors.New("db down"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		engine := fakeEngine{
			createFn: func(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error) {
				return models.TicketDetail{}, tc.err
			},
		}
		rec := doRequest(t, newTestHandler(engine, fakeReader{}), http.MethodPost, "/api/tickets", token(t, "u1", models.RoleUser), map[string]interface{}{"service_id": "s1"})
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, resp.Error.Code)
		}
	}
}

func TestConflictIsRetriedOnce(t *testing.T) {
	calls := 0
	engine := fakeEngine{
		callNextFn: func(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
			calls++
			if calls == 1 {
				return models.Ticket{}, false, store.ErrConflict
			}
			return models.Ticket{TicketID: "t1", Status: models.StatusCalled}, true, nil
		},
	}
	rec := doRequest(t, newTestHandler(engine, fakeReader{}), http.MethodPost, "/api/services/s1/call-next", token(t, "a1", models.RoleAgent), nil)
	if rec.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected success after one retry, got %d after %d calls", rec.Code, calls)
	}

	calls = 0
	engine.callNextFn = func(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
		calls++
		return models.Ticket{}, false, store.ErrConflict
	}
	rec = doRequest(t, newTestHandler(engine, fakeReader{}), http.MethodPost, "/api/services/s1/call-next", token(t, "a1", models.RoleAgent), nil)
	if rec.Code != http.StatusConflict || calls != 2 {
		t.Fatalf("expected 409 after two attempts, got %d after %d calls", rec.Code, calls)
	}
}

func TestCallNextRoutes(t *testing.T) {
	engine := fakeEngine{
		callNextFn: func(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
			return models.Ticket{}, false, nil
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	if rec := doRequest(t, handler, http.MethodPost, "/api/services/s1/call-next", token(t, "u1", models.RoleUser), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/services/s1/call-next", token(t, "a1", models.RoleAdmin), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for empty queue, got %d", rec.Code)
	}
}

func TestCancelPassesActor(t *testing.T) {
	var actors []string
	engine := fakeEngine{
		cancelFn: func(ctx context.Context, ticketID, actorUserID string) (models.Ticket, error) {
			actors = append(actors, actorUserID)
			if ticketID == "called" {
				return models.Ticket{}, ticketing.ErrInvalidStateForCancel
			}
			return models.Ticket{TicketID: ticketID, Status: models.StatusCanceled}, nil
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	body := map[string]string{"action": "cancel"}
	if rec := doRequest(t, handler, http.MethodPatch, "/api/tickets/t1", token(t, "u1", models.RoleUser), body); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPatch, "/api/tickets/t1", token(t, "a1", models.RoleAgent), body); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(actors) != 2 || actors[0] != "u1" || actors[1] != "" {
		t.Fatalf("unexpected actors: %v", actors)
	}
	if rec := doRequest(t, handler, http.MethodPatch, "/api/tickets/called", token(t, "u1", models.RoleUser), body); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPatch, "/api/tickets/t1", token(t, "u1", models.RoleUser), map[string]string{"action": "call"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}

func TestAgentTicketActions(t *testing.T) {
	var seen []string
	record := func(name string) func(ctx context.Context, ticketID string) (models.Ticket, error) {
		return func(ctx context.Context, ticketID string) (models.Ticket, error) {
			seen = append(seen, name+":"+ticketID)
			return models.Ticket{TicketID: ticketID}, nil
		}
	}
	engine := fakeEngine{
		markAbsentFn: record("absent"),
		recallFn:     record("recall"),
		completeFn:   record("complete"),
		reprioritizeFn: func(ctx context.Context, ticketID, priority string) (models.Ticket, error) {
			if priority != models.PriorityVIP {
				return models.Ticket{}, ticketing.ErrInvalidPriority
			}
			seen = append(seen, "priority:"+ticketID)
			return models.Ticket{TicketID: ticketID, Priority: priority}, nil
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	agent := token(t, "a1", models.RoleAgent)
	for _, path := range []string{"/api/tickets/t1/mark-absent", "/api/tickets/t1/recall", "/api/tickets/t1/complete"} {
		if rec := doRequest(t, handler, http.MethodPost, path, agent, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec := doRequest(t, handler, http.MethodPost, path, token(t, "u1", models.RoleUser), nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for user, got %d", path, rec.Code)
		}
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/tickets/t1/priority", agent, map[string]string{"priority": "VIP"}); rec.Code != http.StatusOK {
		t.Fatalf("priority: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/tickets/t1/priority", agent, map[string]string{"priority": "urgent"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("priority: expected 400, got %d", rec.Code)
	}
	if len(seen) != 4 {
		t.Fatalf("unexpected calls: %v", seen)
	}
}

func TestServiceOpenClose(t *testing.T) {
	engine := fakeEngine{
		closeFn: func(ctx context.Context, serviceID string) (models.Service, error) {
			return models.Service{ServiceID: serviceID, Status: models.ServiceClosed}, nil
		},
		openFn: func(ctx context.Context, serviceID string) (models.Service, error) {
			return models.Service{}, store.ErrServiceNotFound
		},
	}
	handler := newTestHandler(engine, fakeReader{})
	agent := token(t, "a1", models.RoleAgent)
	if rec := doRequest(t, handler, http.MethodPost, "/api/services/s1/close", agent, nil); rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/services/missing/open", agent, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("open: expected 404, got %d", rec.Code)
	}
}

func TestGetTicketOwnership(t *testing.T) {
	owner := "u1"
	reader := fakeReader{
		getDetailFn: func(ctx context.Context, ticketID string) (models.TicketDetail, error) {
			return models.TicketDetail{Ticket: models.Ticket{TicketID: ticketID, UserID: &owner}}, nil
		},
	}
	handler := newTestHandler(fakeEngine{}, reader)
	cases := []struct {
		token  string
		status int
	}{
		{token: token(t, "u1", models.RoleUser), status: http.StatusOK},
		{token: token(t, "u2", models.RoleUser), status: http.StatusForbidden},
		{token: token(t, "a1", models.RoleAgent), status: http.StatusOK},
	}
	for i, tc := range cases {
		if rec := doRequest(t, handler, http.MethodGet, "/api/tickets/t1", tc.token, nil); rec.Code != tc.status {
			t.Fatalf("case %d: expected %d, got %d", i, tc.status, rec.Code)
		}
	}
}

func TestTicketHistoryFilters(t *testing.T) {
	var got store.UserTicketFilter
	reader := fakeReader{
		listFn: func(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error) {
			got = filter
			return []models.TicketDetail{{Ticket: models.Ticket{TicketID: "t1", Status: models.StatusClosed}}}, nil
		},
	}
	handler := newTestHandler(fakeEngine{}, reader)
	user := token(t, "u1", models.RoleUser)

	rec := doRequest(t, handler, http.MethodGet, "/api/tickets/history?status=closed,canceled&from=2025-11-01&to=2025-11-17&limit=500", user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.UserID != "u1" || len(got.Statuses) != 2 || got.Limit != maxHistoryLimit {
		t.Fatalf("unexpected filter: %+v", got)
	}
	if got.To == nil || !got.To.Equal(time.Date(2025, 11, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected exclusive end of day, got %v", got.To)
	}
	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || len(body.Data) != 1 {
		t.Fatalf("unexpected body: %v %+v", err, body)
	}

	for _, query := range []string{"status=lost", "from=17-11-2025", "limit=-1", "offset=x"} {
		if rec := doRequest(t, handler, http.MethodGet, "/api/tickets/history?"+query, user, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestActiveTickets(t *testing.T) {
	var got store.UserTicketFilter
	reader := fakeReader{
		listFn: func(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error) {
			got = filter
			return nil, nil
		},
	}
	rec := doRequest(t, newTestHandler(fakeEngine{}, reader), http.MethodGet, "/api/tickets/active", token(t, "u1", models.RoleUser), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(got.Statuses) != len(models.ActiveStatuses) {
		t.Fatalf("expected active statuses filter, got %v", got.Statuses)
	}
	if body := rec.Body.String(); body != "{\"data\":[]}\n" {
		t.Fatalf("expected empty data array, got %s", body)
	}
}

func TestRegisterDevice(t *testing.T) {
	var got models.Device
	reader := fakeReader{
		registerDeviceFn: func(ctx context.Context, device models.Device) (models.Device, error) {
			got = device
			return device, nil
		},
	}
	handler := newTestHandler(fakeEngine{}, reader)
	rec := doRequest(t, handler, http.MethodPost, "/api/devices", token(t, "u1", models.RoleUser), map[string]interface{}{"fcm_token": "tok", "platform": "android"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if got.UserID != "u1" || got.FCMToken != "tok" || !got.PushEnabled {
		t.Fatalf("unexpected device: %+v", got)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/devices", token(t, "u1", models.RoleUser), map[string]interface{}{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rec.Code)
	}
}

func TestAuthorizeChannel(t *testing.T) {
	owner := "u1"
	reader := fakeReader{
		getTicketFn: func(ctx context.Context, ticketID string) (models.Ticket, error) {
			if ticketID != "t1" {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{TicketID: "t1", UserID: &owner}, nil
		},
	}
	h := NewHandler(fakeEngine{}, reader, NewAuthenticator(testSecret), Options{Logger: zerolog.Nop()})
	user := Principal{UserID: "u1", Role: models.RoleUser}
	other := Principal{UserID: "u2", Role: models.RoleUser}
	agent := Principal{UserID: "a1", Role: models.RoleAgent}

	cases := []struct {
		principal Principal
		channel   string
		allowed   bool
	}{
		{principal: user, channel: events.TicketChannel("t1"), allowed: true},
		{principal: other, channel: events.TicketChannel("t1"), allowed: false},
		{principal: user, channel: events.TicketChannel("missing"), allowed: false},
		{principal: user, channel: events.ServiceChannel("s1"), allowed: false},
		{principal: agent, channel: events.ServiceChannel("s1"), allowed: true},
		{principal: agent, channel: "private-admin", allowed: false},
	}
	for _, tc := range cases {
		err := h.authorizeChannel(context.Background(), tc.principal, tc.channel)
		if (err == nil) != tc.allowed {
			t.Fatalf("%s on %s: allowed=%v err=%v", tc.principal.UserID, tc.channel, tc.allowed, err)
		}
	}
}

func TestAuthenticatorRejectsWrongSecret(t *testing.T) {
	signed, err := NewAuthenticator("other").Issue("u1", models.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewAuthenticator(testSecret).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	expired, _ := NewAuthenticator(testSecret).Issue("u1", models.RoleUser, -time.Minute)
	if _, err := NewAuthenticator(testSecret).Parse(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	principal, err := NewAuthenticator(testSecret).Parse(token(t, "u1", ""))
	if err != nil || principal.Role != models.RoleUser {
		t.Fatalf("expected default role, got %+v %v", principal, err)
	}
}
