package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stephdeve/SmartQueue/internal/hub"
	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/store"
	"github.com/stephdeve/SmartQueue/internal/ticketing"
)

const (
	historyDateLayout   = "2006-01-02"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Engine is the ticket lifecycle as seen by the HTTP layer.
type Engine interface {
	CreateTicket(ctx context.Context, input ticketing.CreateTicketInput) (models.TicketDetail, error)
	CallNext(ctx context.Context, serviceID string) (models.Ticket, bool, error)
	MarkAbsent(ctx context.Context, ticketID string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID, actorUserID string) (models.Ticket, error)
	Recall(ctx context.Context, ticketID string) (models.Ticket, error)
	Complete(ctx context.Context, ticketID string) (models.Ticket, error)
	Reprioritize(ctx context.Context, ticketID, priority string) (models.Ticket, error)
	CloseService(ctx context.Context, serviceID string) (models.Service, error)
	OpenService(ctx context.Context, serviceID string) (models.Service, error)
}

// Reader serves the read-only endpoints straight from the store.
type Reader interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	GetTicketDetail(ctx context.Context, ticketID string) (models.TicketDetail, error)
	ListUserTickets(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error)
	RegisterDevice(ctx context.Context, device models.Device) (models.Device, error)
}

type Options struct {
	CORSOrigins        []string
	RateLimitPerMinute int
	Location           *time.Location
	Hub                *hub.Hub
	Logger             zerolog.Logger
}

type Handler struct {
	engine    Engine
	reader    Reader
	auth      *Authenticator
	hub       *hub.Hub
	origins   []string
	rateLimit int
	location  *time.Location
	log       zerolog.Logger
}

type createTicketRequest struct {
	ServiceID string   `json:"service_id"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	WalkIn    bool     `json:"walk_in"`
}

type updateTicketRequest struct {
	Action string `json:"action"`
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

type registerDeviceRequest struct {
	FCMToken    string `json:"fcm_token"`
	Platform    string `json:"platform"`
	AppVersion  string `json:"app_version"`
	PushEnabled *bool  `json:"push_enabled"`
}

type ticketDetailResponse struct {
	models.Ticket
	Service       models.Service       `json:"service"`
	Establishment models.Establishment `json:"establishment"`
	ETAMinutes    *int                 `json:"eta_minutes"`
}

type listResponse struct {
	Data []ticketDetailResponse `json:"data"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(engine Engine, reader Reader, auth *Authenticator, options Options) *Handler {
	origins := options.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		engine:    engine,
		reader:    reader,
		auth:      auth,
		hub:       options.Hub,
		origins:   origins,
		rateLimit: options.RateLimitPerMinute,
		location:  location,
		log:       options.Logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
	}))
	if h.rateLimit > 0 {
		r.Use(httprate.LimitByIP(h.rateLimit, time.Minute))
	}

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", expvar.Handler())
	if h.hub != nil {
		r.Handle("/realtime/*", h.realtimeHandler())
	}

	staff := RequireRoles(models.RoleAgent, models.RoleAdmin)
	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", h.handleCreateTicket)
			r.Get("/active", h.handleActiveTickets)
			r.Get("/history", h.handleTicketHistory)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetTicket)
				r.Patch("/", h.handleUpdateTicket)
				r.With(staff).Post("/mark-absent", h.handleMarkAbsent)
				r.With(staff).Post("/recall", h.handleRecall)
				r.With(staff).Post("/complete", h.handleComplete)
				r.With(staff).Post("/priority", h.handlePriority)
			})
		})

		r.Route("/services/{id}", func(r chi.Router) {
			r.Use(staff)
			r.Post("/call-next", h.handleCallNext)
			r.Post("/close", h.handleCloseService)
			r.Post("/open", h.handleOpenService)
		})

		r.Post("/devices", h.handleRegisterDevice)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req createTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "service_id is required")
		return
	}
	if !validCoordinates(req.Lat, req.Lng) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "lat must be within [-90,90] and lng within [-180,180]")
		return
	}
	if req.WalkIn && !principal.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "only staff can issue walk-in tickets")
		return
	}

	input := ticketing.CreateTicketInput{ServiceID: req.ServiceID, Lat: req.Lat, Lng: req.Lng}
	if !req.WalkIn {
		input.UserID = principal.UserID
	}
	var detail models.TicketDetail
	err := retryOnConflict(r.Context(), func() error {
		var err error
		detail, err = h.engine.CreateTicket(r.Context(), input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDetailResponse(detail))
}

func (h *Handler) handleActiveTickets(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	details, err := h.reader.ListUserTickets(r.Context(), store.UserTicketFilter{
		UserID:   principal.UserID,
		Statuses: models.ActiveStatuses,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(details))
}

func (h *Handler) handleTicketHistory(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	query := r.URL.Query()
	filter := store.UserTicketFilter{UserID: principal.UserID, Limit: defaultHistoryLimit}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			status = strings.TrimSpace(status)
			if !validStatus(status) {
				writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "unknown status "+status)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.ParseInLocation(historyDateLayout, raw, h.location)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "from must be YYYY-MM-DD")
			return
		}
		filter.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.ParseInLocation(historyDateLayout, raw, h.location)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "to must be YYYY-MM-DD")
			return
		}
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	details, err := h.reader.ListUserTickets(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(details))
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	detail, err := h.reader.GetTicketDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !principal.IsStaff() && !detail.Ticket.OwnedBy(principal.UserID) {
		h.fail(w, r, ticketing.ErrNotTicketOwner)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req updateTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Action) != "cancel" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "action must be cancel")
		return
	}
	actor := principal.UserID
	if principal.IsStaff() {
		actor = ""
	}
	h.runTicketAction(w, r, func(ctx context.Context, ticketID string) (models.Ticket, error) {
		return h.engine.Cancel(ctx, ticketID, actor)
	})
}

func (h *Handler) handleMarkAbsent(w http.ResponseWriter, r *http.Request) {
	h.runTicketAction(w, r, h.engine.MarkAbsent)
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	h.runTicketAction(w, r, h.engine.Recall)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.runTicketAction(w, r, h.engine.Complete)
}

func (h *Handler) handlePriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	priority := strings.ToLower(strings.TrimSpace(req.Priority))
	h.runTicketAction(w, r, func(ctx context.Context, ticketID string) (models.Ticket, error) {
		return h.engine.Reprioritize(ctx, ticketID, priority)
	})
}

func (h *Handler) runTicketAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, ticketID string) (models.Ticket, error)) {
	ticketID := chi.URLParam(r, "id")
	var ticket models.Ticket
	err := retryOnConflict(r.Context(), func() error {
		var err error
		ticket, err = action(r.Context(), ticketID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "id")
	var (
		ticket models.Ticket
		found  bool
	)
	err := retryOnConflict(r.Context(), func() error {
		var err error
		ticket, found, err = h.engine.CallNext(r.Context(), serviceID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCloseService(w http.ResponseWriter, r *http.Request) {
	h.runServiceAction(w, r, h.engine.CloseService)
}

func (h *Handler) handleOpenService(w http.ResponseWriter, r *http.Request) {
	h.runServiceAction(w, r, h.engine.OpenService)
}

func (h *Handler) runServiceAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, serviceID string) (models.Service, error)) {
	serviceID := chi.URLParam(r, "id")
	var service models.Service
	err := retryOnConflict(r.Context(), func() error {
		var err error
		service, err = action(r.Context(), serviceID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req registerDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.FCMToken = strings.TrimSpace(req.FCMToken)
	if req.FCMToken == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "fcm_token is required")
		return
	}
	pushEnabled := true
	if req.PushEnabled != nil {
		pushEnabled = *req.PushEnabled
	}
	device, err := h.reader.RegisterDevice(r.Context(), models.Device{
		DeviceID:    uuid.NewString(),
		UserID:      principal.UserID,
		FCMToken:    req.FCMToken,
		Platform:    strings.TrimSpace(req.Platform),
		AppVersion:  strings.TrimSpace(req.AppVersion),
		PushEnabled: pushEnabled,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFromRequest(r)).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

// retryOnConflict runs fn a second time when the first attempt lost a race
// with a concurrent transaction.
func retryOnConflict(ctx context.Context, fn func() error) error {
	err := fn()
	if errors.Is(err, store.ErrConflict) && ctx.Err() == nil {
		conflictRetries.Add(1)
		err = fn()
	}
	return err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func validCoordinates(lat, lng *float64) bool {
	if lat != nil && (*lat < -90 || *lat > 90) {
		return false
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		return false
	}
	return true
}

func validStatus(status string) bool {
	switch status {
	case models.StatusWaiting, models.StatusCalled, models.StatusAbsent, models.StatusClosed, models.StatusCanceled:
		return true
	default:
		return false
	}
}

func toDetailResponse(detail models.TicketDetail) ticketDetailResponse {
	return ticketDetailResponse{
		Ticket:        detail.Ticket,
		Service:       detail.Service,
		Establishment: detail.Establishment,
		ETAMinutes:    detail.ETAMinutes(),
	}
}

func toListResponse(details []models.TicketDetail) listResponse {
	out := listResponse{Data: make([]ticketDetailResponse, 0, len(details))}
	for _, detail := range details {
		out.Data = append(out.Data, toDetailResponse(detail))
	}
	return out
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, ticketing.ErrServiceClosed):
		return http.StatusUnprocessableEntity, "service_closed", "service is closed"
	case errors.Is(err, ticketing.ErrDuplicateActiveTicket):
		return http.StatusUnprocessableEntity, "duplicate_active_ticket", "you already have an active ticket for this service"
	case errors.Is(err, ticketing.ErrInvalidStateForCancel):
		return http.StatusConflict, "invalid_state", "only waiting tickets can be canceled"
	case errors.Is(err, ticketing.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, ticketing.ErrNotTicketOwner):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, ticketing.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_priority", "priority must be normal, high or vip"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
