package presentation

import (
	"context"
	"errors"
	"github.com/RaikyD/shop-orders-service/internal/application"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/RaikyD/shop-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxBodyBytes         = 1 << 20
	maxIdempotencyKeyLen = 255
	serviceName          = "orders-service"
)

type OrdersHandler struct {
	svc        *application.OrdersService
	validate   *validator.Validate
	log        *zap.SugaredLogger
	production bool
}

func NewOrdersHandler(svc *application.OrdersService, log *zap.SugaredLogger, production bool) *OrdersHandler {
	return &OrdersHandler{svc: svc, validate: newValidator(), log: log, production: production}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.ListOrders)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
	r.Patch("/orders/{id}/cancel", h.CancelOrder)
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	page, err := intQuery(r, "page", application.DefaultPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	size, err := intQuery(r, "pageSize", application.DefaultPageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.svc.ListOrders(r.Context(), caller, page, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toListResponse(p))
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrder(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !isJSON(r) {
		helpers.HttpError(w, r, http.StatusUnsupportedMediaType, "unsupported_media_type", "content type must be application/json", nil)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLen {
		h.fail(w, r, domain.NewValidationError("Idempotency-Key", "must be at most 255 characters"))
		return
	}

	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.CreateOrder(r.Context(), caller, req.toInput(key))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/orders/"+res.Order.ID.String())
	helpers.WriteJSON(w, status, toOrderResponse(res.Order))
}

func (h *OrdersHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	// role check comes before the body is even read
	if !caller.IsAdmin() {
		h.fail(w, r, domain.ErrForbidden)
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := h.svc.UpdateOrderStatus(r.Context(), caller, id, domain.Status(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.CancelOrder(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrdersHandler) Health(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *OrdersHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		h.log.Warnw("readiness check failed", "err", err)
		helpers.HttpError(w, r, http.StatusServiceUnavailable, "service_unavailable", "order store is not ready", nil)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *OrdersHandler) caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		h.fail(w, r, domain.ErrUnauthorized)
	}
	return id, ok
}

// orderID answers 404 for ids that cannot exist, same as a missing order.
func (h *OrdersHandler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, domain.ErrOrderNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrdersHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := helpers.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), v); err != nil {
		helpers.HttpError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error(), nil)
		return false
	}
	if err := validateRequest(h.validate, v); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

// fail maps an error onto the status taxonomy and writes the envelope.
func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		helpers.HttpError(w, r, http.StatusBadRequest, "validation_error", "request validation failed", ve.Fields)
	case errors.Is(err, domain.ErrOrderAlreadyCancelled), errors.Is(err, domain.ErrOrderNotCancellable):
		helpers.HttpError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, domain.ErrOrderNotFound):
		helpers.HttpError(w, r, http.StatusNotFound, "not_found", domain.ErrOrderNotFound.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		helpers.HttpError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
	case errors.Is(err, domain.ErrForbidden):
		helpers.HttpError(w, r, http.StatusForbidden, "forbidden", "admin role required", nil)
	case errors.Is(err, domain.ErrOrderNumberConflict), errors.Is(err, domain.ErrIdempotencyInProgress):
		helpers.HttpError(w, r, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrStoreNotInitialized),
		errors.Is(err, context.DeadlineExceeded):
		h.log.Errorw("store unavailable", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		helpers.HttpError(w, r, http.StatusServiceUnavailable, "service_unavailable", h.detail(err, "service temporarily unavailable"), nil)
	default:
		h.log.Errorw("unhandled error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		helpers.HttpError(w, r, http.StatusInternalServerError, "internal_error", h.detail(err, "internal server error"), nil)
	}
}

func (h *OrdersHandler) detail(err error, generic string) string {
	if h.production {
		return generic
	}
	return err.Error()
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}
