// Package httpx is the HTTP surface: order creation starts a fulfillment
// saga, status updates are optimistic signals to it, and the saga log is
// exposed read-only for operators.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spotlabs/spot-sagas/internal/httpx/middlewares"
	"github.com/spotlabs/spot-sagas/internal/order/domain"
	"github.com/spotlabs/spot-sagas/internal/order/store"
	ordersaga "github.com/spotlabs/spot-sagas/internal/order/workflow"
	"github.com/spotlabs/spot-sagas/internal/workflow"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

type Handler struct {
	engine  *workflow.Engine
	orders  store.Repository
	sagaLog steplog.Repository
}

func NewHandler(engine *workflow.Engine, orders store.Repository, sagaLog steplog.Repository) *Handler {
	return &Handler{engine: engine, orders: orders, sagaLog: sagaLog}
}

// CreateOrder starts the fulfillment saga and answers 202 before the order is
// durable: the first saga step persists it. An X-Idempotency-Key header makes
// the call replay-safe — the key becomes the order ID, and a duplicate POST
// collides with the original execution.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.StoreID == "" || req.UserID <= 0 || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "store_id, user_id and items are required")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.MenuID == "" || it.Quantity <= 0 || it.Price < 0 {
			writeError(w, http.StatusBadRequest, "invalid_item", "menu_id, quantity, and price must be valid")
			return
		}
		item := domain.OrderItem{
			MenuID:   it.MenuID,
			MenuName: it.MenuName,
			Price:    it.Price,
			Quantity: it.Quantity,
		}
		for _, opt := range it.Options {
			item.Options = append(item.Options, domain.ItemOption{
				OptionID: opt.OptionID,
				Name:     opt.Name,
				Price:    opt.Price,
			})
		}
		items = append(items, item)
	}

	orderID := middlewares.IdempotencyKey(r.Context())
	if orderID == "" {
		orderID = uuid.NewString()
	}

	slog.InfoContext(r.Context(), "creating order",
		"order_id", orderID, "store_id", req.StoreID, "user_id", req.UserID)

	err := h.engine.Start(r.Context(), ordersaga.HandlerName, orderID, ordersaga.StartInput{
		OrderID:    orderID,
		StoreID:    req.StoreID,
		UserID:     req.UserID,
		PickupTime: req.PickupTime,
		Items:      items,
	})
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "order_already_exists", "an order with this idempotency key already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "saga_start_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResponse{
		OrderID: orderID,
		Status:  string(domain.StatusPaymentPending),
	})
}

// GetOrder returns the persisted order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	o, err := h.orders.Get(r.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order_lookup_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// UpdateStatus signals the fulfillment saga with a proposed transition. The
// response is optimistic: 202 means the signal was delivered, not that the
// transition was applied — the saga's rules decide that.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	sig, err := signalFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	err = h.engine.Signal(r.Context(), orderID, sig)
	if errors.Is(err, workflow.ErrNotRunning) {
		writeError(w, http.StatusConflict, "order_not_in_progress",
			"the order's fulfillment is not running; it may already be in a terminal state")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signal_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, UpdateStatusResponse{OrderID: orderID, Status: req.Status})
}

// GetSaga exposes one execution's step log; the operator view for stuck or
// REFUND_ERROR orders.
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		writeError(w, http.StatusBadRequest, "saga_id_required", "")
		return
	}

	inst, err := h.sagaLog.GetInstance(r.Context(), sagaID)
	if errors.Is(err, steplog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "saga_not_found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "saga_lookup_failed", err.Error())
		return
	}

	steps, err := h.sagaLog.Steps(r.Context(), sagaID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "saga_lookup_failed", err.Error())
		return
	}

	resp := SagaResponse{
		ID:      inst.ID,
		Handler: inst.Handler,
		Status:  string(inst.Status),
		Error:   inst.Error,
		Steps:   make([]SagaStepResponse, 0, len(steps)),
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, SagaStepResponse{
			Seq:        s.Seq,
			Kind:       string(s.Kind),
			Name:       s.Name,
			Status:     string(s.Status),
			Error:      s.Error,
			RecordedAt: s.RecordedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// signalFromRequest validates the proposed transition and fills in the
// defaults the status implies.
func signalFromRequest(req UpdateStatusRequest) (ordersaga.StatusSignal, error) {
	status := domain.Status(req.Status)
	switch status {
	case domain.StatusAccepted, domain.StatusCooking, domain.StatusReady, domain.StatusCompleted:
	case domain.StatusCancelPending, domain.StatusRejectPending:
	default:
		return ordersaga.StatusSignal{}, errors.New("status must be one of ACCEPTED, COOKING, READY, COMPLETED, CANCEL_PENDING, REJECT_PENDING")
	}

	sig := ordersaga.StatusSignal{
		Status:        status,
		EstimatedTime: req.EstimatedTime,
		Reason:        req.Reason,
		CancelledBy:   domain.CancelledBy(req.CancelledBy),
	}
	if sig.CancelledBy == "" {
		switch status {
		case domain.StatusCancelPending:
			sig.CancelledBy = domain.CancelledByCustomer
		case domain.StatusRejectPending:
			sig.CancelledBy = domain.CancelledByStore
		}
	}
	return sig, nil
}

func mapOrderToResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		item := OrderItemResponse{
			MenuID:   it.MenuID,
			MenuName: it.MenuName,
			Price:    it.Price,
			Quantity: it.Quantity,
		}
		for _, opt := range it.Options {
			item.Options = append(item.Options, ItemOptionDTO{
				OptionID: opt.OptionID,
				Name:     opt.Name,
				Price:    opt.Price,
			})
		}
		items = append(items, item)
	}

	return OrderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		StoreID:       o.StoreID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PickupTime:    o.PickupTime,
		EstimatedTime: o.EstimatedTime,
		Reason:        o.Reason,
		CancelledBy:   string(o.CancelledBy),
		TotalAmount:   o.TotalAmount(),
		Items:         items,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
