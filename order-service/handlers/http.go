package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/pizza-saga/order-service/application"
	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	orchestrator *application.Orchestrator
	getOrder     *application.GetOrder
	logger       *zap.Logger
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	orchestrator *application.Orchestrator,
	getOrder *application.GetOrder,
	logger *zap.Logger,
) *OrderHandlers {
	return &OrderHandlers{
		orchestrator: orchestrator,
		getOrder:     getOrder,
		logger:       logger,
	}
}

// CreateOrder places an order and starts its saga
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.orchestrator.CreateOrder(r.Context(), &cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, response)
}

// GetOrder returns one order
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.getOrder.Execute(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, response)
}

// ListOrders returns every order
func (h *OrderHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	response, err := h.getOrder.All(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, response)
}

// GetJournal returns the saga conversation of one order
func (h *OrderHandlers) GetJournal(w http.ResponseWriter, r *http.Request) {
	response, err := h.getOrder.Journal(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, response)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Get("/{orderId}/journal", h.GetJournal)
	})
}

func (h *OrderHandlers) writeError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, domain.ErrOrderNotFound.Error(), http.StatusNotFound)
	default:
		h.logger.Error("order request failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *OrderHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
