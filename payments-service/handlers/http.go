package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/pizza-saga/payments-service/application"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PaymentHandlers contains payment HTTP handlers
type PaymentHandlers struct {
	getPayment *application.GetPayment
	logger     *zap.Logger
}

// NewPaymentHandlers creates new payment handlers
func NewPaymentHandlers(getPayment *application.GetPayment, logger *zap.Logger) *PaymentHandlers {
	return &PaymentHandlers{
		getPayment: getPayment,
		logger:     logger,
	}
}

// ListPayments handles payment listing requests
func (h *PaymentHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	response, err := h.getPayment.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list payments", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// GetPaymentByOrder handles payment retrieval requests
func (h *PaymentHandlers) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.getPayment.ByOrderID(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get payment", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Get("/", h.ListPayments)
		r.Get("/order/{orderId}", h.GetPaymentByOrder)
	})
}
