package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/pizza-saga/delivery-service/application"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DeliveryHandlers contains delivery HTTP handlers
type DeliveryHandlers struct {
	getDelivery *application.GetDelivery
	logger      *zap.Logger
}

func NewDeliveryHandlers(getDelivery *application.GetDelivery, logger *zap.Logger) *DeliveryHandlers {
	return &DeliveryHandlers{getDelivery: getDelivery, logger: logger}
}

func (h *DeliveryHandlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	response, err := h.getDelivery.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *DeliveryHandlers) GetDeliveryByOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.getDelivery.ByOrderID(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			http.Error(w, "delivery not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get delivery", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers delivery routes
func (h *DeliveryHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/deliveries", func(r chi.Router) {
		r.Get("/", h.ListDeliveries)
		r.Get("/order/{orderId}", h.GetDeliveryByOrder)
	})
}
