package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/pizza-saga/kitchen-service/application"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KitchenHandlers contains kitchen HTTP handlers
type KitchenHandlers struct {
	getTicket *application.GetTicket
	logger    *zap.Logger
}

// NewKitchenHandlers creates new kitchen handlers
func NewKitchenHandlers(getTicket *application.GetTicket, logger *zap.Logger) *KitchenHandlers {
	return &KitchenHandlers{getTicket: getTicket, logger: logger}
}

func (h *KitchenHandlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	response, err := h.getTicket.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list kitchen tickets", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *KitchenHandlers) GetTicketByOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.getTicket.ByOrderID(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			http.Error(w, "kitchen ticket not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get kitchen ticket", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers kitchen routes
func (h *KitchenHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/kitchen", func(r chi.Router) {
		r.Get("/", h.ListTickets)
		r.Get("/order/{orderId}", h.GetTicketByOrder)
	})
}
