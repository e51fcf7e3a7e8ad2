package handlers

import (
	"github.com/draftea/pizza-saga/kitchen-service/application"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/saga"
)

// KitchenEventHandlers contains the kitchen command handler
type KitchenEventHandlers struct {
	preparePizza *application.PreparePizza
}

func NewKitchenEventHandlers(preparePizza *application.PreparePizza) *KitchenEventHandlers {
	return &KitchenEventHandlers{preparePizza: preparePizza}
}

// Register adds the kitchen command to router
func (h *KitchenEventHandlers) Register(router *saga.Router) {
	router.RegisterHandler(events.PreparePizzaCommandTopic, saga.Typed("prepare-pizza", h.preparePizza.Execute))
}
