package handlers

import (
	"github.com/draftea/pizza-saga/delivery-service/application"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/saga"
)

// DeliveryEventHandlers contains the delivery command handler
type DeliveryEventHandlers struct {
	assignDelivery *application.AssignDelivery
}

func NewDeliveryEventHandlers(assignDelivery *application.AssignDelivery) *DeliveryEventHandlers {
	return &DeliveryEventHandlers{assignDelivery: assignDelivery}
}

func (h *DeliveryEventHandlers) Register(router *saga.Router) {
	router.RegisterHandler(events.AssignDeliveryCommandTopic, saga.Typed("assign-delivery", h.assignDelivery.Execute))
}
