package events

import (
	"github.com/draftea/pizza-saga/shared/models"
)

// Commands, addressed to exactly one participant.
const (
	ProcessPaymentCommandTopic Topic = "payment.process"
	RefundPaymentCommandTopic  Topic = "payment.refund"
	PreparePizzaCommandTopic   Topic = "kitchen.prepare"
	AssignDeliveryCommandTopic Topic = "delivery.assign"
)

// Events, addressed to the orchestrator.
const (
	PaymentProcessedTopic Topic = "payment.processed"
	PaymentFailedTopic    Topic = "payment.failed"
	PaymentRefundedTopic  Topic = "payment.refunded"
	PizzaPreparedTopic    Topic = "kitchen.prepared"
	KitchenFailedTopic    Topic = "kitchen.failed"
	DeliveryAssignedTopic Topic = "delivery.assigned"
	DeliveryFailedTopic   Topic = "delivery.failed"
)

// Routing keys. Each participant owns one command queue, the orchestrator owns the event queue.
const (
	PaymentCommandRoutingKey  = "payment.command"
	KitchenCommandRoutingKey  = "kitchen.command"
	DeliveryCommandRoutingKey = "delivery.command"
	OrderEventRoutingKey      = "order.event"
)

// Queue names bound to the routing keys above.
const (
	PaymentCommandQueue  = "payment.command.queue"
	KitchenCommandQueue  = "kitchen.command.queue"
	DeliveryCommandQueue = "delivery.command.queue"
	OrderEventQueue      = "order.event.queue"
)

var routes = map[Topic]string{
	ProcessPaymentCommandTopic: PaymentCommandRoutingKey,
	RefundPaymentCommandTopic:  PaymentCommandRoutingKey,
	PreparePizzaCommandTopic:   KitchenCommandRoutingKey,
	AssignDeliveryCommandTopic: DeliveryCommandRoutingKey,
	PaymentProcessedTopic:      OrderEventRoutingKey,
	PaymentFailedTopic:         OrderEventRoutingKey,
	PaymentRefundedTopic:       OrderEventRoutingKey,
	PizzaPreparedTopic:         OrderEventRoutingKey,
	KitchenFailedTopic:         OrderEventRoutingKey,
	DeliveryAssignedTopic:      OrderEventRoutingKey,
	DeliveryFailedTopic:        OrderEventRoutingKey,
}

// Bindings maps each queue to the routing key it consumes.
var Bindings = map[string]string{
	PaymentCommandQueue:  PaymentCommandRoutingKey,
	KitchenCommandQueue:  KitchenCommandRoutingKey,
	DeliveryCommandQueue: DeliveryCommandRoutingKey,
	OrderEventQueue:      OrderEventRoutingKey,
}

// RoutingKey returns the routing key a message of this topic travels on.
func RoutingKey(topic Topic) (string, error) {
	key, ok := routes[topic]
	if !ok {
		return "", ErrUnroutable
	}
	return key, nil
}

type ProcessPaymentCommand struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID string       `json:"customer_id"`
	Amount     models.Money `json:"amount"`
}

type RefundPaymentCommand struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

type PreparePizzaCommand struct {
	OrderID   models.ID `json:"order_id"`
	PizzaType string    `json:"pizza_type"`
	Quantity  int       `json:"quantity"`
}

type AssignDeliveryCommand struct {
	OrderID         models.ID `json:"order_id"`
	DeliveryAddress string    `json:"delivery_address"`
}

type PaymentProcessedEvent struct {
	OrderID       models.ID `json:"order_id"`
	TransactionID models.ID `json:"transaction_id"`
}

type PaymentFailedEvent struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

type PaymentRefundedEvent struct {
	OrderID       models.ID `json:"order_id"`
	TransactionID models.ID `json:"transaction_id"`
	Reason        string    `json:"reason"`
}

type PizzaPreparedEvent struct {
	OrderID   models.ID `json:"order_id"`
	KitchenID models.ID `json:"kitchen_id"`
}

type KitchenFailedEvent struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

type DeliveryAssignedEvent struct {
	OrderID  models.ID `json:"order_id"`
	DriverID string    `json:"driver_id"`
}

type DeliveryFailedEvent struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

func NewProcessPayment(cmd ProcessPaymentCommand) *Event {
	return NewEvent(cmd.OrderID, ProcessPaymentCommandTopic, cmd)
}

func NewRefundPayment(cmd RefundPaymentCommand) *Event {
	return NewEvent(cmd.OrderID, RefundPaymentCommandTopic, cmd)
}

func NewPreparePizza(cmd PreparePizzaCommand) *Event {
	return NewEvent(cmd.OrderID, PreparePizzaCommandTopic, cmd)
}

func NewAssignDelivery(cmd AssignDeliveryCommand) *Event {
	return NewEvent(cmd.OrderID, AssignDeliveryCommandTopic, cmd)
}

func NewPaymentProcessed(evt PaymentProcessedEvent) *Event {
	return NewEvent(evt.OrderID, PaymentProcessedTopic, evt)
}

func NewPaymentFailed(evt PaymentFailedEvent) *Event {
	return NewEvent(evt.OrderID, PaymentFailedTopic, evt)
}

func NewPaymentRefunded(evt PaymentRefundedEvent) *Event {
	return NewEvent(evt.OrderID, PaymentRefundedTopic, evt)
}

func NewPizzaPrepared(evt PizzaPreparedEvent) *Event {
	return NewEvent(evt.OrderID, PizzaPreparedTopic, evt)
}

func NewKitchenFailed(evt KitchenFailedEvent) *Event {
	return NewEvent(evt.OrderID, KitchenFailedTopic, evt)
}

func NewDeliveryAssigned(evt DeliveryAssignedEvent) *Event {
	return NewEvent(evt.OrderID, DeliveryAssignedTopic, evt)
}

func NewDeliveryFailed(evt DeliveryFailedEvent) *Event {
	return NewEvent(evt.OrderID, DeliveryFailedTopic, evt)
}
