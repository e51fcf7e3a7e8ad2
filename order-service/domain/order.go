package domain

import (
	"context"
	"strings"
	"time"

	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
)

// OrderStatus represents the saga position of an order
type OrderStatus string

const (
	OrderStatusCreated          OrderStatus = "CREATED"
	OrderStatusPaymentPending   OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentCompleted OrderStatus = "PAYMENT_COMPLETED"
	OrderStatusPaymentFailed    OrderStatus = "PAYMENT_FAILED"
	OrderStatusKitchenPending   OrderStatus = "KITCHEN_PENDING"
	OrderStatusKitchenCompleted OrderStatus = "KITCHEN_COMPLETED"
	OrderStatusKitchenFailed    OrderStatus = "KITCHEN_FAILED"
	OrderStatusDeliveryPending  OrderStatus = "DELIVERY_PENDING"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusDeliveryFailed   OrderStatus = "DELIVERY_FAILED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

// UnitPrice is the price of a single pizza
var UnitPrice = models.NewMoney(1599, "USD")

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrConcurrentUpdate  = errors.New("order was modified concurrently")
)

// transitions is the saga graph. Anything not listed is rejected.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:          {OrderStatusPaymentPending},
	OrderStatusPaymentPending:   {OrderStatusPaymentCompleted, OrderStatusPaymentFailed},
	OrderStatusPaymentCompleted: {OrderStatusKitchenPending},
	OrderStatusKitchenPending:   {OrderStatusKitchenCompleted, OrderStatusKitchenFailed},
	OrderStatusKitchenCompleted: {OrderStatusDeliveryPending},
	OrderStatusKitchenFailed:    {OrderStatusCancelled},
	OrderStatusDeliveryPending:  {OrderStatusCompleted, OrderStatusDeliveryFailed},
	OrderStatusDeliveryFailed:   {OrderStatusCancelled},
}

// CanTransitionTo reports whether the saga graph has an edge from s to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no saga event moves an order out of s
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s OrderStatus) String() string {
	return string(s)
}

// ValidationError rejects a create-order request before any saga step runs
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Order aggregate root, mutated only by the orchestrator
type Order struct {
	ID                   models.ID
	CustomerID           string
	PizzaType            string
	Quantity             int
	Amount               models.Money
	DeliveryAddress      string
	Status               OrderStatus
	PaymentTransactionID models.ID
	KitchenID            models.ID
	DriverID             string
	FailureReason        string
	Timestamps           models.Timestamps
	Version              models.Version
	Outbox               []OutboxMessage
}

// OutboxMessage is a command committed in the same write as the transition that implies it.
// It stays on the order until it is published. ClaimedUntil keeps other deliveries from
// publishing it while its claimant is still trying.
type OutboxMessage struct {
	Event        *events.Event `json:"event"`
	ClaimedUntil time.Time     `json:"claimed_until"`
}

// NewOrder validates the request and prices it at UnitPrice per pizza
func NewOrder(customerID, pizzaType string, quantity int, deliveryAddress string) (*Order, error) {
	customerID = strings.TrimSpace(customerID)
	pizzaType = strings.TrimSpace(pizzaType)
	deliveryAddress = strings.TrimSpace(deliveryAddress)

	switch {
	case customerID == "":
		return nil, &ValidationError{Field: "customer_id", Message: "Customer ID is required"}
	case pizzaType == "":
		return nil, &ValidationError{Field: "pizza_type", Message: "Pizza type is required"}
	case quantity < 1:
		return nil, &ValidationError{Field: "quantity", Message: "Quantity must be at least 1"}
	case deliveryAddress == "":
		return nil, &ValidationError{Field: "delivery_address", Message: "Delivery address is required"}
	}

	return &Order{
		ID:              models.GenerateUUID(),
		CustomerID:      customerID,
		PizzaType:       pizzaType,
		Quantity:        quantity,
		Amount:          UnitPrice.Multiply(quantity),
		DeliveryAddress: deliveryAddress,
		Status:          OrderStatusCreated,
		Timestamps:      models.NewTimestamps(),
		Version:         models.NewVersion(),
	}, nil
}

// StartPayment moves a new order into PAYMENT_PENDING
func (o *Order) StartPayment() error {
	return o.transition(OrderStatusPaymentPending)
}

// CompletePayment records the payment transaction
func (o *Order) CompletePayment(transactionID models.ID) error {
	if err := o.transition(OrderStatusPaymentCompleted); err != nil {
		return err
	}
	o.PaymentTransactionID = transactionID
	return nil
}

func (o *Order) FailPayment(reason string) error {
	return o.fail(OrderStatusPaymentFailed, reason)
}

func (o *Order) StartKitchen() error {
	return o.transition(OrderStatusKitchenPending)
}

// CompleteKitchen records the kitchen ticket
func (o *Order) CompleteKitchen(kitchenID models.ID) error {
	if err := o.transition(OrderStatusKitchenCompleted); err != nil {
		return err
	}
	o.KitchenID = kitchenID
	return nil
}

func (o *Order) FailKitchen(reason string) error {
	return o.fail(OrderStatusKitchenFailed, reason)
}

func (o *Order) StartDelivery() error {
	return o.transition(OrderStatusDeliveryPending)
}

// CompleteDelivery records the assigned driver and ends the saga
func (o *Order) CompleteDelivery(driverID string) error {
	if err := o.transition(OrderStatusCompleted); err != nil {
		return err
	}
	o.DriverID = driverID
	return nil
}

func (o *Order) FailDelivery(reason string) error {
	return o.fail(OrderStatusDeliveryFailed, reason)
}

// Cancel ends a compensated saga. The failure reason of the step that failed is kept.
func (o *Order) Cancel() error {
	return o.transition(OrderStatusCancelled)
}

func (o *Order) fail(next OrderStatus, reason string) error {
	if err := o.transition(next); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

func (o *Order) transition(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, next)
	}

	o.Status = next
	o.touch()
	return nil
}

// Enqueue adds cmd to the outbox, claimed by the caller until claimedUntil. It is saved
// by the same versioned update as the transition in progress.
func (o *Order) Enqueue(cmd *events.Event, claimedUntil time.Time) {
	o.Outbox = append(o.Outbox, OutboxMessage{Event: cmd, ClaimedUntil: claimedUntil})
}

// HasClaimable reports whether some outbox message has no live claim at now
func (o *Order) HasClaimable(now time.Time) bool {
	for _, msg := range o.Outbox {
		if !msg.ClaimedUntil.After(now) {
			return true
		}
	}
	return false
}

// ClaimOutbox claims every message without a live claim until the given time and
// returns their commands. A non-empty claim is a change to persist.
func (o *Order) ClaimOutbox(now, until time.Time) []*events.Event {
	var claimed []*events.Event
	for i := range o.Outbox {
		if o.Outbox[i].ClaimedUntil.After(now) {
			continue
		}
		o.Outbox[i].ClaimedUntil = until
		claimed = append(claimed, o.Outbox[i].Event)
	}
	if len(claimed) > 0 {
		o.touch()
	}
	return claimed
}

// ReleaseOutbox drops the claim on a message whose publish failed
func (o *Order) ReleaseOutbox(id models.ID) bool {
	for i := range o.Outbox {
		if o.Outbox[i].Event.ID == id {
			o.Outbox[i].ClaimedUntil = time.Time{}
			o.touch()
			return true
		}
	}
	return false
}

// MarkDispatched removes a published message from the outbox
func (o *Order) MarkDispatched(id models.ID) bool {
	for i := range o.Outbox {
		if o.Outbox[i].Event.ID == id {
			o.Outbox = append(o.Outbox[:i:i], o.Outbox[i+1:]...)
			o.touch()
			return true
		}
	}
	return false
}

func (o *Order) touch() {
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()
}

// Clone returns a detached copy
func (o *Order) Clone() *Order {
	clone := *o
	clone.Outbox = append([]OutboxMessage(nil), o.Outbox...)
	return &clone
}

// OrderRepository persists orders with optimistic versioning
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
	FindAll(ctx context.Context) ([]*Order, error)
	// Update stores order if the stored version is order.Version-1, else ErrConcurrentUpdate.
	Update(ctx context.Context, order *Order) error
	// FindWithOutbox lists orders that still hold unpublished commands.
	FindWithOutbox(ctx context.Context) ([]*Order, error)
}
