package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
)

// OrderResponse is the read model of an order
type OrderResponse struct {
	ID                   string    `json:"id"`
	CustomerID           string    `json:"customer_id"`
	PizzaType            string    `json:"pizza_type"`
	Quantity             int       `json:"quantity"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	DeliveryAddress      string    `json:"delivery_address"`
	Status               string    `json:"status"`
	PaymentTransactionID string    `json:"payment_transaction_id,omitempty"`
	KitchenID            string    `json:"kitchen_id,omitempty"`
	DriverID             string    `json:"driver_id,omitempty"`
	FailureReason        string    `json:"failure_reason,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func NewOrderResponse(order *domain.Order) *OrderResponse {
	return &OrderResponse{
		ID:                   order.ID.String(),
		CustomerID:           order.CustomerID,
		PizzaType:            order.PizzaType,
		Quantity:             order.Quantity,
		Amount:               order.Amount.Amount,
		Currency:             order.Amount.Currency,
		DeliveryAddress:      order.DeliveryAddress,
		Status:               order.Status.String(),
		PaymentTransactionID: order.PaymentTransactionID.String(),
		KitchenID:            order.KitchenID.String(),
		DriverID:             order.DriverID,
		FailureReason:        order.FailureReason,
		CreatedAt:            order.Timestamps.CreatedAt,
		UpdatedAt:            order.Timestamps.UpdatedAt,
	}
}

// JournalEntry is one message of an order's saga conversation
type JournalEntry struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   string          `json:"attempt,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// GetOrder serves the order read API
type GetOrder struct {
	orders  domain.OrderRepository
	journal events.Journal
}

// NewGetOrder creates a new GetOrder use case
func NewGetOrder(orders domain.OrderRepository, journal events.Journal) *GetOrder {
	return &GetOrder{
		orders:  orders,
		journal: journal,
	}
}

// Execute returns one order, ErrOrderNotFound when the id is unknown
func (uc *GetOrder) Execute(ctx context.Context, orderID string) (*OrderResponse, error) {
	order, err := uc.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return NewOrderResponse(order), nil
}

// All returns every order
func (uc *GetOrder) All(ctx context.Context) ([]*OrderResponse, error) {
	orders, err := uc.orders.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}

	responses := make([]*OrderResponse, len(orders))
	for i, order := range orders {
		responses[i] = NewOrderResponse(order)
	}
	return responses, nil
}

// Journal returns the commands and events recorded for an order
func (uc *GetOrder) Journal(ctx context.Context, orderID string) ([]*JournalEntry, error) {
	order, err := uc.find(ctx, orderID)
	if err != nil {
		return nil, err
	}

	evts, err := uc.journal.List(ctx, order.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read journal")
	}

	entries := make([]*JournalEntry, len(evts))
	for i, evt := range evts {
		payload, err := evt.MarshalPayload()
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal journal payload")
		}
		attempt, _ := evt.Metadata.Get(events.MetadataAttempt)
		entries[i] = &JournalEntry{
			ID:        evt.ID.String(),
			Topic:     evt.Topic.String(),
			Payload:   payload,
			Attempt:   attempt,
			Timestamp: evt.Timestamp,
		}
	}
	return entries, nil
}

func (uc *GetOrder) find(ctx context.Context, orderID string) (*domain.Order, error) {
	id, err := models.NewID(orderID)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}

	order, err := uc.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to get order")
	}
	return order, nil
}
