package domain

import (
	"strings"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// TicketStatus represents the status of a kitchen ticket
type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "PENDING"
	TicketStatusPrepared TicketStatus = "PREPARED"
	TicketStatusFailed   TicketStatus = "FAILED"
)

var ErrInvalidTicket = errors.New("invalid kitchen ticket")

// TicketRepository persists one ticket per order
type TicketRepository = participant.Repository[*Ticket]

// Ticket is the kitchen's record of one order. Its id is the kitchen id reported to the
// orchestrator.
type Ticket struct {
	ID            models.ID         `json:"id"`
	OrderID       models.ID         `json:"order_id"`
	PizzaType     string            `json:"pizza_type"`
	Quantity      int               `json:"quantity"`
	Status        TicketStatus      `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	PreparedAt    *time.Time        `json:"prepared_at,omitempty"`
	Timestamps    models.Timestamps `json:"timestamps"`
	Version       models.Version    `json:"version"`
}

// NewTicket creates a pending ticket
func NewTicket(orderID models.ID, pizzaType string, quantity int) (*Ticket, error) {
	pizzaType = strings.TrimSpace(pizzaType)
	switch {
	case orderID.IsZero():
		return nil, errors.Wrap(ErrInvalidTicket, "order id is required")
	case pizzaType == "":
		return nil, errors.Wrap(ErrInvalidTicket, "pizza type is required")
	case quantity < 1:
		return nil, errors.Wrap(ErrInvalidTicket, "quantity must be at least 1")
	}

	return &Ticket{
		ID:         models.GenerateUUID(),
		OrderID:    orderID,
		PizzaType:  pizzaType,
		Quantity:   quantity,
		Status:     TicketStatusPending,
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}, nil
}

// Prepare marks the pizzas as ready
func (t *Ticket) Prepare() error {
	if t.Status != TicketStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "ticket %s cannot be prepared", t.Status)
	}

	now := time.Now().UTC()
	t.Status = TicketStatusPrepared
	t.PreparedAt = &now
	t.Timestamps = t.Timestamps.Update()
	t.Version = t.Version.Update()
	return nil
}

// Fail records why the kitchen could not prepare the order
func (t *Ticket) Fail(reason string) error {
	if t.Status != TicketStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "ticket %s cannot fail", t.Status)
	}

	t.Status = TicketStatusFailed
	t.FailureReason = reason
	t.Timestamps = t.Timestamps.Update()
	t.Version = t.Version.Update()
	return nil
}

func (t *Ticket) GetOrderID() models.ID  { return t.OrderID }
func (t *Ticket) FailureMessage() string { return t.FailureReason }
func (t *Ticket) CurrentVersion() int    { return t.Version.Value }
func (t *Ticket) LastUpdated() time.Time { return t.Timestamps.UpdatedAt }

func (t *Ticket) Outcome() participant.Outcome {
	switch t.Status {
	case TicketStatusPrepared:
		return participant.Succeeded
	case TicketStatusFailed:
		return participant.Failed
	default:
		return participant.Pending
	}
}

func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.PreparedAt != nil {
		at := *t.PreparedAt
		c.PreparedAt = &at
	}
	return &c
}
