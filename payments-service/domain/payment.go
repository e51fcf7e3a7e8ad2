package domain

import (
	"strings"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

var ErrInvalidPayment = errors.New("invalid payment")

// PaymentRepository persists one payment per order
type PaymentRepository = participant.Repository[*Payment]

// Payment is the charge taken for one order. The transaction id reported to the
// orchestrator is the payment id.
type Payment struct {
	ID            models.ID         `json:"id"`
	OrderID       models.ID         `json:"order_id"`
	CustomerID    string            `json:"customer_id"`
	Amount        models.Money      `json:"amount"`
	Status        PaymentStatus     `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	RefundReason  string            `json:"refund_reason,omitempty"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	RefundedAt    *time.Time        `json:"refunded_at,omitempty"`
	Timestamps    models.Timestamps `json:"timestamps"`
	Version       models.Version    `json:"version"`
}

// NewPayment creates a pending payment for an order
func NewPayment(orderID models.ID, customerID string, amount models.Money) (*Payment, error) {
	if orderID.IsZero() {
		return nil, errors.Wrap(ErrInvalidPayment, "order id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.Wrap(ErrInvalidPayment, "amount must be positive")
	}

	return &Payment{
		ID:         models.GenerateUUID(),
		OrderID:    orderID,
		CustomerID: strings.TrimSpace(customerID),
		Amount:     amount,
		Status:     PaymentStatusPending,
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}, nil
}

// Complete marks the charge as taken
func (p *Payment) Complete() error {
	if p.Status != PaymentStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "payment %s cannot complete", p.Status)
	}

	now := time.Now().UTC()
	p.Status = PaymentStatusCompleted
	p.ProcessedAt = &now
	p.touch()
	return nil
}

// Fail marks the charge as declined
func (p *Payment) Fail(reason string) error {
	if p.Status != PaymentStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "payment %s cannot fail", p.Status)
	}

	now := time.Now().UTC()
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.ProcessedAt = &now
	p.touch()
	return nil
}

// Refund reverses a completed charge
func (p *Payment) Refund(reason string) error {
	if p.Status != PaymentStatusCompleted {
		return errors.Wrapf(participant.ErrInvalidTransition, "payment %s cannot be refunded", p.Status)
	}

	now := time.Now().UTC()
	p.Status = PaymentStatusRefunded
	p.RefundReason = reason
	p.RefundedAt = &now
	p.touch()
	return nil
}

func (p *Payment) touch() {
	p.Timestamps = p.Timestamps.Update()
	p.Version = p.Version.Update()
}

func (p *Payment) GetOrderID() models.ID  { return p.OrderID }
func (p *Payment) FailureMessage() string { return p.FailureReason }
func (p *Payment) CurrentVersion() int    { return p.Version.Value }
func (p *Payment) LastUpdated() time.Time { return p.Timestamps.UpdatedAt }

func (p *Payment) Outcome() participant.Outcome {
	switch p.Status {
	case PaymentStatusCompleted:
		return participant.Succeeded
	case PaymentStatusFailed:
		return participant.Failed
	case PaymentStatusRefunded:
		return participant.Compensated
	default:
		return participant.Pending
	}
}

func (p *Payment) Clone() *Payment {
	c := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		c.ProcessedAt = &t
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		c.RefundedAt = &t
	}
	return &c
}
