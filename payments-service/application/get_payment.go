package application

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// GetPaymentResponse represents the response for getting a payment
type GetPaymentResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	CustomerID    string     `json:"customer_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	RefundReason  string     `json:"refund_reason,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func NewGetPaymentResponse(payment *domain.Payment) *GetPaymentResponse {
	return &GetPaymentResponse{
		ID:            payment.ID.String(),
		OrderID:       payment.OrderID.String(),
		CustomerID:    payment.CustomerID,
		Amount:        payment.Amount.Amount,
		Currency:      payment.Amount.Currency,
		Status:        string(payment.Status),
		FailureReason: payment.FailureReason,
		RefundReason:  payment.RefundReason,
		ProcessedAt:   payment.ProcessedAt,
		RefundedAt:    payment.RefundedAt,
		CreatedAt:     payment.Timestamps.CreatedAt,
		UpdatedAt:     payment.Timestamps.UpdatedAt,
	}
}

// GetPayment use case
type GetPayment struct {
	paymentRepository domain.PaymentRepository
}

// NewGetPayment creates a new GetPayment use case
func NewGetPayment(paymentRepository domain.PaymentRepository) *GetPayment {
	return &GetPayment{
		paymentRepository: paymentRepository,
	}
}

// ByOrderID returns the payment of an order, participant.ErrNotFound when there is none
func (uc *GetPayment) ByOrderID(ctx context.Context, orderID string) (*GetPaymentResponse, error) {
	id, err := models.NewID(orderID)
	if err != nil {
		return nil, participant.ErrNotFound
	}

	payment, err := uc.paymentRepository.FindByOrderID(ctx, id)
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find payment")
	}

	return NewGetPaymentResponse(payment), nil
}

// All returns every payment in creation order
func (uc *GetPayment) All(ctx context.Context) ([]*GetPaymentResponse, error) {
	payments, err := uc.paymentRepository.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list payments")
	}

	responses := make([]*GetPaymentResponse, len(payments))
	for i, payment := range payments {
		responses[i] = NewGetPaymentResponse(payment)
	}
	return responses, nil
}
