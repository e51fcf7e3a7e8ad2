package application

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/kitchen-service/domain"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// TicketResponse is the read model of a kitchen ticket
type TicketResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	PizzaType     string     `json:"pizza_type"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	PreparedAt    *time.Time `json:"prepared_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewTicketResponse(t *domain.Ticket) *TicketResponse {
	return &TicketResponse{
		ID:            t.ID.String(),
		OrderID:       t.OrderID.String(),
		PizzaType:     t.PizzaType,
		Quantity:      t.Quantity,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		PreparedAt:    t.PreparedAt,
		CreatedAt:     t.Timestamps.CreatedAt,
	}
}

// GetTicket serves the kitchen read API
type GetTicket struct {
	ticketRepository domain.TicketRepository
}

func NewGetTicket(ticketRepository domain.TicketRepository) *GetTicket {
	return &GetTicket{ticketRepository: ticketRepository}
}

func (uc *GetTicket) ByOrderID(ctx context.Context, orderID string) (*TicketResponse, error) {
	id, err := models.NewID(orderID)
	if err != nil {
		return nil, participant.ErrNotFound
	}

	ticket, err := uc.ticketRepository.FindByOrderID(ctx, id)
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find kitchen ticket")
	}
	return NewTicketResponse(ticket), nil
}

func (uc *GetTicket) All(ctx context.Context) ([]*TicketResponse, error) {
	tickets, err := uc.ticketRepository.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list kitchen tickets")
	}

	responses := make([]*TicketResponse, len(tickets))
	for i, ticket := range tickets {
		responses[i] = NewTicketResponse(ticket)
	}
	return responses, nil
}
