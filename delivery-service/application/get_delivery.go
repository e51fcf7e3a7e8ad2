package application

import (
	"context"
	"time"

	"github.com/draftea/pizza-saga/delivery-service/domain"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// DeliveryResponse is the read model of a delivery
type DeliveryResponse struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id"`
	DeliveryAddress string     `json:"delivery_address"`
	Status          string     `json:"status"`
	DriverID        string     `json:"driver_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewDeliveryResponse(d *domain.Delivery) *DeliveryResponse {
	return &DeliveryResponse{
		ID:              d.ID.String(),
		OrderID:         d.OrderID.String(),
		DeliveryAddress: d.DeliveryAddress,
		Status:          string(d.Status),
		DriverID:        d.DriverID,
		FailureReason:   d.FailureReason,
		AssignedAt:      d.AssignedAt,
		CreatedAt:       d.Timestamps.CreatedAt,
	}
}

// GetDelivery serves the delivery read API
type GetDelivery struct {
	deliveryRepository domain.DeliveryRepository
}

func NewGetDelivery(deliveryRepository domain.DeliveryRepository) *GetDelivery {
	return &GetDelivery{deliveryRepository: deliveryRepository}
}

func (uc *GetDelivery) ByOrderID(ctx context.Context, orderID string) (*DeliveryResponse, error) {
	id, err := models.NewID(orderID)
	if err != nil {
		return nil, participant.ErrNotFound
	}

	delivery, err := uc.deliveryRepository.FindByOrderID(ctx, id)
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to find delivery")
	}
	return NewDeliveryResponse(delivery), nil
}

func (uc *GetDelivery) All(ctx context.Context) ([]*DeliveryResponse, error) {
	deliveries, err := uc.deliveryRepository.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list deliveries")
	}

	responses := make([]*DeliveryResponse, len(deliveries))
	for i, delivery := range deliveries {
		responses[i] = NewDeliveryResponse(delivery)
	}
	return responses, nil
}
