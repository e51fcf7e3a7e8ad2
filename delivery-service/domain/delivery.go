package domain

import (
	"strings"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/pkg/errors"
)

// DeliveryStatus represents the status of a delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "PENDING"
	DeliveryStatusAssigned DeliveryStatus = "ASSIGNED"
	DeliveryStatusFailed   DeliveryStatus = "FAILED"
)

var ErrInvalidDelivery = errors.New("invalid delivery")

// DeliveryRepository persists one delivery per order
type DeliveryRepository = participant.Repository[*Delivery]

// Delivery is the dispatch record of one order
type Delivery struct {
	ID              models.ID         `json:"id"`
	OrderID         models.ID         `json:"order_id"`
	DeliveryAddress string            `json:"delivery_address"`
	Status          DeliveryStatus    `json:"status"`
	DriverID        string            `json:"driver_id,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	AssignedAt      *time.Time        `json:"assigned_at,omitempty"`
	Timestamps      models.Timestamps `json:"timestamps"`
	Version         models.Version    `json:"version"`
}

// NewDelivery creates a pending delivery
func NewDelivery(orderID models.ID, deliveryAddress string) (*Delivery, error) {
	deliveryAddress = strings.TrimSpace(deliveryAddress)
	switch {
	case orderID.IsZero():
		return nil, errors.Wrap(ErrInvalidDelivery, "order id is required")
	case deliveryAddress == "":
		return nil, errors.Wrap(ErrInvalidDelivery, "delivery address is required")
	}

	return &Delivery{
		ID:              models.GenerateUUID(),
		OrderID:         orderID,
		DeliveryAddress: deliveryAddress,
		Status:          DeliveryStatusPending,
		Timestamps:      models.NewTimestamps(),
		Version:         models.NewVersion(),
	}, nil
}

// Assign hands the order to a driver
func (d *Delivery) Assign(driverID string) error {
	if d.Status != DeliveryStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "delivery %s cannot be assigned", d.Status)
	}
	if driverID == "" {
		return errors.Wrap(ErrInvalidDelivery, "driver id is required")
	}

	now := time.Now().UTC()
	d.Status = DeliveryStatusAssigned
	d.DriverID = driverID
	d.AssignedAt = &now
	d.Timestamps = d.Timestamps.Update()
	d.Version = d.Version.Update()
	return nil
}

// Fail records why no driver could be assigned
func (d *Delivery) Fail(reason string) error {
	if d.Status != DeliveryStatusPending {
		return errors.Wrapf(participant.ErrInvalidTransition, "delivery %s cannot fail", d.Status)
	}

	d.Status = DeliveryStatusFailed
	d.FailureReason = reason
	d.Timestamps = d.Timestamps.Update()
	d.Version = d.Version.Update()
	return nil
}

func (d *Delivery) GetOrderID() models.ID  { return d.OrderID }
func (d *Delivery) FailureMessage() string { return d.FailureReason }
func (d *Delivery) CurrentVersion() int    { return d.Version.Value }
func (d *Delivery) LastUpdated() time.Time { return d.Timestamps.UpdatedAt }

func (d *Delivery) Outcome() participant.Outcome {
	switch d.Status {
	case DeliveryStatusAssigned:
		return participant.Succeeded
	case DeliveryStatusFailed:
		return participant.Failed
	default:
		return participant.Pending
	}
}

func (d *Delivery) Clone() *Delivery {
	c := *d
	if d.AssignedAt != nil {
		at := *d.AssignedAt
		c.AssignedAt = &at
	}
	return &c
}
