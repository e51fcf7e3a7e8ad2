package infrastructure

import (
	"embed"

	"github.com/draftea/pizza-saga/delivery-service/domain"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// NewPostgresDeliveryRepository stores deliveries in the deliveries table
func NewPostgresDeliveryRepository(db *sqlx.DB) domain.DeliveryRepository {
	return participant.NewPostgresRepository[*domain.Delivery](db, "deliveries")
}
