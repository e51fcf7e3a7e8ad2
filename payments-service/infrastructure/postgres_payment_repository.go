package infrastructure

import (
	"embed"

	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/jmoiron/sqlx"
)

// Migrations holds the payments schema
//
//go:embed migrations/*.sql
var Migrations embed.FS

const paymentsTable = "payments"

// NewPostgresPaymentRepository stores payments in the payments table, one row per order
func NewPostgresPaymentRepository(db *sqlx.DB) domain.PaymentRepository {
	return participant.NewPostgresRepository[*domain.Payment](db, paymentsTable)
}
