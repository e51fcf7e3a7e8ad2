package infrastructure

import (
	"embed"

	"github.com/draftea/pizza-saga/kitchen-service/domain"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/jmoiron/sqlx"
)

// Migrations holds the kitchen schema
//
//go:embed migrations/*.sql
var Migrations embed.FS

const ticketsTable = "kitchen_tickets"

// NewPostgresTicketRepository stores tickets in kitchen_tickets, one row per order
func NewPostgresTicketRepository(db *sqlx.DB) domain.TicketRepository {
	return participant.NewPostgresRepository[*domain.Ticket](db, ticketsTable)
}
