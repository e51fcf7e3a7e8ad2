package infrastructure

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/draftea/pizza-saga/order-service/domain"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migrations holds the order-service schema, saga_journal included
//
//go:embed migrations/*.sql
var Migrations embed.FS

var _ domain.OrderRepository = (*PostgresOrderRepository)(nil)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents order in database
type postgresOrder struct {
	ID                   string         `db:"id"`
	CustomerID           string         `db:"customer_id"`
	PizzaType            string         `db:"pizza_type"`
	Quantity             int            `db:"quantity"`
	Amount               int64          `db:"amount"`
	Currency             string         `db:"currency"`
	DeliveryAddress      string         `db:"delivery_address"`
	Status               string         `db:"status"`
	PaymentTransactionID sql.NullString `db:"payment_transaction_id"`
	KitchenID            sql.NullString `db:"kitchen_id"`
	DriverID             sql.NullString `db:"driver_id"`
	FailureReason        sql.NullString `db:"failure_reason"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	Version              int            `db:"version"`
	// Outbox is JSONB, sent as text since lib/pq would send []byte as bytea.
	Outbox string `db:"outbox"`
}

const selectOrder = `
	SELECT id, customer_id, pizza_type, quantity, amount, currency, delivery_address,
		   status, payment_transaction_id, kitchen_id, driver_id, failure_reason,
		   created_at, updated_at, version, outbox
	FROM orders`

// Create inserts a new order
func (r *PostgresOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, customer_id, pizza_type, quantity, amount, currency, delivery_address,
			status, payment_transaction_id, kitchen_id, driver_id, failure_reason,
			created_at, updated_at, version, outbox
		) VALUES (
			:id, :customer_id, :pizza_type, :quantity, :amount, :currency, :delivery_address,
			:status, :payment_transaction_id, :kitchen_id, :driver_id, :failure_reason,
			:created_at, :updated_at, :version, :outbox
		)`

	pgOrder, err := toPostgres(order)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, query, pgOrder); err != nil {
		return errors.Wrap(err, "failed to insert order")
	}
	return nil
}

// Update stores order if nobody else moved it since it was read
func (r *PostgresOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = :status,
			payment_transaction_id = :payment_transaction_id,
			kitchen_id = :kitchen_id,
			driver_id = :driver_id,
			failure_reason = :failure_reason,
			updated_at = :updated_at,
			version = :version,
			outbox = :outbox
		WHERE id = :id AND version = :old_version`

	pgOrder, err := toPostgres(order)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                     pgOrder.ID,
		"status":                 pgOrder.Status,
		"payment_transaction_id": pgOrder.PaymentTransactionID,
		"kitchen_id":             pgOrder.KitchenID,
		"driver_id":              pgOrder.DriverID,
		"failure_reason":         pgOrder.FailureReason,
		"updated_at":             pgOrder.UpdatedAt,
		"version":                pgOrder.Version,
		"outbox":                 pgOrder.Outbox,
		"old_version":            pgOrder.Version - 1, // Optimistic locking
	})
	if err != nil {
		return errors.Wrap(err, "failed to update order")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentUpdate
	}

	return nil
}

// FindByID finds an order by ID
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, selectOrder+` WHERE id = $1`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "failed to find order")
	}

	return pgOrder.toDomain()
}

// FindAll lists orders, oldest first
func (r *PostgresOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	var pgOrders []postgresOrder
	if err := r.db.SelectContext(ctx, &pgOrders, selectOrder+` ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}

	return toDomainOrders(pgOrders)
}

// FindWithOutbox lists orders holding unpublished commands, least recently touched first
func (r *PostgresOrderRepository) FindWithOutbox(ctx context.Context) ([]*domain.Order, error) {
	var pgOrders []postgresOrder
	if err := r.db.SelectContext(ctx, &pgOrders, selectOrder+` WHERE outbox <> '[]'::jsonb ORDER BY updated_at ASC`); err != nil {
		return nil, errors.Wrap(err, "failed to list orders with pending outbox")
	}
	return toDomainOrders(pgOrders)
}

func toDomainOrders(pgOrders []postgresOrder) ([]*domain.Order, error) {
	orders := make([]*domain.Order, len(pgOrders))
	for i := range pgOrders {
		order, err := pgOrders[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders[i] = order
	}
	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// toPostgres converts domain order to postgres model
func toPostgres(order *domain.Order) (*postgresOrder, error) {
	outbox := order.Outbox
	if outbox == nil {
		outbox = []domain.OutboxMessage{}
	}
	rawOutbox, err := json.Marshal(outbox)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode outbox")
	}

	return &postgresOrder{
		ID:                   order.ID.String(),
		CustomerID:           order.CustomerID,
		PizzaType:            order.PizzaType,
		Quantity:             order.Quantity,
		Amount:               order.Amount.Amount,
		Currency:             order.Amount.Currency,
		DeliveryAddress:      order.DeliveryAddress,
		Status:               order.Status.String(),
		PaymentTransactionID: nullString(order.PaymentTransactionID.String()),
		KitchenID:            nullString(order.KitchenID.String()),
		DriverID:             nullString(order.DriverID),
		FailureReason:        nullString(order.FailureReason),
		CreatedAt:            order.Timestamps.CreatedAt,
		UpdatedAt:            order.Timestamps.UpdatedAt,
		Version:              order.Version.Value,
		Outbox:               string(rawOutbox),
	}, nil
}

// toDomain converts postgres model to domain order
func (p *postgresOrder) toDomain() (*domain.Order, error) {
	var outbox []domain.OutboxMessage
	if p.Outbox != "" {
		if err := json.Unmarshal([]byte(p.Outbox), &outbox); err != nil {
			return nil, errors.Wrapf(err, "failed to decode outbox of order %s", p.ID)
		}
	}

	return &domain.Order{
		ID:                   models.ID(p.ID),
		CustomerID:           p.CustomerID,
		PizzaType:            p.PizzaType,
		Quantity:             p.Quantity,
		Amount:               models.NewMoney(p.Amount, p.Currency),
		DeliveryAddress:      p.DeliveryAddress,
		Status:               domain.OrderStatus(p.Status),
		PaymentTransactionID: models.ID(p.PaymentTransactionID.String),
		KitchenID:            models.ID(p.KitchenID.String),
		DriverID:             p.DriverID.String,
		FailureReason:        p.FailureReason.String,
		Timestamps: models.Timestamps{
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		},
		Version: models.Version{Value: p.Version},
		Outbox:  outbox,
	}, nil
}
