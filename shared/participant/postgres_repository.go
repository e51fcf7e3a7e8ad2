package participant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresRepository stores each aggregate as a JSONB document in table, one row per
// order. The table is created by the owning service's migrations with the columns
// order_id (primary key), seq, outcome, version, data, created_at and updated_at.
type PostgresRepository[A Aggregate[A]] struct {
	db    *sqlx.DB
	table string
}

func NewPostgresRepository[A Aggregate[A]](db *sqlx.DB, table string) *PostgresRepository[A] {
	return &PostgresRepository[A]{db: db, table: table}
}

// postgresRecord carries data as a string, lib/pq would send []byte as bytea
type postgresRecord struct {
	OrderID   string    `db:"order_id"`
	Outcome   string    `db:"outcome"`
	Version   int       `db:"version"`
	Data      string    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *PostgresRepository[A]) FindByOrderID(ctx context.Context, orderID models.ID) (A, error) {
	var agg A

	var data string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE order_id = $1`, r.table)
	if err := r.db.GetContext(ctx, &data, query, orderID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return agg, ErrNotFound
		}
		return agg, errors.Wrap(err, "failed to find record")
	}

	if err := json.Unmarshal([]byte(data), &agg); err != nil {
		return agg, errors.Wrap(err, "failed to decode record")
	}
	return agg, nil
}

func (r *PostgresRepository[A]) FindAll(ctx context.Context) ([]A, error) {
	var rows []string
	query := fmt.Sprintf(`SELECT data FROM %s ORDER BY seq`, r.table)
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}

	all := make([]A, 0, len(rows))
	for _, data := range rows {
		var agg A
		if err := json.Unmarshal([]byte(data), &agg); err != nil {
			return nil, errors.Wrap(err, "failed to decode record")
		}
		all = append(all, agg)
	}
	return all, nil
}

// CreateIfAbsent relies on the order_id primary key: a losing insert affects no rows.
func (r *PostgresRepository[A]) CreateIfAbsent(ctx context.Context, agg A) (A, bool, error) {
	record, err := toPostgresRecord(agg)
	if err != nil {
		return agg, false, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (order_id, outcome, version, data, created_at, updated_at)
		VALUES (:order_id, :outcome, :version, :data, :updated_at, :updated_at)
		ON CONFLICT (order_id) DO NOTHING`, r.table)

	res, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return agg, false, errors.Wrap(err, "failed to insert record")
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return agg, false, errors.Wrap(err, "failed to read insert result")
	}
	if inserted == 1 {
		return agg.Clone(), true, nil
	}

	stored, err := r.FindByOrderID(ctx, agg.GetOrderID())
	if err != nil {
		return agg, false, err
	}
	return stored, false, nil
}

func (r *PostgresRepository[A]) Update(ctx context.Context, agg A) error {
	record, err := toPostgresRecord(agg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET outcome = $1, version = $2, data = $3, updated_at = $4
		WHERE order_id = $5 AND version = $6`, r.table)

	res, err := r.db.ExecContext(ctx, query,
		record.Outcome, record.Version, record.Data, record.UpdatedAt,
		record.OrderID, record.Version-1, // Optimistic locking
	)
	if err != nil {
		return errors.Wrap(err, "failed to update record")
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if updated == 1 {
		return nil
	}

	if _, err := r.FindByOrderID(ctx, agg.GetOrderID()); err != nil {
		return err
	}
	return ErrConcurrentUpdate
}

func toPostgresRecord[A Aggregate[A]](agg A) (*postgresRecord, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record")
	}

	return &postgresRecord{
		OrderID:   agg.GetOrderID().String(),
		Outcome:   agg.Outcome().String(),
		Version:   agg.CurrentVersion(),
		Data:      string(data),
		UpdatedAt: time.Now().UTC(),
	}, nil
}
