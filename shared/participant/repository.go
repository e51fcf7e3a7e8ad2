package participant

import (
	"context"
	"sync"
	"time"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("participant record not found")
	ErrConcurrentUpdate  = errors.New("participant record was modified concurrently")
	ErrInvalidTransition = errors.New("invalid participant status transition")
)

// Outcome is the participant-neutral view of a local status.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
	Compensated
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Compensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// Aggregate is the local record a participant keeps for one order.
type Aggregate[A any] interface {
	GetOrderID() models.ID
	Outcome() Outcome
	FailureMessage() string
	CurrentVersion() int
	// LastUpdated is when the record was last written
	LastUpdated() time.Time
	Clone() A
}

// Repository persists participant aggregates with orderId as a unique key.
//
// CreateIfAbsent inserts agg unless a record for its order exists. The stored record is
// returned in both cases, created reports which one happened. Update writes agg only if
// the stored version is agg's version minus one, else ErrConcurrentUpdate.
type Repository[A Aggregate[A]] interface {
	FindByOrderID(ctx context.Context, orderID models.ID) (A, error)
	FindAll(ctx context.Context) ([]A, error)
	CreateIfAbsent(ctx context.Context, agg A) (stored A, created bool, err error)
	Update(ctx context.Context, agg A) error
}

// MemoryRepository keeps aggregates in process. Used by tests and the memory storage driver.
type MemoryRepository[A Aggregate[A]] struct {
	mu      sync.RWMutex
	records map[models.ID]A
	order   []models.ID
}

func NewMemoryRepository[A Aggregate[A]]() *MemoryRepository[A] {
	return &MemoryRepository[A]{records: make(map[models.ID]A)}
}

func (r *MemoryRepository[A]) FindByOrderID(_ context.Context, orderID models.ID) (A, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg, ok := r.records[orderID]
	if !ok {
		var zero A
		return zero, ErrNotFound
	}
	return agg.Clone(), nil
}

func (r *MemoryRepository[A]) FindAll(_ context.Context) ([]A, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]A, 0, len(r.order))
	for _, orderID := range r.order {
		all = append(all, r.records[orderID].Clone())
	}
	return all, nil
}

func (r *MemoryRepository[A]) CreateIfAbsent(_ context.Context, agg A) (A, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[agg.GetOrderID()]; ok {
		return existing.Clone(), false, nil
	}

	r.records[agg.GetOrderID()] = agg.Clone()
	r.order = append(r.order, agg.GetOrderID())
	return agg.Clone(), true, nil
}

func (r *MemoryRepository[A]) Update(_ context.Context, agg A) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[agg.GetOrderID()]
	if !ok {
		return ErrNotFound
	}
	if existing.CurrentVersion() != agg.CurrentVersion()-1 {
		return ErrConcurrentUpdate
	}

	r.records[agg.GetOrderID()] = agg.Clone()
	return nil
}

// Len returns the number of stored records.
func (r *MemoryRepository[A]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
