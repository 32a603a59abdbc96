package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNilRepository is returned when a nil repository is passed to Persist.
var ErrNilRepository = errors.New("audit repository cannot be nil")

// Repository defines the relational audit store.
type Repository interface {
	// Save inserts row and fills in ID and CreatedAt.
	// Rows are unique by RequestID: inserted is false when a row for the same
	// request already exists, which makes redelivery harmless.
	Save(ctx context.Context, row *Row) (inserted bool, err error)

	// FindAll returns rows newest first.
	FindAll(ctx context.Context, page, size int) (Page[Row], error)

	// FindByUser returns rows for one user, newest first.
	FindByUser(ctx context.Context, userID int64, page, size int) (Page[Row], error)
}

// Persist validates e and writes its row. It is the single write path shared by
// the direct sink and the persist consumer.
func Persist(ctx context.Context, repo Repository, e *Event) (bool, error) {
	if repo == nil {
		return false, ErrNilRepository
	}
	if err := e.Validate(); err != nil {
		return false, err
	}
	return repo.Save(ctx, RowFromEvent(e))
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	rows   []*Row
	byReq  map[string]*Row
	nextID int64
	now    func() time.Time
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byReq: make(map[string]*Row),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Save records a row unless one exists for the same request.
func (r *InMemoryRepository) Save(_ context.Context, row *Row) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byReq[row.RequestID]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		return false, nil
	}

	r.nextID++
	stored := *row
	stored.ID = r.nextID
	stored.CreatedAt = r.now()
	r.rows = append(r.rows, &stored)
	r.byReq[stored.RequestID] = &stored

	row.ID = stored.ID
	row.CreatedAt = stored.CreatedAt
	return true, nil
}

// FindAll returns rows newest first.
func (r *InMemoryRepository) FindAll(_ context.Context, page, size int) (Page[Row], error) {
	return r.find(page, size, func(*Row) bool { return true }), nil
}

// FindByUser returns rows for userID newest first.
func (r *InMemoryRepository) FindByUser(_ context.Context, userID int64, page, size int) (Page[Row], error) {
	return r.find(page, size, func(row *Row) bool {
		return row.UserID != nil && *row.UserID == userID
	}), nil
}

func (r *InMemoryRepository) find(page, size int, keep func(*Row) bool) Page[Row] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	var content []Row
	skip := page * size

	// Iterate in reverse order (newest first)
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if !keep(row) {
			continue
		}
		total++
		if skip > 0 {
			skip--
			continue
		}
		if len(content) < size {
			// Copy to prevent external modification
			content = append(content, *row)
		}
	}

	return NewPage(content, total, page, size)
}

// Len returns the number of stored rows.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
