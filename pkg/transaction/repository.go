package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ListFilter narrows and pages a participant's transaction history.
type ListFilter struct {
	Status    Status
	Type      Type
	StartDate time.Time
	EndDate   time.Time
	Page      int
	Limit     int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	return f
}

func (f ListFilter) matches(t *Transaction) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if !f.StartDate.IsZero() && t.CreatedAt.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && t.CreatedAt.After(f.EndDate) {
		return false
	}
	return true
}

// Repository is the durable transaction log.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// ListByUser returns transactions where the user is sender or receiver,
	// newest first, plus the total count before pagination.
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]*Transaction, int, error)
	// UpdateStatus applies a validated status transition and returns the
	// updated record. Error message/code are recorded only for failed and
	// reversed terminal states.
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage, errorCode string) (*Transaction, error)
	IncrementRetryCount(ctx context.Context, id string) error
}

// MemoryRepository is an in-memory Repository implementation.
type MemoryRepository struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
	byIdemKey    map[string]string
}

// NewMemoryRepository creates an in-memory transaction repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transactions: make(map[string]*Transaction),
		byIdemKey:    make(map[string]string),
	}
}

// Create stores a new transaction.
func (r *MemoryRepository) Create(_ context.Context, tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[tx.ID] = tx.Clone()
	if tx.IdempotencyKey != "" {
		r.byIdemKey[tx.IdempotencyKey] = tx.ID
	}
	return nil
}

// GetByID loads one transaction by id.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

// GetByIdempotencyKey loads one transaction by its idempotency key.
func (r *MemoryRepository) GetByIdempotencyKey(_ context.Context, key string) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdemKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	tx, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

// ListByUser lists a participant's transactions, newest first.
func (r *MemoryRepository) ListByUser(_ context.Context, userID string, filter ListFilter) ([]*Transaction, int, error) {
	filter = filter.normalized()

	r.mu.RLock()
	matched := make([]*Transaction, 0)
	for _, tx := range r.transactions {
		if tx.SenderUserID != userID && tx.ReceiverUserID != userID {
			continue
		}
		if !filter.matches(tx) {
			continue
		}
		matched = append(matched, tx.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

// UpdateStatus applies a status transition.
func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status Status, errorMessage, errorCode string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := ValidateTransition(tx.Status, status); err != nil {
		return nil, err
	}
	tx.applyStatus(status, errorMessage, errorCode)
	return tx.Clone(), nil
}

// IncrementRetryCount bumps the retry counter. Reserved for retry tooling;
// the transfer flow itself never retries.
func (r *MemoryRepository) IncrementRetryCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return ErrNotFound
	}
	tx.RetryCount++
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func paginate(items []*Transaction, page, limit int) []*Transaction {
	start := (page - 1) * limit
	if start >= len(items) {
		return []*Transaction{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
