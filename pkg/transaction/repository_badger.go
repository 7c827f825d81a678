package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	txnKeyPrefix       = "txn:"
	txnIndexUserPrefix = "txn:index:user:"
	txnIndexIdemPrefix = "txn:index:idem:"
)

// BadgerRepository stores transactions in Badger. Each record is stored as
// JSON under "txn:{id}" with participant and idempotency index keys.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates a Badger-backed transaction repository.
func NewBadgerRepository(db *badger.DB) (*BadgerRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerRepository{db: db}, nil
}

// Create persists a new transaction and its index entries.
func (r *BadgerRepository) Create(ctx context.Context, tx *Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := txn.Set([]byte(txnDataKey(tx.ID)), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(txnUserIndexKey(tx.SenderUserID, tx.ID)), []byte{}); err != nil {
			return err
		}
		if err := txn.Set([]byte(txnUserIndexKey(tx.ReceiverUserID, tx.ID)), []byte{}); err != nil {
			return err
		}
		if tx.IdempotencyKey != "" {
			if err := txn.Set([]byte(txnIdemIndexKey(tx.IdempotencyKey)), []byte(tx.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID loads one transaction by id.
func (r *BadgerRepository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := r.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return r.getInTxn(txn, id, &tx)
	})
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// GetByIdempotencyKey resolves an idempotency key to its transaction.
func (r *BadgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	var tx Transaction
	err := r.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(txnIdemIndexKey(key)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		var id string
		if err := item.Value(func(v []byte) error {
			id = string(v)
			return nil
		}); err != nil {
			return err
		}
		return r.getInTxn(txn, id, &tx)
	})
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// ListByUser walks the participant index, filters, and pages in memory.
func (r *BadgerRepository) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]*Transaction, int, error) {
	filter = filter.normalized()
	matched := make([]*Transaction, 0)

	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(txnIndexUserPrefix + userID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			key := string(it.Item().Key())
			id := strings.TrimPrefix(key, string(prefix))
			var tx Transaction
			if err := r.getInTxn(txn, id, &tx); err != nil {
				if err == ErrNotFound {
					continue
				}
				return err
			}
			if !filter.matches(&tx) {
				continue
			}
			matched = append(matched, tx.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, filter.Page, filter.Limit), total, nil
}

// UpdateStatus applies a validated status transition inside one Badger
// transaction.
func (r *BadgerRepository) UpdateStatus(ctx context.Context, id string, status Status, errorMessage, errorCode string) (*Transaction, error) {
	var updated Transaction
	err := r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var tx Transaction
		if err := r.getInTxn(txn, id, &tx); err != nil {
			return err
		}
		if err := ValidateTransition(tx.Status, status); err != nil {
			return err
		}
		tx.applyStatus(status, errorMessage, errorCode)

		data, err := json.Marshal(&tx)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(txnDataKey(id)), data); err != nil {
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// IncrementRetryCount bumps the retry counter.
func (r *BadgerRepository) IncrementRetryCount(ctx context.Context, id string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var tx Transaction
		if err := r.getInTxn(txn, id, &tx); err != nil {
			return err
		}
		tx.RetryCount++
		tx.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&tx)
		if err != nil {
			return err
		}
		return txn.Set([]byte(txnDataKey(id)), data)
	})
}

func (r *BadgerRepository) getInTxn(txn *badger.Txn, id string, out *Transaction) error {
	item, err := txn.Get([]byte(txnDataKey(id)))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error { return json.Unmarshal(v, out) })
}

func txnDataKey(id string) string {
	return txnKeyPrefix + id
}

func txnUserIndexKey(userID, id string) string {
	return txnIndexUserPrefix + userID + ":" + id
}

func txnIdemIndexKey(key string) string {
	return txnIndexIdemPrefix + key
}
