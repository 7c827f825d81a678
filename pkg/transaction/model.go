// Package transaction owns the durable transfer log: the transaction entity,
// its status state machine, persistence, and the service that runs the
// transfer saga and maps its outcome onto a terminal status.
package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
	StatusCancelled  Status = "cancelled"
)

var validStatusTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusCancelled:  {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusReversed:  {},
	},
}

// IsTerminal reports whether no further transition is allowed. Terminal
// transactions are immutable except for RetryCount.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusReversed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a status transition is valid.
func (s Status) CanTransitionTo(next Status) bool {
	validNext, ok := validStatusTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition validates transition semantics.
func ValidateTransition(current, next Status) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid transaction status transition: %s -> %s", current, next)
	}
	return nil
}

// Type classifies a transaction. The transfer flow always uses TypeTransfer;
// the remaining values exist for the wider ledger surface.
type Type string

const (
	TypeTransfer   Type = "transfer"
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypePayment    Type = "payment"
	TypeRefund     Type = "refund"
)

// Error codes recorded on non-completed terminal transactions.
const (
	CodeTransferFailed     = "TRANSFER_FAILED"
	CodeCompensationFailed = "COMPENSATION_FAILED"
)

// Transaction is one persisted transfer attempt. A row exists from before
// the first remote call is made, so the log is the source of truth for what
// happened even if the process dies mid-saga.
type Transaction struct {
	ID             string         `json:"id"`
	SenderUserID   string         `json:"sender_user_id"`
	ReceiverUserID string         `json:"receiver_user_id"`
	Amount         float64        `json:"amount"`
	Fee            float64        `json:"fee"`
	Description    string         `json:"description,omitempty"`
	Type           Type           `json:"type"`
	Status         Status         `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	RetryCount     int            `json:"retry_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ReversedAt     *time.Time     `json:"reversed_at,omitempty"`
}

// CreateInput is the data needed to open a new transfer record.
type CreateInput struct {
	SenderUserID   string
	ReceiverUserID string
	Amount         float64
	Description    string
	IdempotencyKey string
}

// New creates a pending transaction with a generated id.
func New(input CreateInput) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:             uuid.NewString(),
		SenderUserID:   input.SenderUserID,
		ReceiverUserID: input.ReceiverUserID,
		Amount:         input.Amount,
		Description:    input.Description,
		IdempotencyKey: input.IdempotencyKey,
		Type:           TypeTransfer,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		clone.CompletedAt = &done
	}
	if t.ReversedAt != nil {
		reversed := *t.ReversedAt
		clone.ReversedAt = &reversed
	}
	return &clone
}

// applyStatus mutates the transaction for a validated status transition.
func (t *Transaction) applyStatus(status Status, errorMessage, errorCode string) {
	now := time.Now().UTC()
	t.Status = status
	t.UpdatedAt = now

	switch status {
	case StatusCompleted:
		done := now
		t.CompletedAt = &done
	case StatusReversed:
		reversed := now
		t.ReversedAt = &reversed
		t.ErrorMessage = errorMessage
		t.ErrorCode = errorCode
	case StatusFailed:
		t.ErrorMessage = errorMessage
		t.ErrorCode = errorCode
	}
}
