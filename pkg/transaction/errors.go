package transaction

import "errors"

// Sentinel errors surfaced by the repository and service. Validation and
// precondition failures happen before any persistence or remote mutation;
// ErrTransferFailed is returned only after the terminal outcome has been
// durably recorded.
var (
	ErrNotFound            = errors.New("transaction: not found")
	ErrSelfTransfer        = errors.New("transaction: cannot transfer to yourself")
	ErrSenderNotFound      = errors.New("transaction: sender user not found")
	ErrReceiverNotFound    = errors.New("transaction: receiver user not found")
	ErrUserNotFound        = errors.New("transaction: user not found")
	ErrInsufficientBalance = errors.New("transaction: insufficient balance")
	ErrTransferFailed      = errors.New("transaction: transfer failed")
)
