package transfer

import (
	"context"
	"fmt"

	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/logger"
)

// WithdrawStep debits the sender. Its compensation re-credits the sender
// (refund) and is the single most important reversal in the system: if the
// refund call fails after money left the sender, that failure must surface,
// never be swallowed.
type WithdrawStep struct {
	client accounts.Client
	log    logger.Logger
}

// Name returns the step name.
func (s *WithdrawStep) Name() string { return StepWithdraw }

// Execute debits the sender by the transfer amount.
func (s *WithdrawStep) Execute(ctx context.Context, sagaCtx *Context) error {
	if err := s.client.Withdraw(ctx, sagaCtx.SenderUserID, sagaCtx.Amount); err != nil {
		s.log.ErrorContext(ctx, "withdraw failed",
			"transaction_id", sagaCtx.TransactionID,
			"user_id", sagaCtx.SenderUserID,
			"amount", sagaCtx.Amount,
			"error", err,
		)
		return fmt.Errorf("withdraw from sender %s: %w", sagaCtx.SenderUserID, err)
	}

	sagaCtx.WithdrawCompleted = true
	s.log.InfoContext(ctx, "withdraw executed",
		"transaction_id", sagaCtx.TransactionID,
		"user_id", sagaCtx.SenderUserID,
		"amount", sagaCtx.Amount,
	)
	return nil
}

// Compensate refunds the sender, but only if the withdrawal actually landed.
func (s *WithdrawStep) Compensate(ctx context.Context, sagaCtx *Context) error {
	if !sagaCtx.WithdrawCompleted {
		s.log.DebugContext(ctx, "withdraw never completed, skipping refund",
			"transaction_id", sagaCtx.TransactionID,
		)
		return nil
	}

	if err := s.client.Deposit(ctx, sagaCtx.SenderUserID, sagaCtx.Amount); err != nil {
		s.log.ErrorContext(ctx, "withdraw compensation failed",
			"transaction_id", sagaCtx.TransactionID,
			"user_id", sagaCtx.SenderUserID,
			"amount", sagaCtx.Amount,
			"error", err,
		)
		return fmt.Errorf("refund sender %s: %w", sagaCtx.SenderUserID, err)
	}

	s.log.InfoContext(ctx, "withdraw compensated (refund)",
		"transaction_id", sagaCtx.TransactionID,
		"user_id", sagaCtx.SenderUserID,
		"amount", sagaCtx.Amount,
	)
	return nil
}

// DepositStep credits the receiver. Its compensation debits the receiver to
// claw back a credit that should not have landed.
type DepositStep struct {
	client accounts.Client
	log    logger.Logger
}

// Name returns the step name.
func (s *DepositStep) Name() string { return StepDeposit }

// Execute credits the receiver by the transfer amount.
func (s *DepositStep) Execute(ctx context.Context, sagaCtx *Context) error {
	if err := s.client.Deposit(ctx, sagaCtx.ReceiverUserID, sagaCtx.Amount); err != nil {
		s.log.ErrorContext(ctx, "deposit failed",
			"transaction_id", sagaCtx.TransactionID,
			"user_id", sagaCtx.ReceiverUserID,
			"amount", sagaCtx.Amount,
			"error", err,
		)
		return fmt.Errorf("deposit to receiver %s: %w", sagaCtx.ReceiverUserID, err)
	}

	sagaCtx.DepositCompleted = true
	s.log.InfoContext(ctx, "deposit executed",
		"transaction_id", sagaCtx.TransactionID,
		"user_id", sagaCtx.ReceiverUserID,
		"amount", sagaCtx.Amount,
	)
	return nil
}

// Compensate reverses the receiver's credit, only if the deposit landed.
func (s *DepositStep) Compensate(ctx context.Context, sagaCtx *Context) error {
	if !sagaCtx.DepositCompleted {
		s.log.DebugContext(ctx, "deposit never completed, skipping reversal",
			"transaction_id", sagaCtx.TransactionID,
		)
		return nil
	}

	if err := s.client.Withdraw(ctx, sagaCtx.ReceiverUserID, sagaCtx.Amount); err != nil {
		s.log.ErrorContext(ctx, "deposit compensation failed",
			"transaction_id", sagaCtx.TransactionID,
			"user_id", sagaCtx.ReceiverUserID,
			"amount", sagaCtx.Amount,
			"error", err,
		)
		return fmt.Errorf("reverse deposit for receiver %s: %w", sagaCtx.ReceiverUserID, err)
	}

	s.log.InfoContext(ctx, "deposit compensated (reversal)",
		"transaction_id", sagaCtx.TransactionID,
		"user_id", sagaCtx.ReceiverUserID,
		"amount", sagaCtx.Amount,
	)
	return nil
}
