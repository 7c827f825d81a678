package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/logger"
	"github.com/payrail/payrail/pkg/saga"
	"github.com/payrail/payrail/pkg/transfer"
)

// ServiceMetrics records transfer outcomes.
type ServiceMetrics interface {
	RecordTransfer(status string)
	RecordTransferDuration(status string, duration time.Duration)
	RecordTransferAmount(amount float64)
}

type nopServiceMetrics struct{}

func (nopServiceMetrics) RecordTransfer(status string)                                 {}
func (nopServiceMetrics) RecordTransferDuration(status string, duration time.Duration) {}
func (nopServiceMetrics) RecordTransferAmount(amount float64)                          {}

// Page is a paginated transaction listing.
type Page struct {
	Items      []*Transaction `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination describes the slice of the result set a Page holds.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithEventSink attaches a lifecycle event sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithServiceLogger overrides the service logger.
func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithServiceMetrics attaches a transfer metrics recorder.
func WithServiceMetrics(m ServiceMetrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSagaOptions forwards options to every transfer saga run.
func WithSagaOptions(opts ...transfer.Option) ServiceOption {
	return func(s *Service) { s.sagaOpts = opts }
}

// Service coordinates transfers between two users: it validates both
// parties against the accounts service, persists the transaction record,
// drives the transfer saga, and maps the saga outcome onto the
// transaction's terminal state.
type Service struct {
	repo     Repository
	accounts accounts.Client
	sink     EventSink
	logger   logger.Logger
	metrics  ServiceMetrics
	sagaOpts []transfer.Option
}

// NewService creates a transaction service.
func NewService(repo Repository, accountsClient accounts.Client, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("transaction: repository cannot be nil")
	}
	if accountsClient == nil {
		return nil, fmt.Errorf("transaction: accounts client cannot be nil")
	}
	s := &Service{
		repo:     repo,
		accounts: accountsClient,
		sink:     NopEventSink{},
		logger:   logger.Global(),
		metrics:  nopServiceMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateTransfer runs a funds transfer end to end. On saga failure the
// transaction is persisted in its terminal state and the events are
// emitted before the error is returned, so callers always observe a
// settled record.
func (s *Service) CreateTransfer(ctx context.Context, input CreateInput) (*Transaction, error) {
	if input.SenderUserID == input.ReceiverUserID {
		return nil, ErrSelfTransfer
	}

	if input.IdempotencyKey != "" {
		prior, err := s.repo.GetByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			s.logger.InfoContext(ctx, "idempotent transfer replay",
				"transaction_id", prior.ID,
				"idempotency_key", input.IdempotencyKey)
			return prior, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	senderInfo, receiverInfo, err := s.lookupParties(ctx, input.SenderUserID, input.ReceiverUserID)
	if err != nil {
		return nil, err
	}
	if senderInfo == nil {
		return nil, ErrSenderNotFound
	}
	if receiverInfo == nil {
		return nil, ErrReceiverNotFound
	}
	if senderInfo.BankingDetails.Balance < input.Amount {
		return nil, ErrInsufficientBalance
	}

	tx := New(input)
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}
	s.sink.TransactionCreated(ctx, tx)
	s.metrics.RecordTransferAmount(tx.Amount)

	if _, err := s.repo.UpdateStatus(ctx, tx.ID, StatusProcessing, "", ""); err != nil {
		return nil, fmt.Errorf("mark transaction processing: %w", err)
	}

	start := time.Now()
	sagaCtx := transfer.Context{
		TransactionID:  tx.ID,
		SenderUserID:   input.SenderUserID,
		ReceiverUserID: input.ReceiverUserID,
		Amount:         input.Amount,
	}
	result := transfer.NewSaga(s.accounts, s.sagaOpts...).Execute(ctx, &sagaCtx)

	if result.Success {
		completed, err := s.repo.UpdateStatus(ctx, tx.ID, StatusCompleted, "", "")
		if err != nil {
			return nil, fmt.Errorf("mark transaction completed: %w", err)
		}
		s.sink.TransactionCompleted(ctx, completed)
		s.metrics.RecordTransfer(string(StatusCompleted))
		s.metrics.RecordTransferDuration(string(StatusCompleted), time.Since(start))
		s.logger.InfoContext(ctx, "transfer completed",
			"transaction_id", tx.ID,
			"steps", result.CompletedSteps)
		return completed, nil
	}

	return nil, s.settleFailedTransfer(ctx, tx.ID, result, time.Since(start))
}

// settleFailedTransfer maps a failed saga run onto the transaction's
// terminal state:
//
//	no step completed                -> failed   TRANSFER_FAILED
//	steps completed, compensation ok -> reversed TRANSFER_FAILED
//	any compensation failed          -> failed   COMPENSATION_FAILED
func (s *Service) settleFailedTransfer(ctx context.Context, id string, result saga.Result[transfer.Context], elapsed time.Duration) error {
	hasCompletedSteps := len(result.CompletedSteps) > 0
	compensationFailed := result.CompensationFailed()

	errorMessage := "Transfer failed"
	if result.Err != nil {
		errorMessage = result.Err.Error()
	}

	finalStatus := StatusFailed
	errorCode := CodeTransferFailed
	switch {
	case !hasCompletedSteps:
	case compensationFailed:
		errorCode = CodeCompensationFailed
	default:
		finalStatus = StatusReversed
	}

	settled, err := s.repo.UpdateStatus(ctx, id, finalStatus, errorMessage, errorCode)
	if err != nil {
		return fmt.Errorf("settle failed transaction: %w", err)
	}

	switch {
	case compensationFailed:
		s.logger.ErrorContext(ctx, "transfer failed with compensation errors",
			"transaction_id", id,
			"failed_step", result.FailedStep,
			"compensation_results", compensationSummary(result.CompensationResults))
	case hasCompletedSteps:
		s.logger.WarnContext(ctx, "transfer failed but compensation succeeded",
			"transaction_id", id,
			"failed_step", result.FailedStep)
		s.sink.TransactionReversed(ctx, settled)
	default:
		s.logger.ErrorContext(ctx, "transfer failed at first step",
			"transaction_id", id,
			"failed_step", result.FailedStep)
	}
	s.sink.TransactionFailed(ctx, settled)
	s.metrics.RecordTransfer(string(finalStatus))
	s.metrics.RecordTransferDuration(string(finalStatus), elapsed)

	return fmt.Errorf("%w: %s", ErrTransferFailed, errorMessage)
}

// GetTransaction loads one transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

// ListUserTransactions returns a filtered, paginated listing of the user's
// transactions after confirming the user exists.
func (s *Service) ListUserTransactions(ctx context.Context, userID string, filter ListFilter) (*Page, error) {
	info, err := s.accounts.GetBankingInfo(ctx, userID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrUserNotFound
	}

	filter = filter.normalized()
	items, total, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	return &Page{
		Items: items,
		Pagination: Pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// lookupParties fetches both banking records concurrently.
func (s *Service) lookupParties(ctx context.Context, senderID, receiverID string) (*accounts.UserBankingInfo, *accounts.UserBankingInfo, error) {
	type lookup struct {
		info *accounts.UserBankingInfo
		err  error
	}

	senderCh := make(chan lookup, 1)
	go func() {
		info, err := s.accounts.GetBankingInfo(ctx, senderID)
		senderCh <- lookup{info: info, err: err}
	}()

	receiverInfo, receiverErr := s.accounts.GetBankingInfo(ctx, receiverID)
	sender := <-senderCh

	if sender.err != nil {
		return nil, nil, sender.err
	}
	if receiverErr != nil {
		return nil, nil, receiverErr
	}
	return sender.info, receiverInfo, nil
}

func compensationSummary(results []saga.CompensationResult) []string {
	summary := make([]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		summary = append(summary, r.StepName+":"+status)
	}
	return summary
}
