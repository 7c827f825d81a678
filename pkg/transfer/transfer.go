// Package transfer instantiates the saga engine for money movement between
// two accounts: withdraw from the sender, then deposit to the receiver, with
// compensations that undo whichever side already landed.
package transfer

import (
	"time"

	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/logger"
	"github.com/payrail/payrail/pkg/saga"
)

// SagaName identifies the transfer saga in logs and metrics.
const SagaName = "transfer"

// Step names, in declared execution order.
const (
	StepWithdraw = "withdraw"
	StepDeposit  = "deposit"
)

// Context is the shared state of one transfer run. TransactionID, the two
// user ids and Amount are immutable inputs; the two flags are set by the
// steps only after the remote side effect provably succeeded, and are what
// compensation consults before reversing anything.
type Context struct {
	TransactionID     string
	SenderUserID      string
	ReceiverUserID    string
	Amount            float64
	WithdrawCompleted bool
	DepositCompleted  bool
}

// Option customizes saga assembly.
type Option func(*options)

type options struct {
	stepTimeout time.Duration
	runTimeout  time.Duration
	log         logger.Logger
	metrics     saga.MetricsRecorder
}

// WithStepTimeout bounds each remote call, including compensations.
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *options) { o.stepTimeout = timeout }
}

// WithRunTimeout bounds the forward phase of a whole run.
func WithRunTimeout(timeout time.Duration) Option {
	return func(o *options) { o.runTimeout = timeout }
}

// WithLogger overrides the saga logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics wires a saga metrics recorder.
func WithMetrics(recorder saga.MetricsRecorder) Option {
	return func(o *options) { o.metrics = recorder }
}

// NewSaga assembles the two-step transfer saga. Step order is fixed:
// withdraw must resolve before deposit is attempted, because deposit's
// compensation logic assumes withdraw's outcome is already known.
func NewSaga(client accounts.Client, opts ...Option) *saga.Orchestrator[Context] {
	o := options{log: logger.Global(), stepTimeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	sagaOpts := []saga.Option[Context]{
		saga.WithStepTimeout[Context](o.stepTimeout),
		saga.WithLogger[Context](o.log),
	}
	if o.runTimeout > 0 {
		sagaOpts = append(sagaOpts, saga.WithTimeout[Context](o.runTimeout))
	}
	if o.metrics != nil {
		sagaOpts = append(sagaOpts, saga.WithMetrics[Context](o.metrics))
	}

	return saga.New(SagaName, sagaOpts...).
		AddStep(&WithdrawStep{client: client, log: o.log}).
		AddStep(&DepositStep{client: client, log: o.log})
}
