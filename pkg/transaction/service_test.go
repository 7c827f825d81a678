package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/transfer"
)

// scriptedAccounts serves canned banking records and scripted mutation
// failures, recording every mutation call.
type scriptedAccounts struct {
	users        map[string]*accounts.UserBankingInfo
	lookupErr    error
	withdrawErrs map[string]error
	depositErrs  map[string]error
	calls        []string
}

func newScriptedAccounts() *scriptedAccounts {
	return &scriptedAccounts{
		users: map[string]*accounts.UserBankingInfo{
			"sender": {ID: "sender", BankingDetails: accounts.BankingDetails{Balance: 500}},
			"receiver": {ID: "receiver", BankingDetails: accounts.BankingDetails{Balance: 100}},
		},
		withdrawErrs: map[string]error{},
		depositErrs:  map[string]error{},
	}
}

func (a *scriptedAccounts) GetBankingInfo(_ context.Context, userID string) (*accounts.UserBankingInfo, error) {
	if a.lookupErr != nil {
		return nil, a.lookupErr
	}
	return a.users[userID], nil
}

func (a *scriptedAccounts) Withdraw(_ context.Context, userID string, _ float64) error {
	a.calls = append(a.calls, "withdraw:"+userID)
	return a.withdrawErrs[userID]
}

func (a *scriptedAccounts) Deposit(_ context.Context, userID string, _ float64) error {
	a.calls = append(a.calls, "deposit:"+userID)
	return a.depositErrs[userID]
}

// captureSink records the lifecycle callbacks in emission order.
type captureSink struct {
	events []string
	last   map[string]*Transaction
}

func newCaptureSink() *captureSink {
	return &captureSink{last: map[string]*Transaction{}}
}

func (c *captureSink) record(name string, tx *Transaction) {
	c.events = append(c.events, name)
	c.last[name] = tx
}

func (c *captureSink) TransactionCreated(_ context.Context, tx *Transaction)   { c.record("created", tx) }
func (c *captureSink) TransactionCompleted(_ context.Context, tx *Transaction) { c.record("completed", tx) }
func (c *captureSink) TransactionFailed(_ context.Context, tx *Transaction)    { c.record("failed", tx) }
func (c *captureSink) TransactionReversed(_ context.Context, tx *Transaction)  { c.record("reversed", tx) }

func (c *captureSink) has(name string) bool {
	for _, e := range c.events {
		if e == name {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, client accounts.Client, sink EventSink) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc, err := NewService(repo, client,
		WithEventSink(sink),
		WithSagaOptions(transfer.WithStepTimeout(time.Second)),
	)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, repo
}

func transferInput() CreateInput {
	return CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 50}
}

func TestCreateTransferCompleted(t *testing.T) {
	client := newScriptedAccounts()
	sink := newCaptureSink()
	svc, repo := newTestService(t, client, sink)

	tx, err := svc.CreateTransfer(context.Background(), transferInput())
	if err != nil {
		t.Fatalf("CreateTransfer() error = %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", tx.Status)
	}
	if tx.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	stored, err := repo.GetByID(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %s", stored.Status)
	}

	if !sink.has("created") || !sink.has("completed") {
		t.Fatalf("events = %v, want created and completed", sink.events)
	}
	if sink.has("failed") || sink.has("reversed") {
		t.Fatalf("events = %v, unexpected failure events", sink.events)
	}
}

func TestCreateTransferWithdrawFailure(t *testing.T) {
	client := newScriptedAccounts()
	client.withdrawErrs["sender"] = errors.New("card declined")
	sink := newCaptureSink()
	svc, repo := newTestService(t, client, sink)

	_, err := svc.CreateTransfer(context.Background(), transferInput())
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}

	// The record settles as failed with TRANSFER_FAILED; no money moved so
	// nothing is reversed.
	items, _, _ := repo.ListByUser(context.Background(), "sender", ListFilter{})
	if len(items) != 1 {
		t.Fatalf("len(items) = %d", len(items))
	}
	settled := items[0]
	if settled.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", settled.Status)
	}
	if settled.ErrorCode != CodeTransferFailed {
		t.Fatalf("ErrorCode = %s, want %s", settled.ErrorCode, CodeTransferFailed)
	}
	if settled.ErrorMessage == "" {
		t.Fatal("ErrorMessage must carry the step error")
	}

	if sink.has("reversed") {
		t.Fatalf("events = %v, reversed must not fire when nothing completed", sink.events)
	}
	if !sink.has("failed") {
		t.Fatalf("events = %v, want failed", sink.events)
	}
}

func TestCreateTransferDepositFailureReversed(t *testing.T) {
	client := newScriptedAccounts()
	client.depositErrs["receiver"] = errors.New("account closed")
	sink := newCaptureSink()
	svc, repo := newTestService(t, client, sink)

	_, err := svc.CreateTransfer(context.Background(), transferInput())
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}

	items, _, _ := repo.ListByUser(context.Background(), "sender", ListFilter{})
	settled := items[0]
	if settled.Status != StatusReversed {
		t.Fatalf("Status = %s, want reversed", settled.Status)
	}
	if settled.ErrorCode != CodeTransferFailed {
		t.Fatalf("ErrorCode = %s, want %s", settled.ErrorCode, CodeTransferFailed)
	}
	if settled.ReversedAt == nil {
		t.Fatal("ReversedAt not set")
	}

	// Reversed emits both the reversed and the failed event.
	if !sink.has("reversed") || !sink.has("failed") {
		t.Fatalf("events = %v, want reversed and failed", sink.events)
	}

	// The refund actually went back to the sender.
	refunded := false
	for _, call := range client.calls {
		if call == "deposit:sender" {
			refunded = true
		}
	}
	if !refunded {
		t.Fatalf("calls = %v, refund missing", client.calls)
	}
}

func TestCreateTransferCompensationFailure(t *testing.T) {
	client := newScriptedAccounts()
	client.depositErrs["receiver"] = errors.New("account closed")
	client.depositErrs["sender"] = errors.New("refund rejected")
	sink := newCaptureSink()
	svc, repo := newTestService(t, client, sink)

	_, err := svc.CreateTransfer(context.Background(), transferInput())
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}

	items, _, _ := repo.ListByUser(context.Background(), "sender", ListFilter{})
	settled := items[0]
	if settled.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", settled.Status)
	}
	if settled.ErrorCode != CodeCompensationFailed {
		t.Fatalf("ErrorCode = %s, want %s", settled.ErrorCode, CodeCompensationFailed)
	}
	if sink.has("reversed") {
		t.Fatalf("events = %v, reversed must not fire on compensation failure", sink.events)
	}
	if !sink.has("failed") {
		t.Fatalf("events = %v, want failed", sink.events)
	}
}

func TestCreateTransferIdempotentReplay(t *testing.T) {
	client := newScriptedAccounts()
	svc, _ := newTestService(t, client, NopEventSink{})

	input := transferInput()
	input.IdempotencyKey = "replay-1"

	first, err := svc.CreateTransfer(context.Background(), input)
	if err != nil {
		t.Fatalf("first CreateTransfer() error = %v", err)
	}
	movesAfterFirst := len(client.calls)

	second, err := svc.CreateTransfer(context.Background(), input)
	if err != nil {
		t.Fatalf("replay CreateTransfer() error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if len(client.calls) != movesAfterFirst {
		t.Fatalf("replay moved money: calls = %v", client.calls)
	}
}

func TestCreateTransferValidation(t *testing.T) {
	client := newScriptedAccounts()
	svc, _ := newTestService(t, client, NopEventSink{})
	ctx := context.Background()

	_, err := svc.CreateTransfer(ctx, CreateInput{SenderUserID: "same", ReceiverUserID: "same", Amount: 10})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("err = %v, want ErrSelfTransfer", err)
	}

	_, err = svc.CreateTransfer(ctx, CreateInput{SenderUserID: "ghost", ReceiverUserID: "receiver", Amount: 10})
	if !errors.Is(err, ErrSenderNotFound) {
		t.Fatalf("err = %v, want ErrSenderNotFound", err)
	}

	_, err = svc.CreateTransfer(ctx, CreateInput{SenderUserID: "sender", ReceiverUserID: "ghost", Amount: 10})
	if !errors.Is(err, ErrReceiverNotFound) {
		t.Fatalf("err = %v, want ErrReceiverNotFound", err)
	}

	_, err = svc.CreateTransfer(ctx, CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 10_000})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// No record is persisted and no money moves on precondition failures.
	if len(client.calls) != 0 {
		t.Fatalf("calls = %v, want none", client.calls)
	}
}

func TestCreateTransferLookupErrorPropagates(t *testing.T) {
	client := newScriptedAccounts()
	client.lookupErr = accounts.ErrServiceUnavailable
	svc, _ := newTestService(t, client, NopEventSink{})

	_, err := svc.CreateTransfer(context.Background(), transferInput())
	if !errors.Is(err, accounts.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestListUserTransactions(t *testing.T) {
	client := newScriptedAccounts()
	svc, repo := newTestService(t, client, NopEventSink{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx := New(CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: float64(i + 1)})
		if err := repo.Create(ctx, tx); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := svc.ListUserTransactions(ctx, "sender", ListFilter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListUserTransactions() error = %v", err)
	}
	if page.Pagination.Total != 3 || page.Pagination.TotalPages != 2 {
		t.Fatalf("pagination = %+v", page.Pagination)
	}
	if len(page.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(page.Items))
	}

	if _, err := svc.ListUserTransactions(ctx, "ghost", ListFilter{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestGetTransaction(t *testing.T) {
	client := newScriptedAccounts()
	svc, repo := newTestService(t, client, NopEventSink{})
	ctx := context.Background()

	tx := New(CreateInput{SenderUserID: "sender", ReceiverUserID: "receiver", Amount: 5})
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := svc.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.ID != tx.ID {
		t.Fatalf("got.ID = %s", got.ID)
	}

	if _, err := svc.GetTransaction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNewServiceRejectsNilDependencies(t *testing.T) {
	if _, err := NewService(nil, newScriptedAccounts()); err == nil {
		t.Fatal("nil repository accepted")
	}
	if _, err := NewService(NewMemoryRepository(), nil); err == nil {
		t.Fatal("nil accounts client accepted")
	}
}
