package payout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/lunaria-live/lunaria/internal/store"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

type fakeTransfer struct {
	Dest   string
	Amount decimal.Decimal
	Key    string
}

// fakeProcessor scripts per-account behavior for batch tests.
type fakeProcessor struct {
	mu          sync.Mutex
	transfers   []fakeTransfer
	disabled    map[string]bool
	checkErr    map[string]error
	transferErr map[string]error
}

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal, paymentMethod string) (*payments.Intent, error) {
	return &payments.Intent{ID: "pi_test", ClientSecret: "cs_test"}, nil
}

func (f *fakeProcessor) AccountPayoutsEnabled(ctx context.Context, ref string) (bool, error) {
	if err := f.checkErr[ref]; err != nil {
		return false, err
	}
	return !f.disabled[ref], nil
}

func (f *fakeProcessor) Transfer(ctx context.Context, ref string, amount decimal.Decimal, key string) (*payments.TransferReceipt, error) {
	if err := f.transferErr[ref]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, fakeTransfer{Dest: ref, Amount: amount, Key: key})
	return &payments.TransferReceipt{ID: fmt.Sprintf("tr_%d", len(f.transfers))}, nil
}

func (f *fakeProcessor) VerifyEvent(payload []byte, signature string) (*payments.Event, error) {
	return nil, errors.New("not implemented")
}

func newTestRunner(t *testing.T) (*Runner, *gorm.DB, *fakeProcessor) {
	t.Helper()
	st, err := store.NewStore("sqlite", filepath.Join(t.TempDir(), "payout.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg := &config.Config{
		MinimumPayout: dec("15.00"),
		PayoutLockTTL: time.Minute,
	}
	proc := &fakeProcessor{
		disabled:    map[string]bool{},
		checkErr:    map[string]error{},
		transferErr: map[string]error{},
	}
	calc := rate.NewCalculator(dec("0.30"))
	r := &Runner{
		db:     st.DB(),
		ledger: ledger.NewService(st.DB(), calc),
		proc:   proc,
		cfg:    cfg,
		log:    logger.NewNop(),
	}
	return r, st.DB(), proc
}

func seedPayee(t *testing.T, db *gorm.DB, id, pending string, status model.PayoutAccountStatus, ref string) {
	t.Helper()
	p := model.ProviderProfile{
		AccountID:           id,
		PendingEarnings:     dec(pending),
		TotalEarnings:       dec(pending),
		PayoutAccountStatus: status,
		PayoutAccountRef:    ref,
		UpdatedAt:           time.Now(),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed payee: %v", err)
	}
}

func pendingOf(t *testing.T, db *gorm.DB, id string) decimal.Decimal {
	t.Helper()
	var p model.ProviderProfile
	if err := db.Where("account_id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return p.PendingEarnings
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRunBatchPaysEligibleProviders(t *testing.T) {
	r, db, proc := newTestRunner(t)
	ctx := context.Background()
	seedPayee(t, db, "r1", "15.00", model.PayoutAccountActive, "acct_r1")
	seedPayee(t, db, "r2", "14.99", model.PayoutAccountActive, "acct_r2")

	res, err := r.runBatch(ctx, "run-test")
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 1 paid only", res.Succeeded, res.Failed, res.Skipped)
	}
	if !res.Total.Equal(dec("15.00")) {
		t.Errorf("total = %s, want 15.00", res.Total)
	}

	if got := pendingOf(t, db, "r1"); !got.IsZero() {
		t.Errorf("r1 pending = %s, want 0", got)
	}
	// 14.99 stays below the line and must be untouched.
	if got := pendingOf(t, db, "r2"); !got.Equal(dec("14.99")) {
		t.Errorf("r2 pending = %s, want 14.99", got)
	}

	if len(proc.transfers) != 1 {
		t.Fatalf("%d transfers, want 1", len(proc.transfers))
	}
	tr := proc.transfers[0]
	if tr.Dest != "acct_r1" || !tr.Amount.Equal(dec("15.00")) {
		t.Errorf("transfer = %s %s", tr.Dest, tr.Amount)
	}
	if tr.Key != transferRef("run-test", "r1") {
		t.Errorf("idempotency key = %s, want %s", tr.Key, transferRef("run-test", "r1"))
	}

	var txn model.Transaction
	if err := db.Where("account_id = ? AND type = ?", "r1", model.TxPayout).First(&txn).Error; err != nil {
		t.Fatalf("payout transaction missing: %v", err)
	}
	if txn.Status != model.TxCompleted {
		t.Errorf("payout status = %s, want completed", txn.Status)
	}
	if txn.PayoutRunID != "run-test" {
		t.Errorf("run id = %s, want run-test", txn.PayoutRunID)
	}
}

func TestRunBatchSkipsUnlinkedAccounts(t *testing.T) {
	r, db, proc := newTestRunner(t)
	ctx := context.Background()
	seedPayee(t, db, "r1", "40.00", model.PayoutAccountPending, "acct_r1")
	seedPayee(t, db, "r2", "40.00", model.PayoutAccountUnlinked, "")
	seedPayee(t, db, "r3", "40.00", model.PayoutAccountDisabled, "acct_r3")

	res, err := r.runBatch(ctx, "run-test")
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if res.Skipped != 3 || res.Succeeded != 0 {
		t.Errorf("counts = %d paid %d skipped, want 0/3", res.Succeeded, res.Skipped)
	}
	if len(proc.transfers) != 0 {
		t.Errorf("%d transfers for unlinked accounts, want 0", len(proc.transfers))
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		if got := pendingOf(t, db, id); !got.Equal(dec("40.00")) {
			t.Errorf("%s pending = %s, want untouched 40.00", id, got)
		}
	}
}

func TestRunBatchSkipsProcessorDisabledAccounts(t *testing.T) {
	r, db, proc := newTestRunner(t)
	ctx := context.Background()
	seedPayee(t, db, "r1", "20.00", model.PayoutAccountActive, "acct_r1")
	proc.disabled["acct_r1"] = true

	res, err := r.runBatch(ctx, "run-test")
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if res.Skipped != 1 || res.Succeeded != 0 || res.Failed != 0 {
		t.Errorf("counts = %d/%d/%d, want skip only", res.Succeeded, res.Failed, res.Skipped)
	}
	if got := pendingOf(t, db, "r1"); !got.Equal(dec("20.00")) {
		t.Errorf("pending = %s, want untouched 20.00", got)
	}
}

func TestRunBatchTransferFailureIsIsolated(t *testing.T) {
	r, db, proc := newTestRunner(t)
	ctx := context.Background()
	seedPayee(t, db, "r1", "25.00", model.PayoutAccountActive, "acct_r1")
	seedPayee(t, db, "r2", "16.50", model.PayoutAccountActive, "acct_r2")
	proc.transferErr["acct_r1"] = errors.New("destination account frozen")

	res, err := r.runBatch(ctx, "run-test")
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("counts = %d paid %d failed, want 1/1", res.Succeeded, res.Failed)
	}
	if len(res.Errors) != 1 || res.Errors[0].ProviderID != "r1" {
		t.Fatalf("errors = %+v, want one for r1", res.Errors)
	}
	if !res.Total.Equal(dec("16.50")) {
		t.Errorf("total = %s, want only r2's 16.50", res.Total)
	}

	// r1's claim must be rolled back in full.
	if got := pendingOf(t, db, "r1"); !got.Equal(dec("25.00")) {
		t.Errorf("r1 pending = %s, want restored 25.00", got)
	}
	var failed model.Transaction
	if err := db.Where("account_id = ? AND type = ? AND status = ?", "r1", model.TxPayout, model.TxFailed).
		First(&failed).Error; err != nil {
		t.Fatalf("failed payout row missing: %v", err)
	}

	if got := pendingOf(t, db, "r2"); !got.IsZero() {
		t.Errorf("r2 pending = %s, want 0", got)
	}
}

func TestRunBatchAccountCheckErrorCountsFailed(t *testing.T) {
	r, db, proc := newTestRunner(t)
	ctx := context.Background()
	seedPayee(t, db, "r1", "30.00", model.PayoutAccountActive, "acct_r1")
	proc.checkErr["acct_r1"] = errors.New("processor unreachable")

	res, err := r.runBatch(ctx, "run-test")
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 0 {
		t.Errorf("counts = %d paid %d failed, want 0/1", res.Succeeded, res.Failed)
	}
	// No claim was made, earnings stay put.
	if got := pendingOf(t, db, "r1"); !got.Equal(dec("30.00")) {
		t.Errorf("pending = %s, want untouched 30.00", got)
	}
	var count int64
	db.Model(&model.Transaction{}).Where("account_id = ?", "r1").Count(&count)
	if count != 0 {
		t.Errorf("%d transactions written, want 0", count)
	}
}

func TestTransferRefShape(t *testing.T) {
	got := transferRef("run-9", "reader-3")
	if got != "payout:run-9:reader-3" {
		t.Errorf("transferRef = %s", got)
	}
}
