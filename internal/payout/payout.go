// Package payout sweeps provider pending earnings into processor
// transfers. A run is globally serialized through a Redis lock, and every
// transfer carries a deterministic reference so neither a crashed run nor
// a processor retry can pay a provider twice.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

// ErrRunInProgress means another payout run holds the lock.
var ErrRunInProgress = errors.New("a payout run is already in progress")

// LuaReleaseLock deletes the run lock only while this run still owns it,
// so a run that outlived its TTL cannot delete a successor's lock.
//
// KEYS[1] = payout:lock
// ARGV[1] = runID
const LuaReleaseLock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// Runner executes payout batches.
type Runner struct {
	db     *gorm.DB
	rdb    *redis.Client
	ledger ledger.Service
	proc   payments.Processor
	cfg    *config.Config
	log    *logger.Logger

	releaseScript *redis.Script
}

// NewRunner creates a payout batch runner.
func NewRunner(
	db *gorm.DB,
	rdb *redis.Client,
	ledgerSvc ledger.Service,
	proc payments.Processor,
	cfg *config.Config,
	log *logger.Logger,
) *Runner {
	return &Runner{
		db:            db,
		rdb:           rdb,
		ledger:        ledgerSvc,
		proc:          proc,
		cfg:           cfg,
		log:           log,
		releaseScript: redis.NewScript(LuaReleaseLock),
	}
}

// Run acquires the global run lock and processes one batch. Concurrent
// invocations get ErrRunInProgress.
func (r *Runner) Run(ctx context.Context) (*model.PayoutResult, error) {
	runID := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, model.PayoutLockKey, runID, r.cfg.PayoutLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer r.releaseLock(runID)

	return r.runBatch(ctx, runID)
}

func (r *Runner) releaseLock(runID string) {
	// The run's own ctx may already be cancelled by the time we release.
	err := r.releaseScript.Run(context.Background(), r.rdb, []string{model.PayoutLockKey}, runID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Errorf("release payout lock: %v", err)
	}
}

// runBatch pays every provider whose pending earnings meet the minimum.
// Providers are handled independently: one failure never aborts the batch.
func (r *Runner) runBatch(ctx context.Context, runID string) (*model.PayoutResult, error) {
	started := time.Now()
	res := &model.PayoutResult{RunID: runID, StartedAt: started}

	var candidates []model.ProviderProfile
	if err := r.db.WithContext(ctx).
		Where("pending_earnings >= ?", r.cfg.MinimumPayout).
		Order("account_id").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("scan payable providers: %w", err)
	}
	r.log.Infof("payout run %s: %d providers at or above %s", runID, len(candidates), r.cfg.MinimumPayout)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			r.log.Warnf("payout run %s aborted after %d providers: %v", runID, i, err)
			break
		}
		r.payProvider(ctx, runID, &candidates[i], res)
	}

	res.Took = time.Since(started).Round(time.Millisecond).String()
	r.log.Infof("payout run %s done: %d paid, %d failed, %d skipped, %s total in %s",
		runID, res.Succeeded, res.Failed, res.Skipped, res.Total, res.Took)
	return res, nil
}

func (r *Runner) payProvider(ctx context.Context, runID string, p *model.ProviderProfile, res *model.PayoutResult) {
	if p.PayoutAccountStatus != model.PayoutAccountActive || p.PayoutAccountRef == "" {
		res.Skipped++
		r.log.Debugf("payout run %s: provider %s skipped, payout account %s",
			runID, p.AccountID, p.PayoutAccountStatus)
		return
	}

	enabled, err := r.proc.AccountPayoutsEnabled(ctx, p.PayoutAccountRef)
	if err != nil {
		r.fail(res, p.AccountID, fmt.Errorf("check payout account: %w", err))
		return
	}
	if !enabled {
		res.Skipped++
		r.log.Infof("payout run %s: provider %s skipped, processor reports payouts disabled", runID, p.AccountID)
		return
	}

	amount := p.PendingEarnings
	ref := transferRef(runID, p.AccountID)

	// Claim the earnings before moving money: if the transfer fails the
	// claim is rolled back, while the reverse order could pay out funds
	// that were never deducted.
	if _, err := r.ledger.BeginPayout(ctx, p.AccountID, amount, runID, ref); err != nil {
		if errors.Is(err, ledger.ErrInsufficientEarnings) {
			// Earnings moved below the scanned amount since the scan.
			res.Skipped++
			return
		}
		r.fail(res, p.AccountID, fmt.Errorf("begin payout: %w", err))
		return
	}

	receipt, err := r.proc.Transfer(ctx, p.PayoutAccountRef, amount, ref)
	if err != nil {
		if ferr := r.ledger.FailPayout(ctx, ref, err.Error()); ferr != nil {
			r.log.Errorf("payout run %s: restore earnings for %s: %v", runID, p.AccountID, ferr)
		}
		r.fail(res, p.AccountID, fmt.Errorf("transfer: %w", err))
		return
	}

	if err := r.ledger.CompletePayout(ctx, ref); err != nil {
		// The transfer went through. Leave the payout row pending for
		// reconciliation rather than risk a second transfer.
		r.log.Errorf("payout run %s: complete payout %s: %v", runID, ref, err)
	}

	res.Succeeded++
	res.Total = res.Total.Add(amount)
	r.log.Infof("payout run %s: provider %s paid %s transfer=%s", runID, p.AccountID, amount, receipt.ID)
}

func (r *Runner) fail(res *model.PayoutResult, providerID string, err error) {
	res.Failed++
	res.Errors = append(res.Errors, model.PayoutError{ProviderID: providerID, Reason: err.Error()})
	r.log.Errorf("payout: provider %s: %v", providerID, err)
}

// transferRef is the deterministic processor reference for one provider in
// one run. It doubles as the transfer idempotency key.
func transferRef(runID, providerID string) string {
	return fmt.Sprintf("payout:%s:%s", runID, providerID)
}
