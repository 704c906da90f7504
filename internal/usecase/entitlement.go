package usecase

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// EntitlementOracle answers "is this user premium" with low latency,
// trading a little staleness for responsiveness. A confirmed subscription
// is cached locally; the cache short-circuits the real check on the next
// start, and a background reconcile corrects the cache on discrepancy.
//
// The in-memory answer is never downgraded mid-run: visibly revoking
// access because of a flaky network check is worse than one stale hour.
//
// Bootstrap/Apply* run on the runtime event loop; Reconcile, Purchase and
// Restore block on the network and are meant to be called from a goroutine
// that dispatches the result back onto the loop.
type EntitlementOracle struct {
	client domain.EntitlementClient
	store  domain.SettingsStore
	logger *zap.Logger

	premium  bool
	cached   bool
	onChange func(bool)
}

// ReconcileResult carries a blocking query result back onto the loop.
type ReconcileResult struct {
	Active bool
	Err    error
}

// NewEntitlementOracle creates the oracle. client may be nil when no
// purchase platform is configured; the user is then simply not premium.
func NewEntitlementOracle(client domain.EntitlementClient, store domain.SettingsStore, logger *zap.Logger) *EntitlementOracle {
	return &EntitlementOracle{
		client: client,
		store:  store,
		logger: logger,
	}
}

// OnChange registers the observer invoked when the premium answer flips.
func (o *EntitlementOracle) OnChange(fn func(bool)) { o.onChange = fn }

// IsPremium returns the current answer.
func (o *EntitlementOracle) IsPremium() bool { return o.premium }

// Bootstrap reads the local premium cache and reports whether a background
// reconcile against the real purchase platform should run. A cached true
// answers true immediately (optimistic fast path).
func (o *EntitlementOracle) Bootstrap() bool {
	raw, ok, err := o.store.Get(domain.KeyPremiumCache)
	if err != nil {
		o.logger.Warn("premium cache read failed", zap.Error(err))
	}
	o.cached = ok
	if ok && raw == "1" {
		o.premium = true
		o.logger.Info("premium cache hit, confirming in background")
	}
	return o.client != nil
}

// Reconcile performs the real entitlement query. Blocking.
func (o *EntitlementOracle) Reconcile(ctx context.Context) ReconcileResult {
	if o.client == nil {
		return ReconcileResult{Err: domain.ErrEntitlementCheck}
	}
	ids, err := o.client.ActiveEntitlements(ctx)
	if err != nil {
		return ReconcileResult{Err: err}
	}
	return ReconcileResult{Active: slices.Contains(ids, domain.EntitlementPro)}
}

// ApplyReconcile folds a query result into the oracle. Upgrades apply
// immediately; a downgrade only corrects the cache so the next start picks
// it up. Query failure with no cache defaults to not-premium.
func (o *EntitlementOracle) ApplyReconcile(res ReconcileResult) {
	if res.Err != nil {
		o.logger.Warn("entitlement check failed", zap.Error(res.Err))
		if !o.cached {
			o.setPremium(false)
		}
		return
	}

	o.writeCache(res.Active)
	if res.Active {
		o.setPremium(true)
		return
	}
	if o.premium {
		// Stale cached-true: corrected on disk, kept in memory for this run.
		o.logger.Info("premium cache was stale, corrected")
		return
	}
	o.setPremium(false)
}

// ApplyPurchaseResult folds a purchase or restore outcome into the oracle.
// Unlike reconcile, the user just acted, so the answer applies both ways.
func (o *EntitlementOracle) ApplyPurchaseResult(active bool) {
	o.writeCache(active)
	o.setPremium(active)
}

// Purchase buys the monthly subscription. Blocking.
func (o *EntitlementOracle) Purchase(ctx context.Context) (bool, error) {
	if o.client == nil {
		return false, domain.ErrEntitlementCheck
	}
	ids, err := o.client.Purchase(ctx, domain.ProductMonthlySub)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, domain.EntitlementPro), nil
}

// Restore replays past purchases. Blocking.
func (o *EntitlementOracle) Restore(ctx context.Context) (bool, error) {
	if o.client == nil {
		return false, domain.ErrEntitlementCheck
	}
	ids, err := o.client.Restore(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, domain.EntitlementPro), nil
}

func (o *EntitlementOracle) setPremium(v bool) {
	if o.premium == v {
		return
	}
	o.premium = v
	o.logger.Info("premium status changed", zap.Bool("premium", v))
	if o.onChange != nil {
		o.onChange(v)
	}
}

func (o *EntitlementOracle) writeCache(active bool) {
	val := "0"
	if active {
		val = "1"
	}
	if err := o.store.Set(domain.KeyPremiumCache, val); err != nil {
		o.logger.Warn("premium cache write failed", zap.Error(err))
	}
	o.cached = true
}
