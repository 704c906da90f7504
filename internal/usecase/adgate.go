package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// Backoff before the next pre-load attempt after an ad error.
const (
	adRetryBackoff  = 15 * time.Second
	adNoFillBackoff = 90 * time.Second
)

// gatePhase is the explicit ad gate state. One tagged state instead of
// independently mutated pending booleans: the combinations where two
// intents are pending at once are unrepresentable.
type gatePhase int

const (
	gateIdle gatePhase = iota
	gateLoading
	gateShowing
)

// AdGate serializes access to the single interstitial ad slot across the
// two competing call sites (save and enable). At most one intent is in
// flight; competing requests are dropped, not queued. The gated action
// commits exactly once, when the ad closes.
//
// All methods run on the runtime event loop.
type AdGate struct {
	source domain.AdSource
	sched  Scheduler
	logger *zap.Logger

	phase       gatePhase
	intent      domain.GateIntent
	adReady     bool
	cancelRetry func()

	retryBackoff  time.Duration
	noFillBackoff time.Duration

	onCommit func(domain.GateIntent)
	onFail   func(domain.GateIntent, error)
}

// NewAdGate creates the gate. source may be nil when the ad SDK never
// initialized; every request then fails with ErrAdUnavailable.
func NewAdGate(source domain.AdSource, sched Scheduler, logger *zap.Logger) *AdGate {
	return &AdGate{
		source:        source,
		sched:         sched,
		logger:        logger,
		retryBackoff:  adRetryBackoff,
		noFillBackoff: adNoFillBackoff,
	}
}

// SetBackoffs overrides the retry backoffs. Non-positive values keep the
// defaults.
func (g *AdGate) SetBackoffs(retry, noFill time.Duration) {
	if retry > 0 {
		g.retryBackoff = retry
	}
	if noFill > 0 {
		g.noFillBackoff = noFill
	}
}

// OnCommit registers the callback that executes the gated action.
func (g *AdGate) OnCommit(fn func(domain.GateIntent)) { g.onCommit = fn }

// OnFail registers the callback for a discarded intent.
func (g *AdGate) OnFail(fn func(domain.GateIntent, error)) { g.onFail = fn }

// AdReady reports whether an impression is loaded and unconsumed.
func (g *AdGate) AdReady() bool { return g.adReady }

// InFlight reports whether a gated intent is pending.
func (g *AdGate) InFlight() bool { return g.phase != gateIdle }

// Request admits intent into the gate. If an impression is already loaded
// it is shown immediately; otherwise a load starts and the intent waits
// for the loaded event. A request while another intent is in flight is a
// no-op: the in-flight request wins.
func (g *AdGate) Request(intent domain.GateIntent) error {
	if g.source == nil || !g.source.Available() {
		return domain.ErrAdUnavailable
	}
	if g.phase != gateIdle {
		g.logger.Debug("ad gate busy, request dropped",
			zap.String("pending", g.intent.String()),
			zap.String("dropped", intent.String()))
		return nil
	}

	g.intent = intent
	if g.adReady {
		g.phase = gateShowing
		g.source.Show()
		g.logger.Info("ad gate showing", zap.String("intent", intent.String()))
	} else {
		g.phase = gateLoading
		g.source.Load()
		g.logger.Info("ad gate loading", zap.String("intent", intent.String()))
	}
	return nil
}

// Preload asks the ad source for the next impression without admitting an
// intent. Called at startup and after each consumed impression.
func (g *AdGate) Preload() {
	if g.source == nil || !g.source.Available() || g.adReady {
		return
	}
	g.source.Load()
}

// OnLoaded handles the ad source's loaded event. If an intent is waiting
// the ad is shown at once; a speculative preload just marks the ad
// available.
func (g *AdGate) OnLoaded() {
	g.adReady = true
	g.cancelRetryTimer()

	if g.phase == gateLoading {
		g.phase = gateShowing
		g.source.Show()
		g.logger.Info("ad loaded, showing", zap.String("intent", g.intent.String()))
	}
}

// OnClosed handles the ad source's closed event. This is the one and only
// point where the gated action commits. The source is then told to
// pre-load its next impression.
func (g *AdGate) OnClosed() {
	g.adReady = false

	if g.phase == gateShowing {
		intent := g.intent
		g.phase = gateIdle
		g.intent = domain.IntentNone
		g.logger.Info("ad closed, committing", zap.String("intent", intent.String()))
		if g.onCommit != nil {
			g.onCommit(intent)
		}
	}

	if g.source != nil && g.source.Available() {
		g.source.Load()
	}
}

// OnError handles the ad source's error event: any pending intent is
// discarded (surfaced via OnFail) and a backoff-scheduled pre-load retry
// is armed. No-fill errors back off longer than generic ones.
func (g *AdGate) OnError(code string) {
	g.adReady = false
	loadErr := &domain.AdLoadError{Code: code}

	if g.phase != gateIdle {
		intent := g.intent
		g.phase = gateIdle
		g.intent = domain.IntentNone
		g.logger.Warn("ad error, intent discarded",
			zap.String("intent", intent.String()),
			zap.String("code", code))
		if g.onFail != nil {
			g.onFail(intent, loadErr)
		}
	} else {
		g.logger.Warn("ad error", zap.String("code", code))
	}

	backoff := g.retryBackoff
	if loadErr.NoFill() {
		backoff = g.noFillBackoff
	}
	g.cancelRetryTimer()
	g.cancelRetry = g.sched.AfterFunc(backoff, g.Preload)
}

// Teardown cancels the retry timer on shutdown.
func (g *AdGate) Teardown() {
	g.cancelRetryTimer()
}

func (g *AdGate) cancelRetryTimer() {
	if g.cancelRetry != nil {
		g.cancelRetry()
		g.cancelRetry = nil
	}
}
