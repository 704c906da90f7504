package usecase

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// SessionTimer owns the single authoritative notion of how far into the
// free session we are. It guarantees exactly one expiry side effect per
// session and persists the start instant so a restart can resume.
//
// All methods run on the runtime event loop.
type SessionTimer struct {
	store    domain.SettingsStore
	sched    Scheduler
	now      Clock
	duration time.Duration
	logger   *zap.Logger

	startedAt    time.Time
	cancelExpiry func()
	cancelTick   func()

	onExpire   func()
	onProgress func(float64)
}

// NewSessionTimer creates a session timer. duration <= 0 falls back to the
// default one-hour session.
func NewSessionTimer(store domain.SettingsStore, sched Scheduler, now Clock, duration time.Duration, logger *zap.Logger) *SessionTimer {
	if duration <= 0 {
		duration = domain.SessionDuration
	}
	return &SessionTimer{
		store:    store,
		sched:    sched,
		now:      now,
		duration: duration,
		logger:   logger,
	}
}

// OnExpire registers the orchestrator's disable transition.
func (t *SessionTimer) OnExpire(fn func()) { t.onExpire = fn }

// OnProgress registers the progress observer (republished every tick).
func (t *SessionTimer) OnProgress(fn func(float64)) { t.onProgress = fn }

// Active reports whether a session is currently running.
func (t *SessionTimer) Active() bool { return !t.startedAt.IsZero() }

// StartedAt returns the start instant of the active session (zero if none).
func (t *SessionTimer) StartedAt() time.Time { return t.startedAt }

// Duration returns the configured session length.
func (t *SessionTimer) Duration() time.Duration { return t.duration }

// Progress returns elapsed/duration clamped to [0,1]. With no active
// session it returns 0.
func (t *SessionTimer) Progress() float64 {
	if t.startedAt.IsZero() {
		return 0
	}
	raw := float64(t.now().Sub(t.startedAt)) / float64(t.duration)
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

// Start begins a fresh session at the current instant: persists the start
// time, resets progress, and arms one expiry callback plus one periodic
// tick. Re-arming is idempotent: any previously armed timers are cancelled
// first.
func (t *SessionTimer) Start() error {
	t.cancelTimers()

	now := t.now()
	t.startedAt = now

	var persistErr error
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if err := t.store.Set(domain.KeySessionStartAt, millis); err != nil {
		persistErr = &domain.PersistenceError{Key: domain.KeySessionStartAt, Err: err}
		t.logger.Warn("failed to persist session start", zap.Error(err))
	}

	t.arm(t.duration)
	t.publishProgress(0)

	t.logger.Info("session started",
		zap.Time("started_at", now),
		zap.Duration("duration", t.duration))
	return persistErr
}

// Resume picks up a persisted session. If it has already run out, expiry
// triggers immediately and Resume reports false. Otherwise the expiry
// timer is armed for the remaining duration only, and progress reflects
// the time already spent.
func (t *SessionTimer) Resume(startedAt time.Time) bool {
	t.cancelTimers()
	t.startedAt = startedAt

	elapsed := t.now().Sub(startedAt)
	if elapsed >= t.duration {
		t.logger.Info("persisted session already expired",
			zap.Time("started_at", startedAt),
			zap.Duration("elapsed", elapsed))
		t.Expire()
		return false
	}

	t.arm(t.duration - elapsed)
	t.publishProgress(t.Progress())

	t.logger.Info("session resumed",
		zap.Time("started_at", startedAt),
		zap.Duration("remaining", t.duration-elapsed))
	return true
}

// Expire ends the session: clears the persisted start, cancels both
// timers, pins progress to 1, and invokes the registered disable
// transition. Calling it twice has no additional effect.
func (t *SessionTimer) Expire() {
	if t.startedAt.IsZero() {
		return
	}

	t.cancelTimers()
	t.startedAt = time.Time{}

	if err := t.store.Remove(domain.KeySessionStartAt); err != nil {
		t.logger.Warn("failed to clear session start", zap.Error(err))
	}

	t.publishProgress(1)
	t.logger.Info("session expired")

	if t.onExpire != nil {
		t.onExpire()
	}
}

// Stop cancels both timers without forcing expiry. Used when transitioning
// to premium or disabling before natural expiry.
func (t *SessionTimer) Stop() {
	t.cancelTimers()
	t.startedAt = time.Time{}
}

// Clear removes the persisted session start on explicit disable.
func (t *SessionTimer) Clear() {
	t.Stop()
	if err := t.store.Remove(domain.KeySessionStartAt); err != nil {
		t.logger.Warn("failed to clear session start", zap.Error(err))
	}
}

// PersistedStart reads the stored session start instant, if any.
func (t *SessionTimer) PersistedStart() (time.Time, bool) {
	raw, ok, err := t.store.Get(domain.KeySessionStartAt)
	if err != nil || !ok {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

func (t *SessionTimer) arm(remaining time.Duration) {
	t.cancelExpiry = t.sched.AfterFunc(remaining, t.Expire)
	t.cancelTick = t.sched.Every(domain.SessionTick, func() {
		if t.startedAt.IsZero() {
			return
		}
		t.publishProgress(t.Progress())
	})
}

func (t *SessionTimer) cancelTimers() {
	if t.cancelExpiry != nil {
		t.cancelExpiry()
		t.cancelExpiry = nil
	}
	if t.cancelTick != nil {
		t.cancelTick()
		t.cancelTick = nil
	}
}

func (t *SessionTimer) publishProgress(p float64) {
	if t.onProgress != nil {
		t.onProgress(p)
	}
}
