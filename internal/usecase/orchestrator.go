package usecase

import (
	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// User-facing notice texts.
const (
	msgChooseTarget  = "Choose a target application first."
	msgAdUnavailable = "Ads are unavailable right now. Please try again later."
	msgAdLoading     = "Loading ad, one moment please."
	msgAdFailed      = "The ad could not be shown. Please try again."
	msgSaved         = "Settings saved."
	msgSaveFailed    = "Settings could not be written to disk."
	msgSessionEnded  = "Your free session has ended."
)

// Orchestrator is the core state machine. It receives user intents and
// external facts, and is the only component that mutates the externally
// observable enabled state. Every failure branch degrades to disabled or
// no-op plus a dismissible notice; nothing here is fatal.
//
// All methods run on the runtime event loop, so transitions execute to
// completion before the next event is processed.
type Orchestrator struct {
	store    domain.SettingsStore
	gate     *AdGate
	timer    *SessionTimer
	oracle   *EntitlementOracle
	perms    domain.PermissionSource
	launcher domain.AppLauncher
	notifier domain.Notifier
	logger   *zap.Logger

	settings domain.Settings
	progress float64

	subscribers  []func(domain.FeatureState)
	onSessionEnd func()
}

// NewOrchestrator wires the core components together and registers the
// gate/timer/oracle callbacks.
func NewOrchestrator(
	store domain.SettingsStore,
	gate *AdGate,
	timer *SessionTimer,
	oracle *EntitlementOracle,
	perms domain.PermissionSource,
	launcher domain.AppLauncher,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		gate:     gate,
		timer:    timer,
		oracle:   oracle,
		perms:    perms,
		launcher: launcher,
		notifier: notifier,
		logger:   logger,
	}

	gate.OnCommit(o.onGateCommit)
	gate.OnFail(o.onGateFail)
	timer.OnExpire(o.onSessionExpired)
	timer.OnProgress(o.onProgress)
	oracle.OnChange(o.onPremiumChanged)

	return o
}

// Subscribe registers an observer of the feature state snapshot. The
// current state is pushed immediately.
func (o *Orchestrator) Subscribe(fn func(domain.FeatureState)) {
	o.subscribers = append(o.subscribers, fn)
	fn(o.State())
}

// OnSessionEnd registers a hook fired on natural expiry, so the UI shell
// can tear down any overlays that are mid-animation.
func (o *Orchestrator) OnSessionEnd(fn func()) { o.onSessionEnd = fn }

// State builds the externally observable snapshot.
func (o *Orchestrator) State() domain.FeatureState {
	st := domain.FeatureState{
		TargetAppID: o.settings.TargetAppID,
		Premium:     o.oracle.IsPremium(),
	}
	switch {
	case !o.settings.Enabled:
		st.Mode = domain.ModeDisabled
	case o.oracle.IsPremium():
		st.Mode = domain.ModeEnabledPremium
	default:
		st.Mode = domain.ModeEnabledSession
		st.Progress = o.progress
		st.SessionStartedAt = o.timer.StartedAt()
	}
	return st
}

// SelectTarget records the chosen target application. Not persisted until
// the next save or enable.
func (o *Orchestrator) SelectTarget(appID string) {
	o.settings.TargetAppID = appID
	o.publish()
}

// ToggleEnable handles the user's enable action. A second toggle while
// enabled is a disable request.
func (o *Orchestrator) ToggleEnable() {
	o.toggleEnable(false)
}

func (o *Orchestrator) toggleEnable(skipBatteryPrompt bool) {
	if o.settings.TargetAppID == "" {
		o.logger.Debug("enable rejected", zap.Error(domain.ErrNoTargetSelected))
		o.notifier.Notice(msgChooseTarget)
		return
	}

	if o.settings.Enabled {
		o.disable()
		return
	}

	if !o.perms.AccessibilityGranted() {
		o.logger.Info("enable blocked, accessibility not granted")
		o.notifier.PromptPermission(domain.PermissionAccessibility)
		return
	}

	if !o.perms.BatteryExemptionGranted() && !skipBatteryPrompt && !o.batteryPromptDismissed() {
		o.logger.Info("enable paused, battery exemption prompt")
		o.notifier.PromptPermission(domain.PermissionBattery)
		return
	}

	if o.oracle.IsPremium() {
		o.settings.Enabled = true
		o.persistSettings()
		o.logger.Info("enabled (premium, no session)")
		o.publish()
		return
	}

	if startedAt, ok := o.timer.PersistedStart(); ok {
		if o.timer.Resume(startedAt) {
			o.settings.Enabled = true
			o.persistSettings()
			o.logger.Info("enabled, resumed persisted session")
			o.publish()
			return
		}
		// Resume triggered expiry; fall through to a fresh, ad-gated start.
	}

	wasReady := o.gate.AdReady()
	if err := o.gate.Request(domain.IntentStartSession); err != nil {
		o.logger.Warn("ad gate request failed", zap.Error(err))
		o.notifier.Notice(msgAdUnavailable)
		return
	}
	if !wasReady {
		o.notifier.Notice(msgAdLoading)
	}
}

// Save persists the current target/enabled choice. Free users pass the ad
// gate first; premium users save synchronously.
func (o *Orchestrator) Save() {
	if o.settings.TargetAppID == "" {
		o.notifier.Notice(msgChooseTarget)
		return
	}

	if o.oracle.IsPremium() {
		if o.persistSettings() {
			o.notifier.Notice(msgSaved)
		}
		return
	}

	wasReady := o.gate.AdReady()
	if err := o.gate.Request(domain.IntentSaveSettings); err != nil {
		o.logger.Warn("ad gate request failed", zap.Error(err))
		o.notifier.Notice(msgAdUnavailable)
		return
	}
	if !wasReady {
		o.notifier.Notice(msgAdLoading)
	}
}

// HandleVolumeDown reacts to the hardware trigger: launch the target when
// enabled. This path is never ad-gated.
func (o *Orchestrator) HandleVolumeDown() {
	if !o.settings.Enabled || o.settings.TargetAppID == "" {
		return
	}
	o.logger.Debug("volume trigger", zap.String("target", o.settings.TargetAppID))
	o.launcher.Launch(o.settings.TargetAppID)
}

// HandlePromptResult folds the user's answer to a permission prompt back
// into the state machine.
func (o *Orchestrator) HandlePromptResult(kind domain.PermissionKind, choice string) {
	switch kind {
	case domain.PermissionAccessibility:
		if choice == domain.ChoiceOpenSettings {
			o.perms.OpenAccessibilitySettings()
		}
	case domain.PermissionBattery:
		switch choice {
		case domain.ChoiceDontAskAgain:
			if err := o.store.Set(domain.KeyBatteryDismissed, "1"); err != nil {
				o.logger.Warn("failed to persist battery prompt dismissal", zap.Error(err))
			}
			// The dismissal click itself completes the action the user
			// wanted: re-run the enable once, bypassing this one check.
			o.toggleEnable(true)
		case domain.ChoiceOpenSettings:
			o.perms.OpenBatterySettings()
		}
	}
}

// Rehydrate restores state after process restart. A persisted enabled flag
// resumes the session (or silently re-sessions without an ad, since a
// restart is not a new user action); premium users come back enabled with
// no session.
func (o *Orchestrator) Rehydrate() {
	if raw, ok, err := o.store.Get(domain.KeyTargetApp); err == nil && ok {
		o.settings.TargetAppID = raw
	}
	enabled := false
	if raw, ok, err := o.store.Get(domain.KeyEnabled); err == nil && ok {
		enabled = raw == "1"
	}

	if !enabled || o.settings.TargetAppID == "" {
		o.settings.Enabled = false
		o.timer.Clear()
		o.publish()
		return
	}

	if o.oracle.IsPremium() {
		o.settings.Enabled = true
		o.logger.Info("rehydrated enabled (premium)")
		o.publish()
		return
	}

	if startedAt, ok := o.timer.PersistedStart(); ok && o.timer.Resume(startedAt) {
		o.settings.Enabled = true
		o.persistSettings()
		o.logger.Info("rehydrated, session resumed")
		o.publish()
		return
	}

	// Persisted session was absent or spent: start a fresh one silently.
	o.settings.Enabled = true
	if err := o.timer.Start(); err != nil {
		o.logger.Warn("session start persisted partially", zap.Error(err))
	}
	o.persistSettings()
	o.logger.Info("rehydrated, fresh session without ad")
	o.publish()
}

// Teardown releases timers and pending gate work on shutdown.
func (o *Orchestrator) Teardown() {
	o.timer.Stop()
	o.gate.Teardown()
}

// disable is the single transition out of the enabled modes.
func (o *Orchestrator) disable() {
	o.timer.Clear()
	o.settings.Enabled = false
	o.persistSettings()
	o.logger.Info("disabled")
	o.publish()
}

// onGateCommit executes the action that waited behind the ad.
func (o *Orchestrator) onGateCommit(intent domain.GateIntent) {
	switch intent {
	case domain.IntentSaveSettings:
		if o.persistSettings() {
			o.notifier.Notice(msgSaved)
		}
		o.publish()
	case domain.IntentStartSession:
		o.settings.Enabled = true
		if err := o.timer.Start(); err != nil {
			o.logger.Warn("session start persisted partially", zap.Error(err))
		}
		o.persistSettings()
		o.publish()
	}
}

// onGateFail surfaces a discarded intent. The user's original action is
// not retried: ad failure is a hard abort, tap again.
func (o *Orchestrator) onGateFail(intent domain.GateIntent, err error) {
	o.logger.Warn("gated action aborted",
		zap.String("intent", intent.String()),
		zap.Error(err))
	o.notifier.Notice(msgAdFailed)
}

// onSessionExpired is the forced Enabled-Session -> Disabled transition.
func (o *Orchestrator) onSessionExpired() {
	o.settings.Enabled = false
	o.persistSettings()
	o.notifier.Notice(msgSessionEnded)
	o.publish()
	if o.onSessionEnd != nil {
		o.onSessionEnd()
	}
}

func (o *Orchestrator) onProgress(p float64) {
	o.progress = p
	o.publish()
}

// onPremiumChanged reacts to an entitlement upgrade: premium users never
// have a session, so any running one is released.
func (o *Orchestrator) onPremiumChanged(premium bool) {
	if premium && o.timer.Active() {
		o.timer.Clear()
		o.progress = 0
	}
	o.publish()
}

// persistSettings writes target and enabled flag. A failed write keeps the
// in-memory state (optimistic): the user just pressed a button, the
// feature stays responsive, the failure is logged and surfaced.
func (o *Orchestrator) persistSettings() bool {
	var failed bool
	if err := o.store.Set(domain.KeyTargetApp, o.settings.TargetAppID); err != nil {
		failed = true
		o.logger.Error("settings write failed",
			zap.String("key", domain.KeyTargetApp), zap.Error(err))
	}
	enabled := "0"
	if o.settings.Enabled {
		enabled = "1"
	}
	if err := o.store.Set(domain.KeyEnabled, enabled); err != nil {
		failed = true
		o.logger.Error("settings write failed",
			zap.String("key", domain.KeyEnabled), zap.Error(err))
	}
	if failed {
		o.notifier.Notice(msgSaveFailed)
	}
	return !failed
}

func (o *Orchestrator) batteryPromptDismissed() bool {
	raw, ok, err := o.store.Get(domain.KeyBatteryDismissed)
	return err == nil && ok && raw == "1"
}

func (o *Orchestrator) publish() {
	st := o.State()
	for _, fn := range o.subscribers {
		fn(st)
	}
}
