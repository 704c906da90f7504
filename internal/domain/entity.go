// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

const (
	// SessionDuration is the time-boxed access grant for non-premium users.
	SessionDuration = time.Hour

	// SessionTick is how often session progress is republished.
	SessionTick = time.Second
)

// Persisted settings keys. The SWITCHING_ prefix is kept for compatibility
// with settings written by earlier releases.
const (
	KeyTargetApp        = "SWITCHING_TARGET_PACKAGE"
	KeyEnabled          = "SWITCHING_IS_ENABLED"
	KeySessionStartAt   = "SWITCHING_SESSION_START_AT"
	KeyPremiumCache     = "SWITCHING_IS_PREMIUM"
	KeyBatteryDismissed = "SWITCHING_BATTERY_PROMPT_DISMISSED"
)

const (
	// EntitlementPro is the entitlement id that grants unlimited, ad-free use.
	EntitlementPro = "pro"

	// ProductMonthlySub is the subscription product backing EntitlementPro.
	ProductMonthlySub = "monthly_sub"
)

// Settings is the user-visible configuration owned by the orchestrator.
// Invariant: Enabled implies TargetAppID != "".
type Settings struct {
	TargetAppID string
	Enabled     bool
}

// AppInfo describes one launchable application from the catalog.
type AppInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

// FeatureMode is the top-level state of the switching feature.
type FeatureMode int

const (
	ModeDisabled FeatureMode = iota
	ModeEnabledPremium
	ModeEnabledSession
)

func (m FeatureMode) String() string {
	switch m {
	case ModeEnabledPremium:
		return "enabled-premium"
	case ModeEnabledSession:
		return "enabled-session"
	default:
		return "disabled"
	}
}

// FeatureState is the externally observable snapshot published to the UI
// shell. Only the orchestrator mutates it.
type FeatureState struct {
	Mode             FeatureMode
	TargetAppID      string
	Premium          bool
	Progress         float64
	SessionStartedAt time.Time
}

// Enabled reports whether volume-key interception is armed.
func (s FeatureState) Enabled() bool { return s.Mode != ModeDisabled }

// GateIntent tags the action waiting behind the ad gate.
type GateIntent int

const (
	IntentNone GateIntent = iota
	IntentSaveSettings
	IntentStartSession
)

func (i GateIntent) String() string {
	switch i {
	case IntentSaveSettings:
		return "save-settings"
	case IntentStartSession:
		return "start-session"
	default:
		return "none"
	}
}

// PermissionKind identifies an OS permission the feature depends on.
type PermissionKind string

const (
	PermissionAccessibility PermissionKind = "accessibility"
	PermissionBattery       PermissionKind = "battery"
)

// Prompt choices sent back by the UI shell.
const (
	ChoiceLater        = "later"
	ChoiceOpenSettings = "open_settings"
	ChoiceDontAskAgain = "dont_ask_again"
)

// Instance describes the running daemon recorded in the instance registry.
type Instance struct {
	PID           int    `json:"pid"`
	Version       string `json:"version"`
	BridgeAddr    string `json:"bridge_addr"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}
