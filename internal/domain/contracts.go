package domain

import "context"

// SettingsStore is a durable key/value store surviving process restarts.
// Last-write-wins; no transactional guarantees.
type SettingsStore interface {
	// Get returns the stored value and whether the key was present.
	Get(key string) (string, bool, error)

	// Set stores a value durably.
	Set(key, value string) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(key string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// AdSource is the opaque interstitial ad slot. Lifecycle events (loaded,
// closed, error) arrive separately through the event loop; this interface
// only carries commands toward the SDK.
type AdSource interface {
	// Available reports whether the ad SDK is reachable at all.
	// False means a gate request must fail immediately.
	Available() bool

	// Load requests the next interstitial impression.
	Load()

	// Show presents the loaded interstitial.
	Show()
}

// EntitlementClient answers subscription queries against the purchase
// platform. All calls may block on the network.
type EntitlementClient interface {
	// ActiveEntitlements returns the entitlement ids currently active.
	ActiveEntitlements(ctx context.Context) ([]string, error)

	// Purchase starts a purchase of the given product and returns the
	// active entitlements afterwards.
	Purchase(ctx context.Context, productID string) ([]string, error)

	// Restore replays past purchases and returns the active entitlements.
	Restore(ctx context.Context) ([]string, error)
}

// PermissionSource exposes OS permission state as thin boolean checks.
type PermissionSource interface {
	// AccessibilityGranted reports whether key interception is permitted.
	AccessibilityGranted() bool

	// BatteryExemptionGranted reports whether the process is exempt from
	// power optimization.
	BatteryExemptionGranted() bool

	// OpenAccessibilitySettings navigates the user to the OS page where
	// the accessibility grant can be given.
	OpenAccessibilitySettings()

	// OpenBatterySettings navigates to the power optimization page.
	OpenBatterySettings()
}

// AppCatalog enumerates launchable applications.
type AppCatalog interface {
	// List returns launchable apps sorted by label.
	// Returns ErrCatalogUnavailable when the OS denies the query.
	List() ([]AppInfo, error)
}

// AppLauncher starts another application. Fire-and-forget: launching an
// unknown id silently no-ops.
type AppLauncher interface {
	Launch(appID string)
}

// Notifier surfaces transient, dismissible notices and permission prompts
// to the user. Nothing here is fatal.
type Notifier interface {
	// Notice shows a short dismissible message.
	Notice(text string)

	// PromptPermission asks for a permission with the standard two
	// choices for its kind. The answer arrives later as a prompt result
	// event; no state changes until then.
	PromptPermission(kind PermissionKind)
}

// InstanceRegistry tracks the running daemon instance so CLI commands
// can find it and a second instance can refuse to start.
type InstanceRegistry interface {
	// Register records the current process as the running instance.
	Register(inst Instance) error

	// Current returns the registered instance, or nil when none exists.
	Current() (*Instance, error)

	// UpdateHeartbeat refreshes the liveness timestamp.
	UpdateHeartbeat() error

	// IsAlive reports whether the registered instance is still running.
	IsAlive() (bool, error)

	// Clear removes the registration.
	Clear() error
}

// AutostartManager installs the daemon to start on login.
type AutostartManager interface {
	// Install writes and enables the autostart entry for execPath.
	Install(execPath string) error

	// Uninstall disables and removes the autostart entry.
	Uninstall() error

	// IsInstalled reports whether an autostart entry exists.
	IsInstalled() bool
}

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}
