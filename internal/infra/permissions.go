package infra

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const (
	defaultInputDir   = "/dev/input"
	batteryMarkerName = "power_exempt"
)

// DevicePermissions implements domain.PermissionSource.
//
// Accessibility maps to read access on the input device directory, which
// is what volume-key interception actually needs (the daemon's user must
// be in the input group). The power exemption has no OS query on desktop
// Linux, so it is modeled as a marker file dropped once the user has
// confirmed their power settings.
type DevicePermissions struct {
	inputDir   string
	markerPath string
	logger     *zap.Logger
	openPanel  func(panel string)
}

// NewDevicePermissions creates a permission source over /dev/input and a
// marker file in dataDir.
func NewDevicePermissions(dataDir string, logger *zap.Logger) *DevicePermissions {
	p := &DevicePermissions{
		inputDir:   defaultInputDir,
		markerPath: filepath.Join(dataDir, batteryMarkerName),
		logger:     logger,
	}
	p.openPanel = p.OpenDesktopPanel
	return p
}

// SetPanelOpener overrides how a settings panel is opened. The runtime
// delegates this to the shell when one is connected.
func (p *DevicePermissions) SetPanelOpener(fn func(panel string)) {
	if fn != nil {
		p.openPanel = fn
	}
}

// NewDevicePermissionsWithPaths creates a permission source over specific
// paths (for testing).
func NewDevicePermissionsWithPaths(inputDir, markerPath string, logger *zap.Logger) *DevicePermissions {
	p := &DevicePermissions{
		inputDir:   inputDir,
		markerPath: markerPath,
		logger:     logger,
	}
	p.openPanel = func(string) {}
	return p
}

// AccessibilityGranted reports whether input devices are readable.
func (p *DevicePermissions) AccessibilityGranted() bool {
	entries, err := os.ReadDir(p.inputDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		f, err := os.Open(filepath.Join(p.inputDir, entry.Name()))
		if err != nil {
			continue
		}
		f.Close()
		return true
	}
	return false
}

// BatteryExemptionGranted reports whether the user confirmed their power
// settings. Recorded locally; there is nothing to query.
func (p *DevicePermissions) BatteryExemptionGranted() bool {
	_, err := os.Stat(p.markerPath)
	return err == nil
}

// MarkBatteryExempt records the exemption as granted.
func (p *DevicePermissions) MarkBatteryExempt() error {
	if err := os.MkdirAll(filepath.Dir(p.markerPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(p.markerPath, []byte("1"), 0600)
}

// OpenAccessibilitySettings opens the OS page for the input grant.
func (p *DevicePermissions) OpenAccessibilitySettings() {
	p.logger.Info("opening accessibility settings")
	p.openPanel("universal-access")
}

// OpenBatterySettings opens the power settings page.
func (p *DevicePermissions) OpenBatterySettings() {
	p.logger.Info("opening power settings")
	p.openPanel("power")
}

// OpenDesktopPanel launches the desktop settings app directly.
func (p *DevicePermissions) OpenDesktopPanel(panel string) {
	if err := startDetached("gnome-control-center", panel); err != nil {
		p.logger.Warn("failed to open settings panel",
			zap.String("panel", panel), zap.Error(err))
	}
}

// Ensure DevicePermissions implements domain.PermissionSource.
var _ domain.PermissionSource = (*DevicePermissions)(nil)
