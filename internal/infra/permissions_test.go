package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAccessibilityGrantedWithReadableDevice(t *testing.T) {
	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "event0"), []byte{}, 0600))

	p := NewDevicePermissionsWithPaths(inputDir, filepath.Join(t.TempDir(), "marker"), zap.NewNop())
	assert.True(t, p.AccessibilityGranted())
}

func TestAccessibilityDeniedWithoutDevices(t *testing.T) {
	p := NewDevicePermissionsWithPaths(t.TempDir(), filepath.Join(t.TempDir(), "marker"), zap.NewNop())
	assert.False(t, p.AccessibilityGranted())

	p = NewDevicePermissionsWithPaths("/nonexistent/input", filepath.Join(t.TempDir(), "marker"), zap.NewNop())
	assert.False(t, p.AccessibilityGranted())
}

func TestBatteryExemptionMarker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "power_exempt")
	p := NewDevicePermissionsWithPaths(t.TempDir(), marker, zap.NewNop())

	assert.False(t, p.BatteryExemptionGranted())
	require.NoError(t, p.MarkBatteryExempt())
	assert.True(t, p.BatteryExemptionGranted())
}
