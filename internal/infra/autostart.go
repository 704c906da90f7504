package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const unitName = "switchd.service"

// systemd user unit template
const unitTemplate = `[Unit]
Description=Volume-key app switching daemon

[Service]
ExecStart={{.ExecutablePath}} run
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`

type unitConfig struct {
	ExecutablePath string
}

// SystemdManager implements domain.AutostartManager with a systemd user
// unit, so the daemon starts on login without root.
type SystemdManager struct {
	unitDir  string
	unitPath string
	runCtl   func(args ...string) error
}

// NewSystemdManager creates an autostart manager over the user unit
// directory (~/.config/systemd/user).
func NewSystemdManager() *SystemdManager {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config/systemd/user")

	return &SystemdManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitName),
		runCtl:   runSystemctlUser,
	}
}

// NewSystemdManagerWithDir creates a manager over a specific unit directory (for testing).
func NewSystemdManagerWithDir(unitDir string) *SystemdManager {
	return &SystemdManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitName),
		runCtl:   func(...string) error { return nil },
	}
}

// generateUnitContent renders the unit file for the given exec path.
func (m *SystemdManager) generateUnitContent(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitConfig{ExecutablePath: execPath}); err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit file and enables it.
func (m *SystemdManager) Install(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return err
	}

	content, err := m.generateUnitContent(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return err
	}

	if err := m.runCtl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	return m.runCtl("enable", "--now", unitName)
}

// Uninstall disables the unit and removes the file.
func (m *SystemdManager) Uninstall() error {
	// Ignore errors if the unit is not loaded
	_ = m.runCtl("disable", "--now", unitName)

	err := os.Remove(m.unitPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsInstalled reports whether the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate reports whether the installed unit differs from what would
// be generated for execPath.
func (m *SystemdManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}

	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.generateUnitContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// UnitPath returns the unit file path.
func (m *SystemdManager) UnitPath() string {
	return m.unitPath
}

func runSystemctlUser(args ...string) error {
	return exec.Command("systemctl", append([]string{"--user"}, args...)...).Run()
}

// Ensure SystemdManager implements domain.AutostartManager.
var _ domain.AutostartManager = (*SystemdManager)(nil)
