package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const registryFileName = "instance.json"

// FileInstanceRegistry implements domain.InstanceRegistry using a JSON
// file in the data directory. CLI commands (status, apps) read it to find
// the running daemon; a second daemon refuses to start when the recorded
// PID is alive.
type FileInstanceRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileInstanceRegistry creates a registry under dataDir.
func NewFileInstanceRegistry(dataDir string, pm domain.ProcessManager) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:           filepath.Join(dataDir, registryFileName),
		processManager: pm,
	}
}

// NewFileInstanceRegistryWithPath creates a registry at a specific path (for testing).
func NewFileInstanceRegistryWithPath(path string, pm domain.ProcessManager) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:           path,
		processManager: pm,
	}
}

// Register saves the current instance. A file lock guards against a race
// with a concurrently starting second instance.
func (r *FileInstanceRegistry) Register(inst domain.Instance) error {
	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if existing, err := r.Current(); err == nil && existing != nil &&
		existing.PID != inst.PID && r.processManager.IsRunning(existing.PID) {
		return fmt.Errorf("another instance is running (pid %d)", existing.PID)
	}

	now := time.Now().Unix()
	inst.StartedAt = now
	inst.LastHeartbeat = now
	return r.atomicWrite(&inst)
}

// Current returns the registered instance, or nil when none exists.
func (r *FileInstanceRegistry) Current() (*domain.Instance, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// UpdateHeartbeat refreshes the liveness timestamp.
func (r *FileInstanceRegistry) UpdateHeartbeat() error {
	inst, err := r.Current()
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("no instance registered")
	}

	inst.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(inst)
}

// IsAlive reports whether the registered instance is still running.
func (r *FileInstanceRegistry) IsAlive() (bool, error) {
	inst, err := r.Current()
	if err != nil || inst == nil {
		return false, err
	}
	return r.processManager.IsRunning(inst.PID), nil
}

// Clear removes the registration.
func (r *FileInstanceRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWrite writes the instance record atomically (write + rename).
func (r *FileInstanceRegistry) atomicWrite(inst *domain.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileInstanceRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileInstanceRegistry)(nil)
