package infra

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// DesktopCatalog implements domain.AppCatalog by scanning freedesktop
// .desktop entries. The app id is the desktop file name without the
// extension (e.g. "org.gnome.Calculator").
type DesktopCatalog struct {
	dirs []string
}

// NewDesktopCatalog creates a catalog over the standard application
// directories plus the user's local entries.
func NewDesktopCatalog() *DesktopCatalog {
	dirs := []string{
		"/usr/share/applications",
		"/usr/local/share/applications",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local/share/applications"))
	}
	return &DesktopCatalog{dirs: dirs}
}

// NewDesktopCatalogWithDirs creates a catalog over specific directories (for testing).
func NewDesktopCatalogWithDirs(dirs []string) *DesktopCatalog {
	return &DesktopCatalog{dirs: dirs}
}

// List returns launchable apps sorted by label. Entries marked Hidden or
// NoDisplay are skipped; later directories override earlier ones so user
// entries win.
func (c *DesktopCatalog) List() ([]domain.AppInfo, error) {
	byID := make(map[string]domain.AppInfo)
	readable := false

	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		readable = true

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".desktop") {
				continue
			}
			app, ok := parseDesktopEntry(filepath.Join(dir, entry.Name()))
			if !ok {
				continue
			}
			byID[app.ID] = app
		}
	}

	if !readable {
		return nil, fmt.Errorf("no application directory readable: %w", domain.ErrCatalogUnavailable)
	}

	apps := make([]domain.AppInfo, 0, len(byID))
	for _, app := range byID {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Label < apps[j].Label })
	return apps, nil
}

// Contains reports whether an app id resolves to a desktop entry.
func (c *DesktopCatalog) Contains(appID string) bool {
	return c.EntryPath(appID) != ""
}

// EntryPath returns the .desktop file path for an app id, or "" when the
// id is unknown. Later directories win, matching List.
func (c *DesktopCatalog) EntryPath(appID string) string {
	found := ""
	for _, dir := range c.dirs {
		path := filepath.Join(dir, appID+".desktop")
		if _, err := os.Stat(path); err == nil {
			found = path
		}
	}
	return found
}

// parseDesktopEntry extracts id, label and icon from one .desktop file.
func parseDesktopEntry(path string) (domain.AppInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return domain.AppInfo{}, false
	}
	defer f.Close()

	app := domain.AppInfo{
		ID: strings.TrimSuffix(filepath.Base(path), ".desktop"),
	}
	inEntry := false
	isApp := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "[Desktop Entry]":
			inEntry = true
			continue
		case strings.HasPrefix(line, "["):
			// Another group; the main entry is done.
			inEntry = false
			continue
		}
		if !inEntry {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Type":
			isApp = value == "Application"
		case "Name":
			if app.Label == "" {
				app.Label = value
			}
		case "Icon":
			app.Icon = value
		case "NoDisplay", "Hidden":
			if value == "true" {
				return domain.AppInfo{}, false
			}
		}
	}

	if !isApp || app.Label == "" {
		return domain.AppInfo{}, false
	}
	return app, true
}

// ExecLauncher implements domain.AppLauncher via gtk-launch. Launching is
// fire-and-forget; unknown ids silently no-op. A target that is already
// running is not spawned a second time.
type ExecLauncher struct {
	catalog *DesktopCatalog
	pm      domain.ProcessManager
	logger  *zap.Logger
	runCmd  func(name string, args ...string) error
}

// NewExecLauncher creates a launcher over the given catalog.
func NewExecLauncher(catalog *DesktopCatalog, pm domain.ProcessManager, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{
		catalog: catalog,
		pm:      pm,
		logger:  logger,
		runCmd:  startDetached,
	}
}

// Launch starts the application for appID.
func (l *ExecLauncher) Launch(appID string) {
	if appID == "" || !l.catalog.Contains(appID) {
		l.logger.Debug("launch skipped, app not launchable", zap.String("app", appID))
		return
	}

	// Most desktop apps are single-instance; a second spawn would open a
	// duplicate window instead of focusing the existing one.
	if pids, err := l.pm.FindByName(processNameForApp(appID)); err == nil && len(pids) > 0 {
		l.logger.Debug("target already running", zap.String("app", appID), zap.Int("pid", pids[0]))
		return
	}

	if err := l.runCmd("gtk-launch", appID); err != nil {
		// gtk-launch may be absent on non-GTK desktops.
		l.logger.Debug("gtk-launch failed, falling back", zap.String("app", appID), zap.Error(err))
		if err := l.runCmd("xdg-open", l.catalog.EntryPath(appID)); err != nil {
			l.logger.Warn("launch failed", zap.String("app", appID), zap.Error(err))
			return
		}
	}
	l.logger.Info("launched target", zap.String("app", appID))
}

// processNameForApp guesses the process name from a reverse-DNS app id:
// the last component, lowercased ("org.gnome.Calculator" -> "calculator").
func processNameForApp(appID string) string {
	if i := strings.LastIndex(appID, "."); i >= 0 {
		return strings.ToLower(appID[i+1:])
	}
	return strings.ToLower(appID)
}

// Ensure interfaces are implemented.
var (
	_ domain.AppCatalog  = (*DesktopCatalog)(nil)
	_ domain.AppLauncher = (*ExecLauncher)(nil)
)
