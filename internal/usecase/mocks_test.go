package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTimer records one scheduled callback.
type fakeTimer struct {
	delay    time.Duration
	fn       func()
	periodic bool
	stopped  bool
}

func (t *fakeTimer) fire() {
	if !t.stopped {
		t.fn()
	}
}

// fakeSched records timers instead of arming them; tests fire callbacks
// explicitly.
type fakeSched struct {
	timers []*fakeTimer
}

func (s *fakeSched) AfterFunc(d time.Duration, fn func()) func() {
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.stopped = true }
}

func (s *fakeSched) Every(d time.Duration, fn func()) func() {
	t := &fakeTimer{delay: d, fn: fn, periodic: true}
	s.timers = append(s.timers, t)
	return func() { t.stopped = true }
}

// activeOneShot returns the single armed non-periodic timer, or nil.
func (s *fakeSched) activeOneShot() *fakeTimer {
	var found *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.periodic {
			if found != nil {
				return nil // more than one armed
			}
			found = t
		}
	}
	return found
}

func (s *fakeSched) activeTick() *fakeTimer {
	for _, t := range s.timers {
		if !t.stopped && t.periodic {
			return t
		}
	}
	return nil
}

func (s *fakeSched) activeCount() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// memStore implements domain.SettingsStore in memory.
type memStore struct {
	data   map[string]string
	setErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Remove(key string) error {
	delete(s.data, key)
	return nil
}

func (s *memStore) Close() error { return nil }

// fakeAdSource records commands from the gate.
type fakeAdSource struct {
	available bool
	loadCalls int
	showCalls int
}

func (a *fakeAdSource) Available() bool { return a.available }
func (a *fakeAdSource) Load()           { a.loadCalls++ }
func (a *fakeAdSource) Show()           { a.showCalls++ }

// fakePerms implements domain.PermissionSource.
type fakePerms struct {
	accessibility bool
	battery       bool
	openedAccess  int
	openedBattery int
}

func (p *fakePerms) AccessibilityGranted() bool    { return p.accessibility }
func (p *fakePerms) BatteryExemptionGranted() bool { return p.battery }
func (p *fakePerms) OpenAccessibilitySettings()    { p.openedAccess++ }
func (p *fakePerms) OpenBatterySettings()          { p.openedBattery++ }

// fakeLauncher records launched app ids.
type fakeLauncher struct {
	launched []string
}

func (l *fakeLauncher) Launch(appID string) { l.launched = append(l.launched, appID) }

// fakeNotifier records notices and prompts.
type fakeNotifier struct {
	notices []string
	prompts []domain.PermissionKind
}

func (n *fakeNotifier) Notice(text string) { n.notices = append(n.notices, text) }

func (n *fakeNotifier) PromptPermission(kind domain.PermissionKind) {
	n.prompts = append(n.prompts, kind)
}

func (n *fakeNotifier) lastPrompt() domain.PermissionKind {
	if len(n.prompts) == 0 {
		return ""
	}
	return n.prompts[len(n.prompts)-1]
}

// fakeEntClient implements domain.EntitlementClient.
type fakeEntClient struct {
	active     []string
	queryErr   error
	purchased  []string
	restoreErr error
}

func (c *fakeEntClient) ActiveEntitlements(ctx context.Context) ([]string, error) {
	return c.active, c.queryErr
}

func (c *fakeEntClient) Purchase(ctx context.Context, productID string) ([]string, error) {
	c.purchased = append(c.purchased, productID)
	return c.active, c.queryErr
}

func (c *fakeEntClient) Restore(ctx context.Context) ([]string, error) {
	return c.active, c.restoreErr
}
