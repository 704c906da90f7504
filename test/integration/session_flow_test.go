//go:build integration

package integration

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
	"github.com/hyunsoo-dev/switchd/internal/infra"
	"github.com/hyunsoo-dev/switchd/internal/usecase"
)

// manualClock is an adjustable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTimer is one armed timer in the manual scheduler.
type manualTimer struct {
	delay    time.Duration
	fn       func()
	periodic bool
	stopped  bool
}

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := &manualTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.stopped = true }
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	t := &manualTimer{delay: d, fn: fn, periodic: true}
	s.timers = append(s.timers, t)
	return func() { t.stopped = true }
}

// fireExpiry fires the single armed one-shot timer.
func (s *manualScheduler) fireExpiry() {
	for _, t := range s.timers {
		if !t.periodic && !t.stopped {
			t.stopped = true
			t.fn()
			return
		}
	}
	Fail("no armed one-shot timer")
}

// fakeShell stands in for the UI shell: ad slot plus notices.
type fakeShell struct {
	available bool
	loads     int
	shows     int
	notices   []string
	prompts   []domain.PermissionKind
}

func (f *fakeShell) Available() bool { return f.available }
func (f *fakeShell) Load()           { f.loads++ }
func (f *fakeShell) Show()           { f.shows++ }

func (f *fakeShell) Notice(text string) { f.notices = append(f.notices, text) }
func (f *fakeShell) PromptPermission(kind domain.PermissionKind) {
	f.prompts = append(f.prompts, kind)
}

type fakeLauncher struct {
	launched []string
}

func (f *fakeLauncher) Launch(appID string) { f.launched = append(f.launched, appID) }

type grantedPerms struct{}

func (grantedPerms) AccessibilityGranted() bool    { return true }
func (grantedPerms) BatteryExemptionGranted() bool { return true }
func (grantedPerms) OpenAccessibilitySettings()    {}
func (grantedPerms) OpenBatterySettings()          {}

// stack bundles one fully-wired core over a real file-backed store.
type stack struct {
	store    domain.SettingsStore
	sched    *manualScheduler
	clock    *manualClock
	shell    *fakeShell
	launcher *fakeLauncher
	gate     *usecase.AdGate
	timer    *usecase.SessionTimer
	orch     *usecase.Orchestrator
}

func buildStack(dataDir string, clock *manualClock) *stack {
	store, err := infra.NewFileStore(dataDir)
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	sched := &manualScheduler{}
	shell := &fakeShell{available: true}
	launcher := &fakeLauncher{}

	gate := usecase.NewAdGate(shell, sched, logger)
	timer := usecase.NewSessionTimer(store, sched, clock.Now, time.Hour, logger)
	oracle := usecase.NewEntitlementOracle(nil, store, logger)
	oracle.Bootstrap()
	orch := usecase.NewOrchestrator(store, gate, timer, oracle,
		grantedPerms{}, launcher, shell, logger)

	return &stack{
		store:    store,
		sched:    sched,
		clock:    clock,
		shell:    shell,
		launcher: launcher,
		gate:     gate,
		timer:    timer,
		orch:     orch,
	}
}

var _ = Describe("Session lifecycle", func() {
	var (
		dataDir string
		clock   *manualClock
		s       *stack
	)

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		clock = &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		s = buildStack(dataDir, clock)
	})

	completeAdCycle := func() {
		s.gate.OnLoaded()
		s.gate.OnClosed()
	}

	Describe("enabling as a free user", func() {
		It("starts a session only after the ad closes", func() {
			s.orch.SelectTarget("org.gnome.Maps")
			s.orch.ToggleEnable()

			Expect(s.shell.loads).To(BeNumerically(">=", 1))
			Expect(s.orch.State().Enabled()).To(BeFalse())

			completeAdCycle()

			st := s.orch.State()
			Expect(st.Enabled()).To(BeTrue())
			Expect(st.Mode).To(Equal(domain.ModeEnabledSession))

			_, ok, err := s.store.Get(domain.KeySessionStartAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("launches the target on volume-down only while enabled", func() {
			s.orch.SelectTarget("org.gnome.Maps")

			s.orch.HandleVolumeDown()
			Expect(s.launcher.launched).To(BeEmpty())

			s.orch.ToggleEnable()
			completeAdCycle()

			s.orch.HandleVolumeDown()
			s.orch.HandleVolumeDown()
			Expect(s.launcher.launched).To(Equal([]string{"org.gnome.Maps", "org.gnome.Maps"}))

			// Key presses never consume the ad slot.
			Expect(s.shell.shows).To(Equal(1))
		})

		It("disables and clears the persisted session on expiry", func() {
			s.orch.SelectTarget("org.gnome.Maps")
			s.orch.ToggleEnable()
			completeAdCycle()

			clock.Advance(time.Hour)
			s.sched.fireExpiry()

			Expect(s.orch.State().Enabled()).To(BeFalse())
			_, ok, _ := s.store.Get(domain.KeySessionStartAt)
			Expect(ok).To(BeFalse())

			s.orch.HandleVolumeDown()
			Expect(s.launcher.launched).To(BeEmpty())
		})
	})

	Describe("restarting the daemon", func() {
		It("resumes a half-spent session without a new ad", func() {
			s.orch.SelectTarget("org.gnome.Maps")
			s.orch.ToggleEnable()
			completeAdCycle()
			showsBefore := s.shell.shows

			// Same store, fresh components: a daemon restart 30 minutes in.
			clock.Advance(30 * time.Minute)
			s2 := buildStack(dataDir, clock)
			s2.orch.Rehydrate()

			st := s2.orch.State()
			Expect(st.Enabled()).To(BeTrue())
			Expect(st.Progress).To(BeNumerically("~", 0.5, 0.01))
			Expect(s2.shell.shows).To(Equal(0))
			Expect(s.shell.shows).To(Equal(showsBefore))
		})

		It("re-enters a fresh silent session when the old one expired offline", func() {
			s.orch.SelectTarget("org.gnome.Maps")
			s.orch.ToggleEnable()
			completeAdCycle()

			clock.Advance(2 * time.Hour)
			s2 := buildStack(dataDir, clock)
			s2.orch.Rehydrate()

			st := s2.orch.State()
			Expect(st.Enabled()).To(BeTrue())
			Expect(st.Mode).To(Equal(domain.ModeEnabledSession))
			Expect(st.Progress).To(BeNumerically("~", 0.0, 0.01))
			Expect(s2.shell.shows).To(Equal(0))
		})
	})

	Describe("premium users", func() {
		BeforeEach(func() {
			Expect(s.store.Set(domain.KeyPremiumCache, "1")).To(Succeed())
			s = buildStack(dataDir, clock)
		})

		It("enables without ads or a session clock", func() {
			s.orch.SelectTarget("org.gnome.Maps")
			s.orch.ToggleEnable()

			st := s.orch.State()
			Expect(st.Enabled()).To(BeTrue())
			Expect(st.Mode).To(Equal(domain.ModeEnabledPremium))
			Expect(s.shell.loads).To(Equal(0))

			_, ok, _ := s.store.Get(domain.KeySessionStartAt)
			Expect(ok).To(BeFalse())
		})
	})
})
