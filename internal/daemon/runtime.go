// Package daemon wires the components together and runs the event loop.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/bridge"
	"github.com/hyunsoo-dev/switchd/internal/config"
	"github.com/hyunsoo-dev/switchd/internal/domain"
	"github.com/hyunsoo-dev/switchd/internal/infra"
	"github.com/hyunsoo-dev/switchd/internal/usecase"
)

const (
	heartbeatInterval = 30 * time.Second
	eventQueueSize    = 256
)

// Runtime owns the event loop. Every state mutation in usecase code runs
// on this loop; goroutines (bridge pumps, network calls, timers) hand
// results back via Dispatch.
type Runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	version string

	events chan func()

	store    domain.SettingsStore
	registry domain.InstanceRegistry
	pm       domain.ProcessManager
	perms    *infra.DevicePermissions
	catalog  *infra.DesktopCatalog
	bridge   *bridge.Bridge

	gate   *usecase.AdGate
	timer  *usecase.SessionTimer
	oracle *usecase.EntitlementOracle
	orch   *usecase.Orchestrator
}

// New builds the full object graph from config.
func New(cfg config.Config, version string, logger *zap.Logger) (*Runtime, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	pm := infra.NewProcessManager()
	catalog := infra.NewDesktopCatalog()

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		events:   make(chan func(), eventQueueSize),
		store:    store,
		pm:       pm,
		registry: infra.NewFileInstanceRegistry(cfg.DataDir, pm),
		perms:    infra.NewDevicePermissions(cfg.DataDir, logger),
		catalog:  catalog,
		bridge:   bridge.New(logger),
	}

	sched := &loopScheduler{rt: rt}
	launcher := infra.NewExecLauncher(catalog, pm, logger)

	// The entitlement client is nil without a configured endpoint; the
	// oracle then answers not-premium.
	var client domain.EntitlementClient
	if c := infra.NewHTTPEntitlementClient(
		cfg.Entitlements.Endpoint, cfg.Entitlements.APIKey, cfg.Entitlements.UserID,
	); c != nil {
		client = c
	}

	rt.gate = usecase.NewAdGate(rt.bridge, sched, logger)
	rt.gate.SetBackoffs(cfg.Ads.RetryBackoff, cfg.Ads.NoFillBackoff)
	rt.timer = usecase.NewSessionTimer(store, sched, time.Now, cfg.Session.Duration, logger)
	rt.oracle = usecase.NewEntitlementOracle(client, store, logger)
	rt.orch = usecase.NewOrchestrator(store, rt.gate, rt.timer, rt.oracle,
		rt.perms, launcher, rt.bridge, logger)

	rt.orch.Subscribe(rt.bridge.PublishState)
	rt.orch.OnSessionEnd(rt.bridge.SessionExpired)
	rt.bridge.SetSink(&shellSink{rt: rt})

	// A connected shell renders the settings panel itself; the direct
	// desktop launch stays the fallback.
	rt.perms.SetPanelOpener(func(panel string) {
		if rt.bridge.Available() {
			rt.bridge.OpenSettings(panel)
			return
		}
		rt.perms.OpenDesktopPanel(panel)
	})

	return rt, nil
}

func openStore(cfg config.Config) (domain.SettingsStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return infra.NewFileStore(cfg.DataDir)
	case config.BackendEncrypted:
		key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain storage key: %w", err)
		}
		return infra.NewSecureStore(cfg.DataDir, key)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Dispatch queues fn onto the event loop.
func (rt *Runtime) Dispatch(fn func()) {
	rt.events <- fn
}

// Run starts the bridge and processes events until ctx is canceled.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.bridge.Start(rt.cfg.Bridge.ListenAddr); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	if err := rt.registry.Register(domain.Instance{
		PID:        rt.pm.GetCurrentPID(),
		Version:    rt.version,
		BridgeAddr: rt.bridge.Addr(),
	}); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.bridge.Stop(stopCtx)
		return err
	}

	rt.logger.Info("daemon started",
		zap.String("version", rt.version),
		zap.String("bridge", rt.bridge.Addr()))

	// Startup work runs on the loop like everything else.
	rt.Dispatch(func() {
		if rt.oracle.Bootstrap() {
			rt.reconcile()
		}
		rt.orch.Rehydrate()
		rt.gate.Preload()
	})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.logger.Info("daemon stopping")
			rt.teardown()
			return ctx.Err()

		case fn := <-rt.events:
			fn()

		case <-heartbeat.C:
			if err := rt.registry.UpdateHeartbeat(); err != nil {
				rt.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

func (rt *Runtime) teardown() {
	rt.orch.Teardown()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.bridge.Stop(stopCtx); err != nil {
		rt.logger.Warn("bridge shutdown failed", zap.Error(err))
	}

	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("settings store close failed", zap.Error(err))
	}
	if err := rt.registry.Clear(); err != nil {
		rt.logger.Warn("instance registry clear failed", zap.Error(err))
	}
}

// reconcile runs the blocking entitlement query off the loop and folds
// the result back in. Called on the loop.
func (rt *Runtime) reconcile() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res := rt.oracle.Reconcile(ctx)
		rt.Dispatch(func() { rt.oracle.ApplyReconcile(res) })
	}()
}

// sendApps reads the catalog off the loop; the result goes straight to
// the shell without touching loop state.
func (rt *Runtime) sendApps() {
	go func() {
		apps, err := rt.catalog.List()
		if err != nil {
			rt.logger.Warn("app catalog unavailable", zap.Error(err))
			rt.bridge.SendApps([]domain.AppInfo{})
			return
		}
		rt.bridge.SendApps(apps)
	}()
}

// shellSink adapts bridge events onto the event loop. Methods are called
// from the bridge read goroutine.
type shellSink struct {
	rt *Runtime
}

func (s *shellSink) OnAdLoaded() { s.rt.Dispatch(s.rt.gate.OnLoaded) }
func (s *shellSink) OnAdClosed() { s.rt.Dispatch(s.rt.gate.OnClosed) }

func (s *shellSink) OnAdError(code string) {
	s.rt.Dispatch(func() { s.rt.gate.OnError(code) })
}

func (s *shellSink) OnVolumeDown() { s.rt.Dispatch(s.rt.orch.HandleVolumeDown) }

// OnShellFocus re-publishes state and re-checks the subscription, the
// same refresh an app foreground event triggers on mobile.
func (s *shellSink) OnShellFocus() {
	s.rt.Dispatch(func() {
		s.rt.bridge.PublishState(s.rt.orch.State())
		s.rt.reconcile()
	})
}

func (s *shellSink) OnTargetSelected(appID string) {
	s.rt.Dispatch(func() { s.rt.orch.SelectTarget(appID) })
}

func (s *shellSink) OnToggle() { s.rt.Dispatch(s.rt.orch.ToggleEnable) }
func (s *shellSink) OnSave()   { s.rt.Dispatch(s.rt.orch.Save) }

func (s *shellSink) OnPurchase() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		active, err := s.rt.oracle.Purchase(ctx)
		s.rt.Dispatch(func() {
			if err != nil {
				s.rt.logger.Warn("purchase failed", zap.Error(err))
				s.rt.bridge.Notice("Purchase failed. Please try again.")
				return
			}
			s.rt.oracle.ApplyPurchaseResult(active)
		})
	}()
}

func (s *shellSink) OnRestore() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		active, err := s.rt.oracle.Restore(ctx)
		s.rt.Dispatch(func() {
			if err != nil {
				s.rt.logger.Warn("restore failed", zap.Error(err))
				s.rt.bridge.Notice("Restore failed. Please try again.")
				return
			}
			s.rt.oracle.ApplyPurchaseResult(active)
			if !active {
				s.rt.bridge.Notice("No active subscription found.")
			}
		})
	}()
}

func (s *shellSink) OnPromptResult(kind domain.PermissionKind, choice string) {
	s.rt.Dispatch(func() { s.rt.orch.HandlePromptResult(kind, choice) })
}

// OnBatteryConfirmed records the power exemption after the shell verified
// the user granted it.
func (s *shellSink) OnBatteryConfirmed() {
	s.rt.Dispatch(func() {
		if err := s.rt.perms.MarkBatteryExempt(); err != nil {
			s.rt.logger.Warn("failed to record power exemption", zap.Error(err))
		}
	})
}

func (s *shellSink) OnAppsRequested() { s.rt.Dispatch(s.rt.sendApps) }

// loopScheduler implements usecase.Scheduler with real timers whose
// callbacks are dispatched onto the event loop. Cancel funcs are only
// called from the loop, so the canceled flag needs no locking.
type loopScheduler struct {
	rt *Runtime
}

func (s *loopScheduler) AfterFunc(d time.Duration, fn func()) func() {
	canceled := false
	t := time.AfterFunc(d, func() {
		s.rt.Dispatch(func() {
			if !canceled {
				fn()
			}
		})
	})
	return func() {
		canceled = true
		t.Stop()
	}
}

func (s *loopScheduler) Every(d time.Duration, fn func()) func() {
	canceled := false
	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.rt.Dispatch(func() {
					if !canceled {
						fn()
					}
				})
			}
		}
	}()

	return func() {
		if canceled {
			return
		}
		canceled = true
		ticker.Stop()
		close(done)
	}
}

// Ensure the adapters satisfy their contracts.
var (
	_ bridge.EventSink  = (*shellSink)(nil)
	_ usecase.Scheduler = (*loopScheduler)(nil)
)
