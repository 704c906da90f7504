// Package main is the CLI entry point for switchd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hyunsoo-dev/switchd/internal/config"
	"github.com/hyunsoo-dev/switchd/internal/daemon"
	"github.com/hyunsoo-dev/switchd/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "switchd",
	Short: "Volume-key app switching daemon",
	Long: `switchd launches a chosen application on a volume-down press.
Free use runs in ad-funded one-hour sessions; a subscription removes
both the ads and the time limit.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Runs the daemon until interrupted. The UI shell connects over a
loopback WebSocket; use 'switchd install' to start on login instead.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Shows whether the daemon is running, its version and bridge address.`,
	RunE:  runStatus,
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List launchable applications",
	Long:  `Lists the applications the daemon can launch, sorted by label.`,
	RunE:  runApps,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the autostart entry",
	Long:  `Installs a systemd user unit so the daemon starts on login.`,
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the autostart entry",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	appsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output apps as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// The default log file lives in the data dir.
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	rt, err := daemon.New(cfg, Version, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileInstanceRegistry(cfg.DataDir, pm)

	fmt.Println("\n=== switchd Status ===")

	inst, err := registry.Current()
	if err != nil || inst == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'switchd run' or 'switchd install' to start.")
		return nil
	}

	if pm.IsRunning(inst.PID) {
		fmt.Println("Status: RUNNING")
		fmt.Printf("PID: %d\n", inst.PID)
		fmt.Printf("Version: %s\n", inst.Version)
		fmt.Printf("Bridge: %s\n", inst.BridgeAddr)
		if inst.LastHeartbeat > 0 {
			lastBeat := time.Unix(inst.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	} else {
		fmt.Println("Status: NOT RUNNING (stale registration)")
	}

	autostart := infra.NewSystemdManager()
	if autostart.IsInstalled() {
		fmt.Println("Auto-start: enabled")
	} else {
		fmt.Println("Auto-start: disabled")
	}

	fmt.Println("======================")
	return nil
}

func runApps(cmd *cobra.Command, args []string) error {
	catalog := infra.NewDesktopCatalog()
	apps, err := catalog.List()
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(apps)
	}

	fmt.Printf("\n%d launchable applications:\n\n", len(apps))
	for _, app := range apps {
		fmt.Printf("  %-40s %s\n", app.ID, app.Label)
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	manager := infra.NewSystemdManager()
	if manager.IsInstalled() && !manager.NeedsUpdate(execPath) {
		fmt.Println("Autostart entry is already installed.")
		return nil
	}

	if err := manager.Install(execPath); err != nil {
		return fmt.Errorf("failed to install autostart entry: %w", err)
	}

	fmt.Printf("Installed %s\n", manager.UnitPath())
	fmt.Println("The daemon will start on login and is starting now.")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	manager := infra.NewSystemdManager()
	if !manager.IsInstalled() {
		fmt.Println("No autostart entry installed.")
		return nil
	}

	if err := manager.Uninstall(); err != nil {
		return fmt.Errorf("failed to remove autostart entry: %w", err)
	}
	fmt.Println("Autostart entry removed.")
	return nil
}

func createLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("switchd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
