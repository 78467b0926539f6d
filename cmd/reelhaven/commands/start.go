package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/logger"
	"github.com/reelhaven/reelhaven/internal/telemetry"
	"github.com/reelhaven/reelhaven/pkg/api"
	apihandlers "github.com/reelhaven/reelhaven/pkg/api/handlers"
	"github.com/reelhaven/reelhaven/pkg/config"
	"github.com/reelhaven/reelhaven/pkg/draft"
	"github.com/reelhaven/reelhaven/pkg/events"
	"github.com/reelhaven/reelhaven/pkg/media"
	"github.com/reelhaven/reelhaven/pkg/metrics"
	"github.com/reelhaven/reelhaven/pkg/pipeline"
	"github.com/reelhaven/reelhaven/pkg/upload"

	// Import prometheus metrics to register init() functions
	_ "github.com/reelhaven/reelhaven/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ReelHaven server",
	Long: `Start the ReelHaven server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/reelhaven/config.yaml.

Examples:
  # Start in background (default)
  reelhaven start

  # Start in foreground
  reelhaven start --foreground

  # Start with custom config file
  reelhaven start --config /etc/reelhaven/config.yaml

  # Start with environment variable overrides
  REELHAVEN_LOGGING_LEVEL=DEBUG reelhaven start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/reelhaven/reelhaven.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/reelhaven/reelhaven.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "reelhaven",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "reelhaven",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("ReelHaven - Resumable video upload and processing service")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics (if enabled)
	metricsEnabled := config.InitializeMetrics(cfg)

	// Open the session database
	sessions, err := config.CreateSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	drafts, err := draft.NewGORMStore(sessions.DB())
	if err != nil {
		return fmt.Errorf("failed to initialize draft store: %w", err)
	}

	// Open the staging blob store
	blobs, err := config.CreateBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = blobs.Close() }()
	logger.Info("Blob store ready", "type", cfg.Blob.Type)

	// Open the pipeline job queue
	jobs, err := config.CreateQueue(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = jobs.Close() }()
	logger.Info("Job queue ready", "type", cfg.Queue.Type)

	// Open the content-addressed store and its pinner
	pinner, _, err := config.CreatePinner(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("Content-addressed store ready", "type", cfg.CAS.Type)

	// Lifecycle event dispatcher; events also land in the log
	bus := events.NewDispatcher(cfg.Events.BufferSize, events.LogSink{})
	defer bus.Close()

	// Upload service
	svc := upload.NewService(cfg.Upload.ServiceConfig(), sessions, blobs, drafts, jobs, bus)
	if metricsEnabled {
		svc.SetMetrics(metrics.NewUploadMetrics())
	}

	// Media tooling and the pipeline orchestrator
	workdirs, err := media.NewWorkdirs(cfg.Media.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to prepare work directory: %w", err)
	}
	orchestrator := pipeline.NewOrchestrator(
		cfg.Pipeline,
		sessions,
		blobs,
		jobs,
		media.NewProber(cfg.Media.FFprobePath),
		media.NewTranscoder(cfg.Media.FFmpegPath),
		workdirs,
		pinner,
		bus,
	)
	if metricsEnabled {
		orchestrator.SetMetrics(metrics.NewPipelineMetrics())
	}

	// API server with store health checks
	checks := map[string]apihandlers.Check{
		"sessions": sessions.Ping,
		"blobs":    blobs.HealthCheck,
		"queue": func(ctx context.Context) error {
			_, err := jobs.Len(ctx)
			return err
		},
	}
	apiServer, err := api.NewServer(cfg.API, svc, checks)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "port", cfg.API.Port)

	// Metrics scrape endpoint on its own port
	var metricsServer *http.Server
	if metricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the pipeline workers and the API server
	orchestrator.Start()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			runErr = err
		} else {
			logger.Info("Server stopped gracefully")
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			runErr = err
		} else {
			logger.Info("Server stopped")
		}
	}

	// Drain in-flight pipeline jobs before the stores close
	orchestrator.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return runErr
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ReelHaven is already running (PID %d)\nUse 'reelhaven stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("ReelHaven started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", filepath.Clean(logPath))
	fmt.Println("\nUse 'reelhaven stop' to stop the server")
	fmt.Println("Use 'reelhaven status' to check server status")

	return nil
}
