package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dpetryk/lh-bulk-audit/internal/artifacts"
	"github.com/dpetryk/lh-bulk-audit/internal/config"
	"github.com/dpetryk/lh-bulk-audit/internal/engine"
	"github.com/dpetryk/lh-bulk-audit/internal/health"
	"github.com/dpetryk/lh-bulk-audit/internal/logging"
	"github.com/dpetryk/lh-bulk-audit/internal/metrics"
	"github.com/dpetryk/lh-bulk-audit/internal/runner"
	"github.com/dpetryk/lh-bulk-audit/internal/sample"
	"github.com/dpetryk/lh-bulk-audit/internal/scheduler"
	"github.com/dpetryk/lh-bulk-audit/internal/sink"
	"github.com/dpetryk/lh-bulk-audit/internal/window"
)

const (
	defaultMetricsAddr      = "127.0.0.1:9393"
	defaultArtifactMaxAge   = 7 * 24 * time.Hour
	artifactJanitorInterval = time.Hour
	defaultStaleAttempt     = 30 * time.Minute
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "check-window":
		err = checkWindow(ctx, os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to auditor configuration file")
	keepArtifacts := fs.Bool("keep-artifacts", false, "Also persist raw audit reports (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *keepArtifacts {
		cfg.Run.KeepArtifacts = true
	}

	logger := logging.New()

	policy, err := windowPolicy(cfg.Window)
	if err != nil {
		return fmt.Errorf("build window policy: %w", err)
	}
	logger.Printf("auditor starting (targets=%d, attempts_per_url=%d, window=%s)",
		len(cfg.Targets), sample.AttemptsPerURL, policy)

	if cfg.Engine.BundlePath != "" {
		verifier, err := engine.NewVerifier(cfg.Engine.PublicKey)
		if err != nil {
			return fmt.Errorf("init engine verifier: %w", err)
		}
		if err := verifier.Verify(ctx, cfg.Engine.BundlePath, cfg.Engine.SignaturePath); err != nil {
			return fmt.Errorf("verify engine bundle: %w", err)
		}
		logger.Printf("engine bundle signature verified (%s)", cfg.Engine.BundlePath)
	}

	metricsStore := metrics.NewStore()
	checker := health.NewChecker(metricsStore, defaultStaleAttempt)

	csvSink, err := sink.OpenCSV(cfg.Output.CSVPath)
	if err != nil {
		return fmt.Errorf("open csv sink: %w", err)
	}
	defer csvSink.Close()

	sinks := []sink.Sink{csvSink}
	if cfg.Output.HistoryDB != "" {
		boltSink, err := sink.OpenBolt(cfg.Output.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer boltSink.Close()
		sinks = append(sinks, boltSink)
	}
	out := sink.NewMulti(logger, metricsStore, sinks...)

	auditRunner := runner.NewExecRunner(runner.Config{
		Command:   cfg.Engine.Command,
		ExtraArgs: cfg.Engine.ExtraArgs,
		Timeout:   attemptTimeout(cfg.Engine),
	})

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(runTelemetry{Store: metricsStore, checker: checker}),
		scheduler.WithPollInterval(pollInterval(cfg.Run)),
	}
	if cfg.Run.AttemptsPerSecond > 0 {
		opts = append(opts, scheduler.WithRateLimit(cfg.Run.AttemptsPerSecond))
	}

	var artifactStore *artifacts.Store
	if cfg.Run.KeepArtifacts {
		dir := filepath.Join(dataDir(cfg.Output), "artifacts")
		artifactStore, err = artifacts.Open(dir)
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}
		opts = append(opts, scheduler.WithArtifacts(artifactStore))
		logger.Printf("raw audit reports kept under %s", dir)
	}

	sched := scheduler.New(cfg.Targets, policy, auditRunner, out, opts...)
	checker.SetStatusSource(sched.Status)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		defer stop()
		if err := sched.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if artifactStore != nil {
		maxAge := defaultArtifactMaxAge
		if cfg.Output.ArtifactMaxAgeHours > 0 {
			maxAge = time.Duration(cfg.Output.ArtifactMaxAgeHours) * time.Hour
		}
		grp.Go(func() error {
			err := artifactStore.RunJanitor(groupCtx, artifactJanitorInterval, maxAge)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	grp.Go(func() error {
		return serveMonitoring(groupCtx, monitoringAddr(cfg.Monitoring), metricsStore, checker, logger)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	logger.Printf("auditor stopped")
	return nil
}

func checkWindow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check-window", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to auditor configuration file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	policy, err := windowPolicy(cfg.Window)
	if err != nil {
		return fmt.Errorf("build window policy: %w", err)
	}

	now := time.Now()
	if policy.Allows(now) {
		fmt.Printf("window %s is OPEN at %s\n", policy, now.In(policy.Zone()).Format(time.RFC1123))
		return nil
	}
	fmt.Printf("window %s is CLOSED at %s\n", policy, now.In(policy.Zone()).Format(time.RFC1123))
	return nil
}

func printUsage() {
	fmt.Println("lh-bulk-audit auditor")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  auditor run [--config /etc/lh-audit/auditor.yaml] [--keep-artifacts]")
	fmt.Println("  auditor check-window [--config path]")
}

// runTelemetry fans attempt observations out to the metrics store and the
// readiness checker.
type runTelemetry struct {
	*metrics.Store
	checker *health.Checker
}

func (t runTelemetry) ObserveAttempt(url string, d time.Duration, err error) {
	t.Store.ObserveAttempt(url, d, err)
	t.checker.ObserveAttempt(time.Now().UTC())
}

func windowPolicy(cfg config.WindowConfig) (*window.Policy, error) {
	if cfg.Zone == "" && cfg.StartHour == 0 && cfg.EndHour == 0 {
		return window.Default()
	}
	start, end := cfg.StartHour, cfg.EndHour
	if start == 0 && end == 0 {
		start, end = window.DefaultStartHour, window.DefaultEndHour
	}
	return window.NewPolicy(cfg.Zone, start, end)
}

func attemptTimeout(cfg config.EngineConfig) time.Duration {
	if cfg.AttemptTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(cfg.AttemptTimeoutSec) * time.Second
}

func pollInterval(cfg config.RunConfig) time.Duration {
	if cfg.PollIntervalSec <= 0 {
		return 0
	}
	return time.Duration(cfg.PollIntervalSec) * time.Second
}

func dataDir(cfg config.OutputConfig) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return "."
}

func monitoringAddr(cfg config.MonitoringConfig) string {
	if cfg.Listen != "" {
		return cfg.Listen
	}
	return defaultMetricsAddr
}

func serveMonitoring(ctx context.Context, addr string, store *metrics.Store, checker *health.Checker, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHTTPHandler(store))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := checker.Ready(time.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("metrics listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
