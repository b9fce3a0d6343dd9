package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/melih/howls-moving-docker/internal/adapters/builder"
	"github.com/melih/howls-moving-docker/internal/adapters/docker"
	"github.com/melih/howls-moving-docker/internal/adapters/http"
	"github.com/melih/howls-moving-docker/internal/adapters/metrics"
	"github.com/melih/howls-moving-docker/internal/adapters/wordlist"
	"github.com/melih/howls-moving-docker/internal/config"
	"github.com/melih/howls-moving-docker/internal/core/services"
	"github.com/melih/howls-moving-docker/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "1.0"

const apiShutdownTimeout = 5 * time.Second

func main() {
	logging.SetDefault()

	flags := flag.NewFlagSet("hmd", flag.ExitOnError)
	showVersion := flags.Bool("version", false, "Print the version and exit")
	showHelp := flags.Bool("help", false, "Show detailed help information")
	flags.Usage = func() { printHelp(os.Stderr) }
	_ = flags.Parse(os.Args[1:])

	if *showHelp {
		printHelp(os.Stdout)
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("HowlsMovingDocker v%s\n", version)
		os.Exit(0)
	}

	configPath := "config.yaml"
	if flags.NArg() > 0 {
		configPath = flags.Arg(0)
	}

	if err := run(configPath); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// run wires the adapters and blocks until the control loop ends. Deferred
// cleanups run before it returns.
func run(configPath string) error {
	// 1. Configuration and logging
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogFile, cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Entry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Download password list
	if err := wordlist.Download(ctx, nil, cfg.PasswordListURL, cfg.PasswordListFile); err != nil {
		return fmt.Errorf("error downloading password list: %w", err)
	}
	creds, err := wordlist.Load(cfg.PasswordListFile, cfg.Usernames, newRand())
	if err != nil {
		return err
	}
	log.WithField("passwords", creds.Len()).Info("password list loaded")

	// 3. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter(log)
	if err != nil {
		return fmt.Errorf("failed to initialize docker adapter: %w", err)
	}
	defer dockerAdapter.Close()
	if err := dockerAdapter.Ping(ctx); err != nil {
		return err
	}

	serviceTemplates, decoyTemplates := cfg.Templates()

	builderAdapter, err := builder.NewBuilderAdapter(log)
	if err != nil {
		return fmt.Errorf("failed to initialize builder: %w", err)
	}
	if err := services.PrepareImages(ctx, builderAdapter, serviceTemplates, decoyTemplates, log); err != nil {
		return fmt.Errorf("failed to prepare images: %w", err)
	}

	// 4. Wire the control loop
	recorder := metrics.NewPrometheus()
	rng := newRand()
	orchestrator := services.NewOrchestrator(services.OrchestratorOptions{
		Runtime:  dockerAdapter,
		Decoys:   services.NewDecoyManager(dockerAdapter, creds, rng, log),
		Rotator:  services.NewRotator(dockerAdapter, rng, cfg.ProductionRange(), cfg.NetworkName, cfg.GracePeriod(), recorder, log),
		Sentinel: services.NewSentinel(dockerAdapter, recorder, log),
		Recorder: recorder,
		Settings: services.Settings{
			Network:            cfg.NetworkName,
			ProductionInterval: cfg.ProductionInterval(),
			RecycleInterval:    cfg.RecycleInterval(),
			PollInterval:       cfg.Poll(),
		},
		Services:  serviceTemplates,
		Templates: decoyTemplates,
		Log:       log,
	})

	// 5. Run the loop, and the status API when enabled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	if cfg.APIListen != "" {
		app := http.NewApp(orchestrator, recorder.Handler())
		g.Go(func() error {
			log.WithField("listen", cfg.APIListen).Info("status API starting")
			return app.Listen(cfg.APIListen)
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(apiShutdownTimeout)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("an unexpected error occurred: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "HowlsMovingDocker (HWD) v%s\n", version)
	fmt.Fprintln(w, "A Moving Target Defense Docker Orchestration Platform")
	fmt.Fprintln(w, "\nUsage: hmd [--version] [--help] [config_file]")
	fmt.Fprintln(w, "\nThe config file defaults to config.yaml.")
	fmt.Fprintln(w)
	fmt.Fprint(w, config.Usage)
}
