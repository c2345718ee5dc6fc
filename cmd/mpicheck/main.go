package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/mpiwrap/layout"
	"github.com/wippyai/mpiwrap/loopback"
	"github.com/wippyai/mpiwrap/shadow"
	"github.com/wippyai/mpiwrap/wrap"
)

var logger = zap.NewNop()

func main() {
	var (
		scenario    = flag.String("scenario", "", "Path to scenario YAML file")
		verbose     = flag.Bool("v", false, "Trace every wrapped call and list checked ranges")
		strict      = flag.Bool("strict", false, "Fail on datatypes the walker cannot decompose")
		interactive = flag.Bool("i", false, "Inspect the run in a TUI")
		timeout     = flag.Duration("timeout", 10*time.Second, "Abort a run that makes no progress")
	)
	flag.Parse()

	cfg, err := wrap.ParseEnv(os.Getenv(wrap.EnvVar))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s", err, wrap.Usage)
		os.Exit(1)
	}
	if cfg.Help {
		fmt.Fprint(os.Stderr, wrap.Usage)
		return
	}
	if *scenario == "" {
		fmt.Fprintln(os.Stderr, "Usage: mpicheck -scenario <file.yaml> [-v] [-strict] [-timeout d]")
		fmt.Fprintln(os.Stderr, "       mpicheck -scenario <file.yaml> -i  (interactive mode)")
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbosity = max(cfg.Verbosity, 2)
	}
	if *strict {
		cfg.Strict = true
	}

	if err := setupLogging(cfg.Verbosity); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	failed, err := run(*scenario, cfg, *timeout, *verbose, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(2)
	}
}

func run(path string, cfg wrap.Config, timeout time.Duration, verbose, interactive bool) (bool, error) {
	s, err := LoadScenario(path)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := Run(ctx, s, cfg)
	if err != nil {
		return false, err
	}

	if interactive && term.IsTerminal(int(os.Stdout.Fd())) {
		if err := runInteractive(res); err != nil {
			return false, err
		}
		return res.Failed(), nil
	}

	WriteReport(os.Stdout, res, verbose)
	return res.Failed(), nil
}

// setupLogging installs one console logger for every package that logs.
func setupLogging(verbosity int) error {
	if verbosity == 0 {
		return nil
	}
	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbosity > 1 {
		zc.Level.SetLevel(zapcore.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	logger = l
	wrap.SetLogger(l)
	layout.SetLogger(l)
	shadow.SetLogger(l)
	loopback.SetLogger(l)
	return nil
}
