package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const configEnvVar = "OPTICAL_VERIFY_CONFIG"

// Process exit codes
const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitSuccess
	}
	if errors.Is(err, ErrInvalidMediaType) {
		fmt.Fprintf(stderr, "optical-verify: %v\n", err)
		fmt.Fprintf(stdout, "FAILED: %v\n", err)
		return exitFailure
	}
	if err != nil {
		fmt.Fprintf(stderr, "optical-verify: %v\n", err)
		return exitUsage
	}

	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "optical-verify: %v\n", err)
		return exitUsage
	}

	if cfg.History > 0 {
		if err := printHistory(WithLogger(context.Background(), logger), cfg, stdout); err != nil {
			logger.WithError(err).Error("Failed to list run history")
			return exitFailure
		}
		return exitSuccess
	}

	if err := ValidateDevicePath(cfg.Device); err != nil {
		logger.WithError(err).Error("Invalid device")
		fmt.Fprintf(stdout, "FAILED: %v\n", err)
		return exitFailure
	}

	// Setup context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = WithLogger(ctx, logger)

	clock := RealClock()
	workflow, err := NewWorkflow(cfg, NewExecRunner(cfg.Timing.CommandTimeout), clock)
	if err != nil {
		logger.WithError(err).Error("Failed to set up workflow")
		return exitFailure
	}

	if cfg.Database.Path != "" {
		db, err := NewDatabase(cfg.Database.Path)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize database")
			return exitFailure
		}
		defer db.Close()
		workflow.Store = db
	}

	if cfg.Archive.Bucket != "" {
		archiver, err := NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize S3 archiver, results will not be archived")
		} else {
			workflow.Archiver = archiver
		}
	}

	if cfg.Metrics.Textfile != "" {
		metrics := NewMetrics()
		workflow.SetMetrics(metrics)
		defer func() {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.WithError(err).Warn("Failed to write metrics")
			}
		}()
	}

	report, err := workflow.Run(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "FAILED: %v\n", err)
		logger.WithFields(logrus.Fields{
			"run_id": report.Run.ID,
			"state":  FailedState(err),
		}).Error("Burn-verify failed")
		return exitFailure
	}

	fmt.Fprintf(stdout, "SUCCESS: %s verified on %s\n", cfg.Media, cfg.Device)
	logger.WithFields(logrus.Fields{
		"run_id":  report.Run.ID,
		"elapsed": report.Elapsed(),
	}).Info("Burn-verify completed successfully")
	return exitSuccess
}

// parseArgs builds the run configuration: defaults, then the config file,
// then flags and positional arguments.
func parseArgs(args []string, output io.Writer) (*Config, error) {
	flags := pflag.NewFlagSet("optical-verify", pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.Usage = func() {
		fmt.Fprintf(output, "Usage: optical-verify [flags] [device] [cd|dvd|bd]\n\n")
		flags.PrintDefaults()
	}

	defaults := DefaultConfig()
	configPath := flags.String("config", "", "YAML config file (default $"+configEnvVar+")")
	stagingDir := flags.String("staging-dir", defaults.Staging.Dir, "working directory for the run")
	sampleSource := flags.String("sample-source", defaults.Staging.SampleSource, "directory holding the sample data")
	sampleName := flags.String("sample-name", defaults.Staging.SampleName, "sample entry to burn")
	settleDelay := flags.Duration("settle-delay", defaults.Timing.SettleDelay, "wait before burning")
	pollTimeout := flags.Duration("poll-timeout", defaults.Timing.PollTimeout, "how long to wait for the disc to become readable")
	pollInterval := flags.Duration("poll-interval", defaults.Timing.PollInterval, "wait between readiness probes")
	imageBuilder := flags.String("image-builder", defaults.Image.Builder, "image builder: genisoimage or native")
	noImageVerify := flags.Bool("no-image-verify", false, "skip checking the image against the manifest before burning")
	dbPath := flags.String("db", defaults.Database.Path, "run history database, empty to disable")
	stateDir := flags.String("state-dir", defaults.Database.StateDir, "directory for the per-drive workflow event log")
	archiveBucket := flags.String("archive-bucket", "", "S3 bucket for run reports")
	reportPath := flags.String("report", "", "write the JSON run report to this path")
	metricsTextfile := flags.String("metrics-textfile", "", "write metrics in node_exporter textfile format")
	logLevel := flags.String("log-level", defaults.Log.Level, "log level")
	logFormat := flags.String("log-format", defaults.Log.Format, "log format: text or json")
	history := flags.Int("history", 0, "list the last N runs for the device and exit")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 2 {
		flags.Usage()
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(flags.Args()[2:], " "))
	}

	path := *configPath
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("staging-dir") {
		cfg.Staging.Dir = *stagingDir
	}
	if flags.Changed("sample-source") {
		cfg.Staging.SampleSource = *sampleSource
	}
	if flags.Changed("sample-name") {
		cfg.Staging.SampleName = *sampleName
	}
	if flags.Changed("settle-delay") {
		cfg.Timing.SettleDelay = *settleDelay
	}
	if flags.Changed("poll-timeout") {
		cfg.Timing.PollTimeout = *pollTimeout
	}
	if flags.Changed("poll-interval") {
		cfg.Timing.PollInterval = *pollInterval
	}
	if flags.Changed("image-builder") {
		cfg.Image.Builder = *imageBuilder
	}
	if *noImageVerify {
		cfg.Image.Verify = false
	}
	if flags.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if flags.Changed("state-dir") {
		cfg.Database.StateDir = *stateDir
	}
	if flags.Changed("archive-bucket") {
		cfg.Archive.Bucket = *archiveBucket
	}
	if flags.Changed("report") {
		cfg.ReportPath = *reportPath
	}
	if flags.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = *metricsTextfile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}

	cfg.History = *history

	if flags.NArg() >= 1 {
		cfg.Device = flags.Arg(0)
	}
	if flags.NArg() >= 2 {
		cfg.Media = MediaType(flags.Arg(1))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printHistory lists the most recent runs recorded for the configured device
func printHistory(ctx context.Context, cfg *Config, out io.Writer) error {
	if cfg.Database.Path == "" {
		return errors.New("run history needs a database")
	}

	db, err := NewDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx, cfg.Device, cfg.History)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMEDIA\tSTATE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Local().Format(time.RFC3339), r.Media, r.State, r.Error)
	}
	return tw.Flush()
}

// newLogger configures the root logger from the log config
func newLogger(cfg LogConfig, output io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(output)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return logger, nil
}
