package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Sirflyzoner/owlbot/internal/cfg"
	"github.com/Sirflyzoner/owlbot/internal/copier"
	"github.com/Sirflyzoner/owlbot/internal/copyledger"
	"github.com/Sirflyzoner/owlbot/internal/gitclt"
	"github.com/Sirflyzoner/owlbot/internal/githubclt"
	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
	"github.com/Sirflyzoner/owlbot/internal/retry"
	"github.com/Sirflyzoner/owlbot/internal/scan"
)

const appName = "owlbot"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startMetricsServer(listenAddr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 5 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn(
				"shutting down metrics server failed",
				logfields.Event("metrics_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"metrics server started",
			logfields.Event("metrics_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return
		}

		logger.Fatal(
			"metrics server terminated unexpectedly",
			logfields.Event("metrics_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	DryRun      *bool
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/owlbot/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the owlbot configuration file",
		),
		DryRun: pflag.BoolP(
			"dry-run",
			"n",
			false,
			"scan the history but only simulate copy and pull request operations",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nScan a generated-code repository and copy changes into downstream repositories.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// threshold converts the configuration value to the scanner's sentinel,
// 0 means unbounded.
func threshold(val int) int {
	if val <= 0 {
		return scan.Unbounded
	}

	return val
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	sourceRepo, err := owlconfig.ParseRepository(config.SourceRepository)
	exitOnErr("invalid source_repository in configuration file", err)

	configStore, err := owlconfig.NewDirStore(config.ConfigMirrorDir)
	exitOnErr(fmt.Sprintf("could not load owlbot configs from: %s", config.ConfigMirrorDir), err)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("source_repository", config.SourceRepository),
		zap.String("work_dir", config.WorkDir),
		zap.String("config_mirror_dir", config.ConfigMirrorDir),
		zap.String("ledger_path", config.LedgerPath),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.Int("clone_depth", config.CloneDepth),
		zap.Int("combine_pulls_threshold", config.CombinePullsThreshold),
		zap.Int("max_yaml_count_per_pull_request", config.MaxYamlCountPerPullRequest),
		zap.Bool("draft_pull_requests", config.DraftPullRequests),
		zap.Bool("dry_run", *args.DryRun),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	if config.MetricsListenAddr != "" {
		startMetricsServer(config.MetricsListenAddr)
	}

	ctx := context.Background()

	gitClient := gitclt.New()
	githubClient := githubclt.New(config.GithubAPIToken)

	var ledger copyledger.Ledger
	if *args.DryRun {
		ledger = copyledger.NewMemoryLedger()
	} else {
		sqlLedger, err := copyledger.OpenSQLite(ctx, config.LedgerPath)
		exitOnErr(fmt.Sprintf("could not open copy-state ledger: %s", config.LedgerPath), err)
		defer sqlLedger.Close()

		ledger = sqlLedger
	}

	buildID := fmt.Sprintf("%s-%d", appName, time.Now().Unix())

	var cpr scan.Copier
	if *args.DryRun {
		cpr = copier.NewDryCopier(logger)
	} else {
		cpr = copier.New(
			gitClient,
			githubClient,
			retry.NewRetryer(),
			configStore,
			ledger,
			sourceRepo,
			config.WorkDir,
			config.GithubAPIToken,
			buildID,
		)
	}

	cloneDepth := config.CloneDepth
	if cloneDepth <= 0 {
		cloneDepth = scan.DefCloneDepth
	}

	scanner := scan.New(
		sourceRepo,
		config.WorkDir,
		gitClient,
		configStore,
		ledger,
		cpr,
		scan.WithCloneDepth(cloneDepth),
		scan.WithCombinePullsThreshold(threshold(config.CombinePullsThreshold)),
		scan.WithMaxYamlCountPerPullRequest(threshold(config.MaxYamlCountPerPullRequest)),
		scan.WithNestedCommitDelimiters(config.UseNestedCommitDelimiters),
		scan.WithDraftPullRequests(config.DraftPullRequests),
		scan.WithAuthToken(config.GithubAPIToken),
	)

	executed, err := scanner.Scan(ctx)
	if err != nil {
		logger.Error(
			"scan failed",
			logfields.Event("scan_failed"),
			logfields.BuildID(buildID),
			zap.Error(err),
		)

		goodbye.Exit(ctx, 1)
	}

	logger.Info(
		"scan completed",
		logfields.Event("scan_completed"),
		logfields.BuildID(buildID),
		zap.Int("executed_todos", executed),
	)

	goodbye.Exit(ctx, 0)
}
