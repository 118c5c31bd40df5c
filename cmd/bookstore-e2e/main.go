package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
	"github.com/theroutercompany/bookstore_e2e/internal/config"
	"github.com/theroutercompany/bookstore_e2e/internal/contract"
	"github.com/theroutercompany/bookstore_e2e/internal/fixture"
	"github.com/theroutercompany/bookstore_e2e/internal/history"
	"github.com/theroutercompany/bookstore_e2e/internal/preflight"
	"github.com/theroutercompany/bookstore_e2e/internal/suite"
	pkglog "github.com/theroutercompany/bookstore_e2e/pkg/log"
	"github.com/theroutercompany/bookstore_e2e/pkg/metrics"
)

// errSuiteFailed is returned by run when at least one case did not pass.
var errSuiteFailed = errors.New("suite failed")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "cases":
		err = casesCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "history":
		err = historyCommand(os.Args[2:])
	case "init":
		err = initCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	_ = pkglog.Sync()

	if errors.Is(err, errSuiteFailed) {
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("bookstore-e2e %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: bookstore-e2e <command> [options]\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run       Run every negative case and the positive scenario\n")
	fmt.Fprintf(os.Stderr, "  cases     List negative case names in fixture order\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate configuration and the fixture file\n")
	fmt.Fprintf(os.Stderr, "  history   Show recorded results of a case or created users\n")
	fmt.Fprintf(os.Stderr, "  init      Generate a config skeleton\n")
}

func loadConfig(configPath string) (config.Config, error) {
	opts := []config.Option{}
	if configPath != "" {
		opts = append(opts, config.WithPath(configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to suite configuration file")
	fixturesPath := fs.String("fixtures", "", "Path to the negative-case fixture file (default: embedded)")
	baseURL := fs.String("base-url", "", "Base address of the bookstore service")
	concurrency := fs.Int("concurrency", 0, "Number of negative cases run at once")
	historyDSN := fs.String("history", "", "SQLite DSN of the run ledger")
	metricsOut := fs.String("metrics-out", "", "Write Prometheus metrics to this textfile after the run")
	skipPreflight := fs.Bool("skip-preflight", false, "Do not probe the service before running")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	var ignoreKeys []string
	fs.Func("ignore-key", "JSON key stripped from both bodies before comparison (repeatable)", func(v string) error {
		ignoreKeys = append(ignoreKeys, v)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *fixturesPath != "" {
		cfg.Fixtures.Path = *fixturesPath
	}
	if *baseURL != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	}
	if *concurrency > 0 {
		cfg.Suite.Concurrency = *concurrency
	}
	if *historyDSN != "" {
		cfg.History.DSN = *historyDSN
	}
	if *metricsOut != "" {
		cfg.Metrics.Textfile = *metricsOut
	}
	if *skipPreflight {
		cfg.Preflight.Enabled = false
	}
	cfg.Suite.IgnoreKeys = config.NormalizeKeys(append(cfg.Suite.IgnoreKeys, ignoreKeys...))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := pkglog.Named("cli")
	registry := metrics.NewRegistry(metrics.WithNamespace(cfg.Metrics.Namespace))

	if cfg.Preflight.Enabled {
		checker := preflight.NewChecker(
			&http.Client{Timeout: cfg.Preflight.Timeout.AsDuration()},
			cfg.BaseURL,
			cfg.Preflight.Path,
			cfg.Preflight.Timeout.AsDuration(),
			cfg.Client.UserAgent,
		)
		probe := checker.Probe(ctx)
		if !probe.Reachable {
			return fmt.Errorf("bookstore unreachable at %s: %s", probe.Target, probe.Error)
		}
		logger.Infow("preflight passed", "target", probe.Target, "status", probe.StatusCode, "latencyMs", probe.Latency.Milliseconds())
	}

	client, err := bookstore.New(bookstore.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Client.Timeout.AsDuration(),
		UserAgent: cfg.Client.UserAgent,
		RateLimit: cfg.Client.RateLimit.RPS,
		Burst:     cfg.Client.RateLimit.Burst,
	}, bookstore.WithObserver(registry))
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	opts := []suite.Option{
		suite.WithRecorder(registry),
		suite.WithConcurrency(cfg.Suite.Concurrency),
		suite.WithCredentials(cfg.Positive.UserPrefix, cfg.Positive.Password),
	}
	if len(cfg.Suite.IgnoreKeys) > 0 {
		opts = append(opts, suite.WithNormalizers(suite.StripJSONKeys(cfg.Suite.IgnoreKeys...)))
	}

	if cfg.Contract.Enabled {
		validator, err := contract.New()
		if err != nil {
			return fmt.Errorf("load contract: %w", err)
		}
		opts = append(opts, suite.WithValidator(validator))
	}

	var ledger *history.Store
	if cfg.History.DSN != "" {
		ledger, err = history.Open(ctx, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer ledger.Close()

		opts = append(opts, suite.WithUserCreated(func(ctx context.Context, userName string) {
			if err := ledger.RecordCreatedUser(ctx, cfg.BaseURL, userName, time.Now()); err != nil {
				logger.Warnw("failed to record created user", "user", userName, "error", err)
			}
		}))
	}

	runner := suite.New(client, fixture.Open(cfg.Fixtures.Path), opts...)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printReport(report)
	}

	if ledger != nil {
		// A cancelled run still records what it finished.
		if err := ledger.RecordReport(context.WithoutCancel(ctx), report); err != nil {
			return fmt.Errorf("record report: %w", err)
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := registry.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	if !report.Passed() {
		return errSuiteFailed
	}
	return nil
}

func printReport(report suite.Report) {
	for _, res := range report.Results {
		fmt.Printf("[%s] %s (%s)\n", res.Name, res.Outcome, res.Duration.Round(time.Millisecond))
		if res.Passed() {
			continue
		}
		if res.Message != "" {
			fmt.Printf("  %s\n", res.Message)
		}
		if res.Diff != "" {
			fmt.Println(res.Diff)
		}
	}

	fmt.Printf("Processed %d cases, %d failures\n", len(report.Results), len(report.Failures()))
}

func casesCommand(args []string) error {
	fs := flag.NewFlagSet("cases", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to suite configuration file")
	fixturesPath := fs.String("fixtures", "", "Path to the negative-case fixture file (default: embedded)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveFixtures(*configPath, *fixturesPath)
	if err != nil {
		return err
	}

	names, err := fixture.Open(path).CaseNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to suite configuration file")
	fixturesPath := fs.String("fixtures", "", "Path to the negative-case fixture file (default: embedded)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveFixtures(*configPath, *fixturesPath)
	if err != nil {
		return err
	}

	count, err := fixture.Open(path).Validate()
	if err != nil {
		return fmt.Errorf("validate fixtures: %w", err)
	}

	fmt.Printf("configuration valid, %d fixture records\n", count)
	return nil
}

func resolveFixtures(configPath, fixturesPath string) (string, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	if fixturesPath != "" {
		return fixturesPath, nil
	}
	return cfg.Fixtures.Path, nil
}

func historyCommand(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dsn := fs.String("history", "", "SQLite DSN of the run ledger")
	caseName := fs.String("case", "", "Case name to show results for")
	limit := fs.Int("limit", 10, "Maximum number of results")
	users := fs.Bool("users", false, "List users created on --base-url instead of case results")
	baseURL := fs.String("base-url", config.DefaultBaseURL, "Base address the users were created on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dsn == "" {
		*dsn = os.Getenv("BOOKSTORE_HISTORY_DSN")
	}
	if *dsn == "" {
		return errors.New("--history is required")
	}
	if !*users && *caseName == "" {
		return errors.New("--case is required unless --users is set")
	}

	ctx := context.Background()
	ledger, err := history.Open(ctx, *dsn)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer ledger.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *users {
		created, err := ledger.CreatedUsers(ctx, strings.TrimRight(*baseURL, "/"))
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "USER\tCREATED")
		for _, user := range created {
			fmt.Fprintf(tw, "%s\t%s\n", user.UserName, user.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}

	runs, err := ledger.Recent(ctx, *caseName, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tOUTCOME\tDURATION\tMESSAGE")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.RunID, run.StartedAt.Format(time.RFC3339), run.Outcome, run.Duration, run.Message)
	}
	return nil
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	outputPath := fs.String("path", "bookstore-e2e.yaml", "Destination path for generated config")
	force := fs.Bool("force", false, "Overwrite existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*outputPath); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", *outputPath)
		}
	}

	if err := os.WriteFile(*outputPath, []byte(sampleConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("configuration written to %s\n", *outputPath)
	return nil
}

const sampleConfigYAML = `baseURL: https://bookstore.toolsqa.com

client:
  timeout: 30s
  userAgent: bookstore-e2e
  rateLimit:
    rps: 5
    burst: 1

fixtures:
  # empty selects the fixture file compiled into the binary
  path: ""

positive:
  userPrefix: User
  password: "Automation@!@123"

suite:
  concurrency: 1
  # keys stripped from expected and actual bodies, e.g. [userID, token, expires]
  ignoreKeys: []

contract:
  enabled: true

preflight:
  enabled: true
  path: /
  timeout: 5s

history:
  dsn: ""

metrics:
  textfile: ""
  namespace: bookstore
`
