package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/listing-uploader/browser"
	"github.com/aluiziolira/listing-uploader/catalog"
	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/locator"
	"github.com/aluiziolira/listing-uploader/logging"
	"github.com/aluiziolira/listing-uploader/media"
	"github.com/aluiziolira/listing-uploader/models"
	"github.com/aluiziolira/listing-uploader/pipeline"
	"github.com/aluiziolira/listing-uploader/uploader"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run applies settings in increasing precedence: built-in defaults, the
// YAML document, the environment, then flags given on the command line.
func run(args []string) int {
	defaultCfg := config.DefaultConfig()
	configDefault, _ := config.EnvString("UPLOADER_CONFIG")

	fs := flag.NewFlagSet("uploader", flag.ContinueOnError)
	mode := fs.String("mode", "bulk", "Run mode: single or bulk")
	configPath := fs.String("config", configDefault, "YAML configuration file")
	inputFile := fs.String("input", defaultCfg.Files.Input, "Product CSV file")
	selectorsFile := fs.String("selectors", defaultCfg.Files.Selectors, "Recorded selectors JSON file")
	product := fs.String("product", "", "Single mode: 0-based product index or exact title")
	startIndex := fs.Int("start-index", 0, "Bulk mode: 0-based index of the first product")
	validateOnly := fs.Bool("validate-only", false, "Check the input file and exit")
	headless := fs.Bool("headless", defaultCfg.Browser.Headless, "Run the browser headless")
	outputDir := fs.String("output-dir", defaultCfg.Files.OutputDir, "Directory for logs, snapshots and results")
	format := fs.String("format", defaultCfg.Files.ResultsFormat, "Results format: csv, json, or dual")
	metricsAddr := fs.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := fs.Bool("v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Files.Input = *inputFile
		case "selectors":
			cfg.Files.Selectors = *selectorsFile
		case "headless":
			cfg.Browser.Headless = *headless
		case "output-dir":
			cfg.Files.OutputDir = *outputDir
		case "format":
			cfg.Files.ResultsFormat = strings.ToLower(*format)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logDir := cfg.Files.OutputDir
	if *validateOnly {
		logDir = ""
	}
	logger, err := logging.New(logging.Options{Verbose: cfg.Verbose, Dir: logDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logger.Install()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	cat, err := catalog.Load(cfg.Files.Input, catalogOptions(cfg))
	if err != nil {
		slog.Error("loading input", slog.Any("error", err))
		return 1
	}
	if *validateOnly {
		return printValidation(cat)
	}

	records, err := selectRecords(cat, *mode, *product, *startIndex)
	if err != nil {
		slog.Error("selecting products", slog.Any("error", err))
		return 1
	}

	store, err := locator.Load(cfg.Files.Selectors)
	if err != nil {
		slog.Error("loading selectors", slog.Any("error", err), slog.String("hint", "run the recorder first"))
		return 1
	}

	slog.Info("starting upload",
		slog.String("mode", *mode),
		slog.Int("products", len(records)),
		slog.Int("selectors", store.Len()),
		slog.String("run_log", logger.Path),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current step")
	}()

	stamp := time.Now().Format("20060102_150405")
	writer, resultPaths, err := pipeline.NewResultWriter(cfg.Files.ResultsFormat, filepath.Join(cfg.Files.OutputDir, "results_"+stamp))
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(writer, pipeline.WithBatchSize(1))
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(30 * time.Second)
	}

	images, err := media.NewResolver(media.NewS3Client(os.Getenv("AWS_S3_ENDPOINT")), 256)
	if err != nil {
		slog.Error("creating image resolver", slog.Any("error", err))
		return 1
	}
	defer images.Close()

	session, err := browser.New(ctx, browser.OptionsFromConfig(cfg))
	if err != nil {
		slog.Error("starting browser", slog.Any("error", err))
		return 1
	}
	defer session.Close()

	metrics := uploader.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	prompt := uploader.NewTerminalPrompter(os.Stdin, os.Stdout)
	driver := uploader.NewDriver(cfg, session, store, images, prompt, metrics)
	u := uploader.New(cfg, driver, session, p, metrics)

	result, runErr := u.Run(ctx, *mode, records)

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, resultPaths, logger.Path)
	if runErr != nil || result.Halted {
		return 2
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func catalogOptions(cfg *config.Config) catalog.Options {
	opts := catalog.DefaultOptions()
	opts.DefaultTags = cfg.Defaults.Tags
	opts.DefaultCategoryPath = cfg.Defaults.CategoryPath
	return opts
}

func printValidation(cat *catalog.Catalog) int {
	ok := color.New(color.FgHiGreen)
	bad := color.New(color.FgHiRed)
	warn := color.New(color.FgYellow)

	accepted := 0
	for _, rec := range cat.Records {
		for _, w := range rec.Warnings {
			warn.Printf("  row %d: %s\n", rec.Row, w)
		}
		if rec.OK() {
			accepted++
			continue
		}
		bad.Printf("  %v\n", rec.Err)
	}

	rejected := len(cat.Records) - accepted
	fmt.Println()
	ok.Printf("%d rows accepted", accepted)
	fmt.Print(", ")
	if rejected > 0 {
		bad.Printf("%d rejected\n", rejected)
		return 1
	}
	fmt.Println("0 rejected")
	return 0
}

func printSummary(result *models.RunResult, resultPaths []string, runLog string) {
	if result == nil {
		return
	}
	ok := color.New(color.FgHiGreen)
	bad := color.New(color.FgHiRed)

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Halted {
		bad.Println("Upload halted")
		fmt.Printf("  Reason:        %s\n", result.HaltReason)
	} else {
		ok.Println("Upload complete")
	}

	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Attempted:     %d\n", result.Attempted)
	ok.Printf("  Succeeded:     %d\n", result.Succeeded)
	if result.Failed > 0 {
		bad.Printf("  Failed:        %d\n", result.Failed)
	} else {
		fmt.Printf("  Failed:        %d\n", result.Failed)
	}
	successRate := 0.0
	if result.Attempted > 0 {
		successRate = float64(result.Succeeded) / float64(result.Attempted) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	for _, res := range result.Results {
		if res.Success {
			continue
		}
		bad.Printf("  row %d %q: %s\n", res.Row, res.Title, res.Reason)
	}
	fmt.Printf("  Duration:      %v\n", result.Elapsed().Round(time.Second))
	fmt.Printf("  Results:       %s\n", strings.Join(resultPaths, ", "))
	if runLog != "" {
		fmt.Printf("  Run log:       %s\n", runLog)
	}
	fmt.Println(separator)
}
