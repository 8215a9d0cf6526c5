package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/aluiziolira/listing-uploader/browser"
	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/locator"
	"github.com/aluiziolira/listing-uploader/logging"
	"github.com/aluiziolira/listing-uploader/pageprobe"
	"github.com/aluiziolira/listing-uploader/recorder"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultCfg := config.DefaultConfig()
	urlDefault, _ := config.EnvString("RECORDER_URL")
	if urlDefault == "" {
		urlDefault = defaultCfg.Target.ListingURL
	}
	userDataDefault, _ := config.EnvString("RECORDER_USER_DATA_DIR")
	outputDefault := defaultCfg.Files.Selectors
	if value, ok := config.EnvString("RECORDER_OUTPUT"); ok {
		outputDefault = value
	}

	pageURL := flag.String("url", urlDefault, "Page to record selectors on")
	modeFlag := flag.String("mode", "combined", "Recording mode: heuristic, interactive, or combined")
	userDataDir := flag.String("user-data-dir", userDataDefault, "Chrome profile directory (keeps the login session)")
	output := flag.String("output", outputDefault, "Selectors JSON file to create or update")
	rulesFile := flag.String("rules", "", "YAML heuristic rule set (built-in rules when empty)")
	headless := flag.Bool("headless", false, "Run the browser headless")
	static := flag.Bool("static", false, "Fetch the page over HTTP instead of a browser (heuristic only)")
	wait := flag.Duration("wait", 2*time.Second, "Per-candidate wait during the heuristic pass")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, err := logging.New(logging.Options{Verbose: *verbose, Console: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logger.Install()

	mode, err := recorder.ParseMode(*modeFlag)
	if err != nil {
		slog.Error("invalid mode", slog.Any("error", err))
		return 1
	}
	if *static && mode != recorder.ModeHeuristic {
		slog.Warn("static pages cannot be clicked, running the heuristic pass only", slog.String("mode", string(mode)))
		mode = recorder.ModeHeuristic
	}
	if strings.TrimSpace(*pageURL) == "" {
		slog.Error("a page URL is required")
		return 1
	}

	rules := locator.DefaultRules()
	if *rulesFile != "" {
		if rules, err = locator.LoadRules(*rulesFile); err != nil {
			slog.Error("loading rules", slog.Any("error", err))
			return 1
		}
	}

	store, err := locator.Load(*output)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		store = locator.NewStore()
	case err != nil:
		slog.Error("loading existing selectors", slog.Any("error", err))
		return 1
	default:
		slog.Info("updating existing selectors", slog.String("path", *output), slog.Int("fields", store.Len()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := &recorder.Recorder{
		Rules: rules,
		Store: store,
		Wait:  *wait,
		In:    os.Stdin,
		Out:   os.Stdout,
	}
	if *static {
		probe := pageprobe.New(
			pageprobe.WithUserAgent(defaultCfg.Browser.UserAgent),
			pageprobe.WithTimeout(defaultCfg.Browser.PageLoadTimeout),
		)
		rec.Page = probe
		rec.Probe = probe
	} else {
		opts := browser.OptionsFromConfig(defaultCfg)
		opts.Headless = *headless
		opts.UserDataDir = *userDataDir
		session, err := browser.New(ctx, opts)
		if err != nil {
			slog.Error("starting browser", slog.Any("error", err))
			return 1
		}
		defer session.Close()
		rec.Page = session
		rec.Probe = session
		if mode != recorder.ModeHeuristic {
			rec.Clicks = session
		}
	}

	slog.Info("recording selectors",
		slog.String("url", *pageURL),
		slog.String("mode", string(mode)),
		slog.String("rules_version", rules.Version),
	)
	result, err := rec.Run(ctx, *pageURL, mode)
	if err != nil {
		slog.Error("recording failed", slog.Any("error", err))
		return 1
	}

	printReport(result, store)
	if !result.ShouldSave() {
		color.New(color.FgYellow).Println("Quit without saving.")
		return 0
	}
	if err := store.Save(*output); err != nil {
		slog.Error("saving selectors", slog.Any("error", err))
		return 1
	}
	color.New(color.FgHiGreen).Printf("Saved %d selectors to %s\n", store.Len(), *output)
	return 0
}

func printReport(result *recorder.Result, store *locator.Store) {
	if result.Report == nil {
		return
	}
	ok := color.New(color.FgHiGreen)
	miss := color.New(color.FgHiRed)
	dim := color.New(color.Faint)

	r := result.Report
	fmt.Printf("\nHeuristic pass (rules %s): %d/%d found\n", r.RulesVersion, len(r.Found), r.Total())
	for _, name := range r.Found {
		entry, _ := store.Get(name)
		ok.Printf("  + %-22s %s\n", name, entry.Primary)
	}
	for _, name := range r.Kept {
		dim.Printf("  = %-22s kept existing\n", name)
	}
	for _, name := range r.Missing {
		miss.Printf("  - %-22s not found\n", name)
	}
}
