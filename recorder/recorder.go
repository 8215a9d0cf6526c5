// Package recorder populates a selector store, either by probing the page
// with heuristic rules or by asking the operator to click each field.
package recorder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aluiziolira/listing-uploader/locator"
)

// Mode selects the discovery strategy.
type Mode string

const (
	ModeHeuristic   Mode = "heuristic"
	ModeInteractive Mode = "interactive"
	ModeCombined    Mode = "combined"
)

// ParseMode accepts the mode names plus the aliases auto and both.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heuristic", "auto":
		return ModeHeuristic, nil
	case "interactive":
		return ModeInteractive, nil
	case "combined", "both", "":
		return ModeCombined, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want heuristic, interactive or combined)", s)
	}
}

// Page is what a recorder needs from the page it records.
type Page interface {
	Navigate(ctx context.Context, url string) error
}

// Recorder runs one discovery session against a page.
type Recorder struct {
	Page   Page
	Probe  Prober
	Clicks ClickSource
	Rules  *locator.RuleSet
	Store  *locator.Store
	Wait   time.Duration
	In     io.Reader
	Out    io.Writer
}

// Result describes a finished session.
type Result struct {
	Report  *Report
	Outcome Outcome
}

// ShouldSave reports whether the store should be persisted. A heuristic
// pass alone always saves; once an interactive session runs, its outcome
// decides, so quitting discards the heuristic results too.
func (r *Result) ShouldSave() bool {
	return r.Outcome == OutcomeSave
}

// Run opens url and records according to mode. In combined mode the
// heuristic pass runs first and the operator may then add or overwrite
// entries.
func (r *Recorder) Run(ctx context.Context, url string, mode Mode) (*Result, error) {
	if r.Rules == nil {
		r.Rules = locator.DefaultRules()
	}
	if r.Store == nil {
		r.Store = locator.NewStore()
	}
	if err := r.Page.Navigate(ctx, url); err != nil {
		return nil, err
	}

	res := &Result{}
	if mode == ModeHeuristic || mode == ModeCombined {
		report, err := Heuristic(ctx, r.Probe, r.Rules, r.Store, HeuristicOptions{Wait: r.Wait})
		if err != nil {
			return nil, fmt.Errorf("heuristic pass: %w", err)
		}
		res.Report = report
		res.Outcome = OutcomeSave
	}

	if mode == ModeInteractive || mode == ModeCombined {
		if r.Clicks == nil {
			return nil, fmt.Errorf("interactive mode needs a live browser")
		}
		outcome, err := NewInteractive(r.Clicks, r.Store, r.Rules, r.In, r.Out).Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("interactive session: %w", err)
		}
		res.Outcome = outcome
	}
	return res, nil
}
