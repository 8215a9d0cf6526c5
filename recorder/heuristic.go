package recorder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aluiziolira/listing-uploader/locator"
)

// Prober finds and describes elements on the page being recorded.
type Prober interface {
	locator.Finder
	Describe(ctx context.Context, loc locator.Locator) (*locator.ElementInfo, error)
}

// HeuristicOptions tunes a heuristic pass.
type HeuristicOptions struct {
	// Wait bounds each candidate probe.
	Wait time.Duration
	// Overwrite replaces fields already present in the store.
	Overwrite bool
}

// Report summarises a heuristic pass.
type Report struct {
	RulesVersion string
	Found        []string
	Missing      []string
	Kept         []string
}

// Total returns the number of rules probed.
func (r *Report) Total() int {
	return len(r.Found) + len(r.Missing) + len(r.Kept)
}

// Heuristic probes the page for every rule in rules. The first candidate
// resolving to a visible element becomes the entry's primary locator, and
// locators generated from that element become its fallbacks.
func Heuristic(ctx context.Context, probe Prober, rules *locator.RuleSet, store *locator.Store, opts HeuristicOptions) (*Report, error) {
	report := &Report{RulesVersion: rules.Version}

	for _, rule := range rules.Fields {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if store.Has(rule.Name) && !opts.Overwrite {
			report.Kept = append(report.Kept, rule.Name)
			continue
		}

		entry, ok, err := probeRule(ctx, probe, rule, opts.Wait)
		if err != nil {
			return report, err
		}
		if !ok {
			slog.Warn("field not detected", slog.String("field", rule.Name))
			report.Missing = append(report.Missing, rule.Name)
			continue
		}
		if err := store.Put(rule.Name, entry, opts.Overwrite); err != nil {
			if errors.Is(err, locator.ErrDuplicateField) {
				report.Kept = append(report.Kept, rule.Name)
				continue
			}
			return report, err
		}
		slog.Info("field detected",
			slog.String("field", rule.Name),
			slog.String("primary", entry.Primary),
			slog.Int("fallbacks", len(entry.Fallback)),
		)
		report.Found = append(report.Found, rule.Name)
	}

	slog.Info("heuristic pass finished",
		slog.String("rules", rules.Version),
		slog.Int("found", len(report.Found)),
		slog.Int("missing", len(report.Missing)),
		slog.Int("kept", len(report.Kept)),
	)
	return report, nil
}

func probeRule(ctx context.Context, probe Prober, rule locator.FieldRule, wait time.Duration) (locator.Entry, bool, error) {
	for _, raw := range rule.Candidates {
		loc := locator.Parse(raw)
		if loc.IsZero() {
			continue
		}
		info, err := describeWithin(ctx, probe, loc, wait)
		if err != nil {
			if ctx.Err() != nil {
				return locator.Entry{}, false, ctx.Err()
			}
			slog.Debug("candidate missed",
				slog.String("field", rule.Name),
				slog.String("locator", loc.String()),
			)
			continue
		}
		if !info.Visible {
			continue
		}
		return locator.EntryFor(info, loc.String()), true, nil
	}
	return locator.Entry{}, false, nil
}

func describeWithin(ctx context.Context, probe Prober, loc locator.Locator, wait time.Duration) (*locator.ElementInfo, error) {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if err := probe.Find(ctx, loc); err != nil {
		return nil, err
	}
	return probe.Describe(ctx, loc)
}
