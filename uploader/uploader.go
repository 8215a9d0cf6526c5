// Package uploader drives the listing form for each product: it logs in,
// fills and submits the form, retries failed products, paces the run and
// reports per-product outcomes.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/listing-uploader/catalog"
	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/models"
)

// ResultSink receives per-product outcomes as they finish.
type ResultSink interface {
	Process(results []*models.ProductResult) error
}

// ProductUploader performs one attempt at one product.
type ProductUploader interface {
	Login(ctx context.Context) error
	CheckChallenge(ctx context.Context) error
	UploadProduct(ctx context.Context, p *models.Product) error
}

// Uploader runs products through a ProductUploader in sequence.
type Uploader struct {
	cfg       *config.Config
	driver    ProductUploader
	page      Screenshotter
	pacer     *Pacer
	snapshots *Snapshots
	sink      ResultSink
	Metrics   *Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds an uploader. sink may be nil.
func New(cfg *config.Config, driver ProductUploader, page Screenshotter, sink ResultSink, metrics *Metrics) *Uploader {
	return &Uploader{
		cfg:       cfg,
		driver:    driver,
		page:      page,
		pacer:     NewPacer(cfg.Pacing),
		snapshots: NewSnapshots(cfg.Files.OutputDir),
		sink:      sink,
		Metrics:   metrics,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Run logs in and processes records in order. A product that exhausts its
// retries is recorded as failed and the run continues; authentication
// failures, unresolved challenges and cancellation stop it. The partial
// result is returned in every case.
func (u *Uploader) Run(ctx context.Context, mode string, records []catalog.Record) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:        uuid.NewString(),
		Mode:         mode,
		StartTime:    u.now(),
		ErrorsByType: make(map[string]int),
	}
	defer func() {
		result.EndTime = u.now()
	}()

	slog.Info("upload run starting",
		slog.String("run_id", result.RunID),
		slog.String("mode", mode),
		slog.Int("records", len(records)),
	)

	if err := u.driver.Login(ctx); err != nil {
		u.halt(result, err)
		return result, err
	}

	uploaded := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			u.halt(result, err)
			return result, err
		}

		if !rec.OK() {
			u.record(result, u.rejectRecord(ctx, rec))
			continue
		}

		if uploaded > 0 {
			pause, err := u.pacer.Wait(ctx)
			if err != nil {
				u.halt(result, err)
				return result, err
			}
			u.Metrics.AddPause(pause.Delay)
			if pause.Batch {
				slog.Info("batch pause", slog.Duration("delay", pause.Delay), slog.Int("done", u.pacer.Done()))
			} else {
				slog.Debug("pacing delay", slog.Duration("delay", pause.Delay))
			}
		}
		uploaded++

		res, err := u.uploadWithRetry(ctx, rec.Product, result)
		u.record(result, res)
		if err != nil && (halts(err) || ctx.Err() != nil) {
			u.halt(result, err)
			return result, err
		}
	}

	slog.Info("upload run finished",
		slog.String("run_id", result.RunID),
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", u.now().Sub(result.StartTime)),
	)
	return result, nil
}

// uploadWithRetry attempts p up to 1+MaxRetries times. A halting error is
// returned so the run can stop; other failures only mark the product.
func (u *Uploader) uploadWithRetry(ctx context.Context, p *models.Product, run *models.RunResult) (*models.ProductResult, error) {
	res := &models.ProductResult{Row: p.Row, Title: p.Title}
	log := slog.With(slog.Int("row", p.Row), slog.String("title", p.Title))

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		log.Info("uploading product", slog.Int("attempt", attempt))

		err := u.driver.UploadProduct(ctx, p)
		if err == nil {
			res.Success = true
			res.Reason = ""
			res.ErrorType = ""
			res.FinishedAt = u.now()
			log.Info("product uploaded", slog.Int("attempts", attempt))
			return res, nil
		}

		label := errorTypeLabel(err)
		res.Reason = err.Error()
		res.ErrorType = label
		u.Metrics.IncError(label)
		log.Error("product attempt failed",
			slog.Int("attempt", attempt),
			slog.String("category", label),
			slog.Any("error", err),
		)
		if ctx.Err() == nil {
			u.snapshot(ctx, res, fmt.Sprintf("row%d_%s_a%d", p.Row, p.Title, attempt))
		}

		if !retryable(err) || ctx.Err() != nil || attempt > u.cfg.Retry.MaxRetries {
			res.FinishedAt = u.now()
			return res, err
		}

		run.RetryCount++
		u.Metrics.IncRetries()
		delay := backoff(u.cfg.Retry, attempt)
		log.Info("retrying product", slog.Int("next_attempt", attempt+1), slog.Duration("backoff", delay))
		if err := u.sleep(ctx, delay); err != nil {
			res.FinishedAt = u.now()
			return res, err
		}
		if err := u.driver.CheckChallenge(ctx); err != nil {
			res.Reason = err.Error()
			res.ErrorType = errorTypeLabel(err)
			res.FinishedAt = u.now()
			return res, err
		}
	}
}

// rejectRecord reports a row the loader refused. It is never retried.
func (u *Uploader) rejectRecord(ctx context.Context, rec catalog.Record) *models.ProductResult {
	var cause error = ErrInvalidRecord{Err: errors.New("row has no product")}
	if rec.Err != nil {
		cause = ErrInvalidRecord{Err: rec.Err}
	}
	label := errorTypeLabel(cause)
	res := &models.ProductResult{
		Row:       rec.Row,
		Title:     rec.Title(),
		Reason:    cause.Error(),
		ErrorType: label,
		Attempts:  0,
	}
	u.Metrics.IncError(label)
	slog.Error("row rejected", slog.Int("row", rec.Row), slog.Any("error", cause))
	u.snapshot(ctx, res, fmt.Sprintf("row%d_invalid", rec.Row))
	res.FinishedAt = u.now()
	return res
}

func (u *Uploader) snapshot(ctx context.Context, res *models.ProductResult, label string) {
	if u.page == nil {
		return
	}
	path, err := u.snapshots.Capture(ctx, u.page, label)
	if err != nil {
		slog.Warn("snapshot failed", slog.Int("row", res.Row), slog.Any("error", err))
		return
	}
	res.Snapshots = append(res.Snapshots, path)
	slog.Info("snapshot saved", slog.Int("row", res.Row), slog.String("path", path))
}

func (u *Uploader) record(run *models.RunResult, res *models.ProductResult) {
	run.Add(res)
	if res.Success {
		u.Metrics.IncProduct("success")
	} else {
		u.Metrics.IncProduct("failure")
	}
	if u.sink == nil {
		return
	}
	if err := u.sink.Process([]*models.ProductResult{res}); err != nil {
		slog.Error("result sink error", slog.Any("error", err))
	}
}

func (u *Uploader) halt(run *models.RunResult, err error) {
	run.Halted = true
	run.HaltReason = err.Error()
	slog.Error("upload run halted",
		slog.String("run_id", run.RunID),
		slog.String("category", errorTypeLabel(err)),
		slog.Any("error", err),
	)
}
