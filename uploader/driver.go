package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/locator"
	"github.com/aluiziolira/listing-uploader/models"
)

// Page is the browser surface the driver works through.
type Page interface {
	locator.Finder
	Screenshotter
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Type(ctx context.Context, loc locator.Locator, text string) error
	Clear(ctx context.Context, loc locator.Locator) error
	Click(ctx context.Context, loc locator.Locator) error
	PressEnter(ctx context.Context, loc locator.Locator) error
	SetFiles(ctx context.Context, loc locator.Locator, paths []string) error
	SelectOption(ctx context.Context, loc locator.Locator, label string) error
	EnsureChecked(ctx context.Context, loc locator.Locator) error
	Text(ctx context.Context, loc locator.Locator) (string, error)
	Scroll(ctx context.Context, down bool, steps int) error
}

// ImageResolver turns image references into local file paths.
type ImageResolver interface {
	Resolve(ctx context.Context, refs []string) ([]string, error)
}

// Prompter blocks until the operator confirms a manual step.
type Prompter interface {
	Wait(ctx context.Context, message string) error
}

// Short waits for optional elements.
const (
	optionalWait = 3 * time.Second
	probeWait    = time.Second
	settleDelay  = 2 * time.Second
	pollInterval = 500 * time.Millisecond
)

// Driver performs the browser steps for login and for one listing.
type Driver struct {
	page     Page
	resolver *locator.Resolver
	images   ImageResolver
	prompt   Prompter
	cfg      *config.Config
	metrics  *Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDriver wires a driver. prompt may be nil, in which case challenges
// always halt.
func NewDriver(cfg *config.Config, page Page, store locator.Lookup, images ImageResolver, prompt Prompter, metrics *Metrics) *Driver {
	resolver := locator.NewResolver(store, page, cfg.Browser.LookupTimeout)
	resolver.OnFallback = func(field string, index int, loc locator.Locator) {
		slog.Warn("selector fallback used",
			slog.String("field", field),
			slog.Int("index", index),
			slog.String("locator", loc.String()),
		)
		metrics.IncFallback(field)
	}
	return &Driver{
		page:     page,
		resolver: resolver,
		images:   images,
		prompt:   prompt,
		cfg:      cfg,
		metrics:  metrics,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Login signs in with the configured credentials. Empty credentials reuse
// the session stored in the browser profile.
func (d *Driver) Login(ctx context.Context) error {
	creds := d.cfg.Credentials
	if creds.Email == "" {
		slog.Info("no credentials configured, reusing browser profile session")
		return d.CheckChallenge(ctx)
	}

	slog.Info("logging in", slog.String("email", creds.Email))
	if err := d.page.Navigate(ctx, d.cfg.Target.LoginURL); err != nil {
		return ErrAuthentication{Err: err}
	}
	if err := d.typeInto(ctx, locator.FieldLoginEmail, creds.Email, false); err != nil {
		return ErrAuthentication{Err: err}
	}
	if loc, ok := d.resolver.Present(ctx, locator.FieldLoginContinue, optionalWait); ok {
		if err := d.page.Click(ctx, loc); err != nil {
			return ErrAuthentication{Err: err}
		}
		if err := d.sleep(ctx, settleDelay); err != nil {
			return err
		}
	}
	if err := d.typeInto(ctx, locator.FieldLoginPassword, creds.Password, false); err != nil {
		return ErrAuthentication{Err: err}
	}
	if err := d.click(ctx, locator.FieldLoginButton); err != nil {
		return ErrAuthentication{Err: err}
	}

	if err := d.CheckChallenge(ctx); err != nil {
		return err
	}
	url, err := d.waitForURL(ctx, func(url string) bool {
		return !strings.Contains(strings.ToLower(url), strings.ToLower(d.cfg.Target.LoginMarker))
	}, d.cfg.Browser.PageLoadTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrAuthentication{Err: fmt.Errorf("still on login page %s", url)}
	}
	slog.Info("login succeeded", slog.String("url", url))
	return nil
}

// waitForURL polls the current URL until ok accepts it or timeout passes.
// The last URL seen is returned either way.
func (d *Driver) waitForURL(ctx context.Context, ok func(string) bool, timeout time.Duration) (string, error) {
	deadline := d.now().Add(timeout)
	for {
		url, err := d.page.CurrentURL(ctx)
		if err != nil {
			return "", err
		}
		if ok(url) {
			return url, nil
		}
		if !d.now().Before(deadline) {
			return url, context.DeadlineExceeded
		}
		if err := d.sleep(ctx, pollInterval); err != nil {
			return url, err
		}
	}
}

// CheckChallenge looks for a verification challenge. When one is present
// and the browser is visible, the operator is asked to solve it; a
// challenge that remains halts the run.
func (d *Driver) CheckChallenge(ctx context.Context) error {
	url, present, err := d.challengePresent(ctx)
	if err != nil || !present {
		return err
	}
	slog.Warn("verification challenge detected", slog.String("url", url))

	if d.prompt == nil || !d.cfg.Challenge.Prompt || d.cfg.Browser.Headless {
		return ErrVerificationChallenge{URL: url}
	}
	if err := d.prompt.Wait(ctx, "Verification challenge detected. Solve it in the browser, then press Enter to continue."); err != nil {
		return err
	}
	url, present, err = d.challengePresent(ctx)
	if err != nil {
		return err
	}
	if present {
		return ErrVerificationChallenge{URL: url}
	}
	slog.Info("verification challenge cleared")
	return nil
}

func (d *Driver) challengePresent(ctx context.Context) (string, bool, error) {
	url, err := d.page.CurrentURL(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read location: %w", err)
	}
	lower := strings.ToLower(url)
	for _, marker := range d.cfg.Challenge.URLMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return url, true, nil
		}
	}
	if _, ok := d.resolver.Present(ctx, locator.FieldChallenge, probeWait); ok {
		return url, true, nil
	}
	return url, false, ctx.Err()
}

type step struct {
	name     string
	required bool
	run      func(ctx context.Context) error
}

// steps lists the form-fill steps for p. Fields the product carries a
// value for are required; the rest are best effort.
func (d *Driver) steps(p *models.Product) []step {
	steps := []step{
		{name: "title", required: true, run: func(ctx context.Context) error {
			return d.typeInto(ctx, locator.FieldTitle, p.Title, true)
		}},
		{name: "description", required: true, run: func(ctx context.Context) error {
			return d.fillDescription(ctx, p.Description)
		}},
		{name: "price", required: true, run: func(ctx context.Context) error {
			return d.typeInto(ctx, locator.FieldPrice, p.Price, true)
		}},
		{name: "quantity", run: func(ctx context.Context) error {
			return d.typeInto(ctx, locator.FieldQuantity, fmt.Sprint(p.Quantity), true)
		}},
	}
	if p.CategoryPath != "" {
		steps = append(steps, step{name: "category", required: true, run: func(ctx context.Context) error {
			return d.selectCategory(ctx, p.CategoryLeaf())
		}})
	}
	if len(p.Tags) > 0 {
		steps = append(steps, step{name: "tags", required: true, run: func(ctx context.Context) error {
			return d.addTags(ctx, p.Tags)
		}})
	}
	if len(p.ImagePaths) > 0 {
		steps = append(steps, step{name: "images", required: true, run: func(ctx context.Context) error {
			return d.uploadImages(ctx, p.ImagePaths)
		}})
	}
	steps = append(steps, step{name: "digital", run: func(ctx context.Context) error {
		loc, err := d.resolver.Resolve(ctx, locator.FieldDigital)
		if err != nil {
			return err
		}
		return d.page.EnsureChecked(ctx, loc)
	}})
	if p.ShopSection != "" {
		steps = append(steps, step{name: "shop_section", required: true, run: func(ctx context.Context) error {
			loc, err := d.resolver.Resolve(ctx, locator.FieldShopSection)
			if err != nil {
				return err
			}
			return d.page.SelectOption(ctx, loc, p.ShopSection)
		}})
	}
	return steps
}

// UploadProduct opens a blank listing form, fills it for p and submits it.
func (d *Driver) UploadProduct(ctx context.Context, p *models.Product) error {
	if err := d.openForm(ctx); err != nil {
		return err
	}
	d.skim(ctx, p.Row)

	for _, s := range d.steps(p) {
		start := d.now()
		err := s.run(ctx)
		d.metrics.ObserveStep(s.name, d.now().Sub(start))
		if err == nil {
			slog.Debug("step done", slog.Int("row", p.Row), slog.String("step", s.name))
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.required {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		slog.Warn("optional step skipped",
			slog.Int("row", p.Row),
			slog.String("step", s.name),
			slog.Any("error", err),
		)
	}
	return d.submit(ctx)
}

// openForm loads the listing editor. When the URL lands on a shop page
// instead of the form, the recorded "add listing" control is clicked.
func (d *Driver) openForm(ctx context.Context) error {
	if err := d.page.Navigate(ctx, d.cfg.Target.ListingURL); err != nil {
		return fmt.Errorf("open listing form: %w", err)
	}
	if err := d.CheckChallenge(ctx); err != nil {
		return err
	}
	if _, ok := d.resolver.Present(ctx, locator.FieldTitle, probeWait); ok {
		return nil
	}
	loc, ok := d.resolver.Present(ctx, locator.FieldAddListing, probeWait)
	if !ok {
		return ctx.Err()
	}
	slog.Debug("listing form not open, clicking add listing")
	if err := d.page.Click(ctx, loc); err != nil {
		return fmt.Errorf("open listing form: %w", err)
	}
	return d.sleep(ctx, settleDelay)
}

// skim scrolls the form down and back up before filling it. Failures are
// logged only.
func (d *Driver) skim(ctx context.Context, row int) {
	for _, down := range []bool{true, false} {
		if err := d.page.Scroll(ctx, down, 2); err != nil {
			slog.Debug("scroll failed", slog.Int("row", row), slog.Any("error", err))
			return
		}
	}
}

func (d *Driver) typeInto(ctx context.Context, field, text string, clear bool) error {
	loc, err := d.resolver.Resolve(ctx, field)
	if err != nil {
		return err
	}
	if clear {
		if err := d.page.Clear(ctx, loc); err != nil {
			return err
		}
	}
	return d.page.Type(ctx, loc, text)
}

func (d *Driver) click(ctx context.Context, field string) error {
	loc, err := d.resolver.Resolve(ctx, field)
	if err != nil {
		return err
	}
	return d.page.Click(ctx, loc)
}

func (d *Driver) fillDescription(ctx context.Context, text string) error {
	loc, err := d.resolver.Resolve(ctx, locator.FieldDescription)
	if err != nil {
		return err
	}
	if err := d.page.Click(ctx, loc); err != nil {
		return err
	}
	if err := d.page.Clear(ctx, loc); err != nil {
		return err
	}
	return d.page.Type(ctx, loc, text)
}

func (d *Driver) selectCategory(ctx context.Context, leaf string) error {
	if err := d.click(ctx, locator.FieldCategory); err != nil {
		return err
	}
	if err := d.typeInto(ctx, locator.FieldCategorySearch, leaf, true); err != nil {
		return err
	}
	if err := d.sleep(ctx, settleDelay); err != nil {
		return err
	}
	return d.click(ctx, locator.FieldCategoryResult)
}

func (d *Driver) addTags(ctx context.Context, tags []string) error {
	loc, err := d.resolver.Resolve(ctx, locator.FieldTags)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := d.page.Type(ctx, loc, tag); err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
		if err := d.page.PressEnter(ctx, loc); err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
	}
	return nil
}

func (d *Driver) uploadImages(ctx context.Context, refs []string) error {
	paths, err := d.images.Resolve(ctx, refs)
	if err != nil {
		return err
	}
	loc, err := d.resolver.Resolve(ctx, locator.FieldImageUpload)
	if err != nil {
		return err
	}
	if err := d.page.SetFiles(ctx, loc, paths); err != nil {
		return err
	}
	// Uploads finish asynchronously in the form.
	return d.sleep(ctx, settleDelay)
}

// submit publishes the listing, falling back to saving a draft when no
// publish control is present. A success banner confirms the submission; an
// error banner rejects it.
func (d *Driver) submit(ctx context.Context) error {
	action := "publish"
	loc, ok := d.resolver.Present(ctx, locator.FieldPublish, d.resolver.Timeout())
	if !ok {
		var err error
		loc, err = d.resolver.Resolve(ctx, locator.FieldSaveDraft)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var nf *locator.ElementNotFoundError
			if errors.As(err, &nf) {
				nf.Field = locator.FieldPublish + "|" + locator.FieldSaveDraft
			}
			return fmt.Errorf("submit: %w", err)
		}
		action = "save_draft"
	}
	if err := d.page.Click(ctx, loc); err != nil {
		return fmt.Errorf("submit (%s): %w", action, err)
	}
	if err := d.sleep(ctx, settleDelay); err != nil {
		return err
	}

	if _, ok := d.resolver.Present(ctx, locator.FieldSuccessMessage, optionalWait); ok {
		slog.Debug("listing confirmed", slog.String("action", action))
		return nil
	}
	if errLoc, ok := d.resolver.Present(ctx, locator.FieldErrorMessage, optionalWait); ok {
		reason, err := d.page.Text(ctx, errLoc)
		if err != nil || strings.TrimSpace(reason) == "" {
			reason = "form reported an error"
		}
		return ErrSubmissionRejected{Reason: strings.TrimSpace(reason)}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Debug("listing submitted without confirmation banner", slog.String("action", action))
	return nil
}
