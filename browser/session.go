// Package browser wraps a chromedp-driven Chrome session with the humanized
// interaction primitives the uploader and recorder need.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/aluiziolira/listing-uploader/config"
	"github.com/aluiziolira/listing-uploader/locator"
)

// Options configures a Session.
type Options struct {
	Headless        bool
	UserDataDir     string
	UserAgent       string
	WindowWidth     int
	WindowHeight    int
	PageLoadTimeout time.Duration
	TypingMin       time.Duration
	TypingMax       time.Duration
}

// OptionsFromConfig maps the run configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Headless:        cfg.Browser.Headless,
		UserDataDir:     cfg.Browser.UserDataDir,
		UserAgent:       cfg.Browser.UserAgent,
		WindowWidth:     1920,
		WindowHeight:    1080,
		PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		TypingMin:       cfg.Pacing.TypingMin,
		TypingMax:       cfg.Pacing.TypingMax,
	}
}

// Session is one browser tab. It is not safe for concurrent use; the
// uploader drives it from a single goroutine.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	rng    *rand.Rand
}

// New launches Chrome and opens a tab.
func New(parent context.Context, opts Options) (*Session, error) {
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chromedp", slog.String("msg", fmt.Sprintf(format, args...)))
		}),
	)

	// First Run starts the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	slog.Info("browser session started",
		slog.Bool("headless", opts.Headless),
		slog.String("profile", opts.UserDataDir),
	)

	return &Session{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		opts: opts,
		rng:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// scope derives a chromedp context that also honours the caller's deadline
// and cancellation.
func (s *Session) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := s.scope(ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func queryOpts(loc locator.Locator) []chromedp.QueryOption {
	if loc.Syntax == locator.XPath {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	loadCtx, cancel := context.WithTimeout(ctx, s.opts.PageLoadTimeout)
	defer cancel()
	if err := s.run(loadCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Find waits until loc matches an element in the DOM or ctx is done.
func (s *Session) Find(ctx context.Context, loc locator.Locator) error {
	return s.run(ctx, chromedp.WaitReady(loc.Expr, queryOpts(loc)...))
}

func (s *Session) firstNode(ctx context.Context, loc locator.Locator) (*cdp.Node, error) {
	var nodes []*cdp.Node
	opts := append(queryOpts(loc), chromedp.AtLeast(1))
	if err := s.run(ctx, chromedp.Nodes(loc.Expr, &nodes, opts...)); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no node for %s", loc)
	}
	return nodes[0], nil
}

// Type focuses the element and enters text one key at a time with a random
// pause between keystrokes.
func (s *Session) Type(ctx context.Context, loc locator.Locator, text string) error {
	node, err := s.firstNode(ctx, loc)
	if err != nil {
		return fmt.Errorf("type into %s: %w", loc, err)
	}
	ids := []cdp.NodeID{node.NodeID}
	if err := s.run(ctx,
		chromedp.ScrollIntoView(ids, chromedp.ByNodeID),
		chromedp.Focus(ids, chromedp.ByNodeID),
	); err != nil {
		return fmt.Errorf("focus %s: %w", loc, err)
	}
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("type into %s: %w", loc, err)
		}
		if err := sleep(ctx, s.jitter(s.opts.TypingMin, s.opts.TypingMax)); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties an input, textarea or contenteditable element.
func (s *Session) Clear(ctx context.Context, loc locator.Locator) error {
	node, err := s.firstNode(ctx, loc)
	if err != nil {
		return fmt.Errorf("clear %s: %w", loc, err)
	}
	if node.AttributeValue("contenteditable") != "" {
		return s.run(ctx,
			chromedp.Focus([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID),
			chromedp.Evaluate(`document.execCommand("selectAll", false, null) && document.execCommand("delete", false, null)`, nil),
		)
	}
	if err := s.run(ctx, chromedp.Clear([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("clear %s: %w", loc, err)
	}
	return nil
}

// Click scrolls the element into view, hesitates briefly and clicks it.
func (s *Session) Click(ctx context.Context, loc locator.Locator) error {
	opts := queryOpts(loc)
	if err := s.run(ctx, chromedp.ScrollIntoView(loc.Expr, opts...)); err != nil {
		return fmt.Errorf("scroll to %s: %w", loc, err)
	}
	if err := sleep(ctx, s.jitter(150*time.Millisecond, 600*time.Millisecond)); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.Click(loc.Expr, append(opts, chromedp.NodeVisible)...)); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

// PressEnter sends Enter to the element.
func (s *Session) PressEnter(ctx context.Context, loc locator.Locator) error {
	if err := s.run(ctx, chromedp.SendKeys(loc.Expr, kb.Enter, queryOpts(loc)...)); err != nil {
		return fmt.Errorf("press enter on %s: %w", loc, err)
	}
	return nil
}

// SetFiles attaches files to a file input.
func (s *Session) SetFiles(ctx context.Context, loc locator.Locator, paths []string) error {
	if err := s.run(ctx, chromedp.SetUploadFiles(loc.Expr, paths, queryOpts(loc)...)); err != nil {
		return fmt.Errorf("attach %d files to %s: %w", len(paths), loc, err)
	}
	return nil
}

// SelectOption picks the option of a <select> whose visible text is label.
func (s *Session) SelectOption(ctx context.Context, loc locator.Locator, label string) error {
	node, err := s.firstNode(ctx, loc)
	if err != nil {
		return fmt.Errorf("select on %s: %w", loc, err)
	}
	var matched bool
	js := fmt.Sprintf(`(function(el, label) {
		for (const opt of el.options || []) {
			if (opt.text.trim() === label) {
				el.value = opt.value;
				el.dispatchEvent(new Event("change", {bubbles: true}));
				return true;
			}
		}
		return false;
	})(document.querySelector('[data-uploader-select="%d"]'), %q)`, node.NodeID, label)
	if err := s.run(ctx,
		dom.SetAttributeValue(node.NodeID, "data-uploader-select", fmt.Sprint(node.NodeID)),
		chromedp.Evaluate(js, &matched),
	); err != nil {
		return fmt.Errorf("select %q on %s: %w", label, loc, err)
	}
	if !matched {
		return fmt.Errorf("option %q not offered by %s", label, loc)
	}
	return nil
}

// EnsureChecked clicks a checkbox unless it is already checked.
func (s *Session) EnsureChecked(ctx context.Context, loc locator.Locator) error {
	var checked bool
	if err := s.run(ctx, chromedp.JavascriptAttribute(loc.Expr, "checked", &checked, queryOpts(loc)...)); err != nil {
		return fmt.Errorf("read checked state of %s: %w", loc, err)
	}
	if checked {
		return nil
	}
	return s.Click(ctx, loc)
}

// Text returns the element's visible text.
func (s *Session) Text(ctx context.Context, loc locator.Locator) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(loc.Expr, &text, queryOpts(loc)...)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", loc, err)
	}
	return text, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Scroll moves the viewport a few random steps, like a person skimming.
func (s *Session) Scroll(ctx context.Context, down bool, steps int) error {
	amount := 200 + s.rng.IntN(300)
	if !down {
		amount = -amount
	}
	for i := 0; i < steps; i++ {
		if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", amount), nil)); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := sleep(ctx, s.jitter(300*time.Millisecond, 800*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

// Describe returns the attributes of the first element matching loc.
func (s *Session) Describe(ctx context.Context, loc locator.Locator) (*locator.ElementInfo, error) {
	node, err := s.firstNode(ctx, loc)
	if err != nil {
		return nil, err
	}
	info := &locator.ElementInfo{
		Tag:         node.NodeName,
		ID:          node.AttributeValue("id"),
		Name:        node.AttributeValue("name"),
		Class:       node.AttributeValue("class"),
		Placeholder: node.AttributeValue("placeholder"),
		AriaLabel:   node.AttributeValue("aria-label"),
		TestID:      node.AttributeValue("data-testid"),
		DataInput:   node.AttributeValue("data-input"),
		Type:        node.AttributeValue("type"),
	}
	ids := []cdp.NodeID{node.NodeID}
	var text string
	if err := s.run(ctx, chromedp.JavascriptAttribute(ids, "innerText", &text, chromedp.ByNodeID)); err == nil {
		info.Text = text
	}
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	info.Visible = err == nil
	return info, nil
}

const clickListenerJS = `(function() {
	if (window.__uploaderClickListener) { return; }
	window.__uploaderClickListener = true;
	window.__lastClickedElement = null;
	document.addEventListener('click', function(e) {
		const t = e.target;
		window.__lastClickedElement = {
			tagName: t.tagName,
			id: t.id || '',
			className: typeof t.className === 'string' ? t.className : '',
			name: t.getAttribute('name') || '',
			placeholder: t.getAttribute('placeholder') || '',
			ariaLabel: t.getAttribute('aria-label') || '',
			dataTestid: t.getAttribute('data-testid') || '',
			dataInput: t.getAttribute('data-input') || '',
			type: t.getAttribute('type') || '',
			innerText: t.innerText ? t.innerText.substring(0, 100) : '',
			visible: true
		};
		t.style.outline = '3px solid #ff0000';
		t.style.outlineOffset = '2px';
		setTimeout(function() { t.style.outline = ''; }, 3000);
	}, true);
})();`

// InstallClickListener records the last clicked element on this and every
// later document in the tab.
func (s *Session) InstallClickListener(ctx context.Context) error {
	return s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(clickListenerJS).Do(ctx)
			return err
		}),
		chromedp.Evaluate(clickListenerJS, nil),
	)
}

// LastClicked returns the element most recently clicked by the user, or
// nil when nothing has been clicked since the listener was installed.
func (s *Session) LastClicked(ctx context.Context) (*locator.ElementInfo, error) {
	var info locator.ElementInfo
	if err := s.run(ctx, chromedp.Evaluate(`window.__lastClickedElement || {tagName: ""}`, &info)); err != nil {
		return nil, fmt.Errorf("read last click: %w", err)
	}
	if info.Tag == "" {
		return nil, nil
	}
	return &info, nil
}

func (s *Session) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int64N(int64(max-min)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
