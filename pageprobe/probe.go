// Package pageprobe resolves locators against a statically fetched page.
// It serves the recorder's -static mode and lets the lookup contract be
// exercised without a browser.
package pageprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/aluiziolira/listing-uploader/locator"
)

var (
	// ErrNoDocument is returned before a page was loaded.
	ErrNoDocument = errors.New("pageprobe: no document loaded")
	// ErrNoMatch is returned when a locator matches nothing.
	ErrNoMatch = errors.New("pageprobe: no matching element")
)

// Option configures a Probe.
type Option func(*Probe)

// WithTransport replaces the HTTP transport used for fetching.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Probe) {
		p.collector.WithTransport(rt)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Probe) {
		if ua != "" {
			p.collector.UserAgent = ua
		}
	}
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.collector.SetRequestTimeout(d)
		}
	}
}

// Probe holds one parsed document.
type Probe struct {
	collector *colly.Collector

	mu     sync.RWMutex
	url    string
	root   *html.Node
	doc    *goquery.Document
	xpaths map[string]*xpath.Expr
}

// New builds a probe with a synchronous collector that may revisit pages.
func New(opts ...Option) *Probe {
	p := &Probe{
		collector: colly.NewCollector(colly.AllowURLRevisit()),
		xpaths:    make(map[string]*xpath.Expr),
	}
	p.collector.SetRequestTimeout(30 * time.Second)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Navigate fetches url and replaces the current document.
func (p *Probe) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	c := p.collector.Clone()
	c.AllowURLRevisit = true
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch %s: status %d: %w", url, status, err)
	})

	start := time.Now()
	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("fetch %s: %w", url, err)
	}
	if fetchErr != nil {
		return fetchErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slog.Debug("page fetched",
		slog.String("url", finalURL),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return p.Load(bytes.NewReader(body), finalURL)
}

// Load parses an HTML document read from r as if it had been fetched from url.
func (p *Probe) Load(r io.Reader, url string) error {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.root = root
	p.doc = goquery.NewDocumentFromNode(root)
	return nil
}

// CurrentURL returns the URL of the loaded document.
func (p *Probe) CurrentURL(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.root == nil {
		return "", ErrNoDocument
	}
	return p.url, nil
}

// Find reports whether loc matches an element. A static document cannot
// change, so there is nothing to wait for.
func (p *Probe) Find(ctx context.Context, loc locator.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.first(loc)
	return err
}

// Describe returns the attributes of the first element matching loc.
func (p *Probe) Describe(ctx context.Context, loc locator.Locator) (*locator.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := p.first(loc)
	if err != nil {
		return nil, err
	}
	return describe(n), nil
}

// Count returns how many elements match loc.
func (p *Probe) Count(loc locator.Locator) (int, error) {
	nodes, err := p.match(loc)
	return len(nodes), err
}

func (p *Probe) first(loc locator.Locator) (*html.Node, error) {
	nodes, err := p.match(loc)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, loc)
	}
	return nodes[0], nil
}

func (p *Probe) match(loc locator.Locator) ([]*html.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root == nil {
		return nil, ErrNoDocument
	}
	if loc.Syntax == locator.XPath {
		expr, err := p.compileLocked(loc.Expr)
		if err != nil {
			return nil, err
		}
		return htmlquery.QuerySelectorAll(p.root, expr), nil
	}
	return p.doc.Find(loc.Expr).Nodes, nil
}

func (p *Probe) compileLocked(expr string) (*xpath.Expr, error) {
	if compiled, ok := p.xpaths[expr]; ok {
		return compiled, nil
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile xpath %q: %w", expr, err)
	}
	p.xpaths[expr] = compiled
	return compiled, nil
}

func describe(n *html.Node) *locator.ElementInfo {
	attr := func(name string) string {
		return htmlquery.SelectAttr(n, name)
	}
	return &locator.ElementInfo{
		Tag:         strings.ToUpper(n.Data),
		ID:          attr("id"),
		Name:        attr("name"),
		Class:       attr("class"),
		Placeholder: attr("placeholder"),
		AriaLabel:   attr("aria-label"),
		TestID:      attr("data-testid"),
		DataInput:   attr("data-input"),
		Type:        attr("type"),
		Text:        strings.TrimSpace(htmlquery.InnerText(n)),
		Visible:     visible(n),
	}
}

// visible approximates rendering from markup alone: hidden inputs, the
// hidden attribute and inline display:none on the element or an ancestor.
func visible(n *html.Node) bool {
	if n.Data == "input" && strings.EqualFold(htmlquery.SelectAttr(n, "type"), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, a := range cur.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}
