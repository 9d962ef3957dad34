/*
Package browser is the external capability the core pipeline calls for
headless rendering. It is the only package in this module that imports
go-rod: C5's page fetcher depends only on the Fetcher interface, never
on browser types, per the job-orchestrator design note that the browser
driver must stay swappable.
*/
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

// Fetcher is the narrow capability C5 requires: start the driver once per
// job, fetch a rendered page's HTML, and stop idempotently on every
// job-exit path.
type Fetcher interface {
	Start(ctx context.Context) error
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
	Stop() error
}

// RodFetcher is a go-rod backed Fetcher: one browser instance per job,
// one page per Fetch call, navigating with a networkidle wait.
type RodFetcher struct {
	browser *rod.Browser
	stopped bool
}

func NewRodFetcher() *RodFetcher {
	return &RodFetcher{}
}

func (f *RodFetcher) Start(ctx context.Context) error {
	browser := rod.New()
	if err := browser.Context(ctx).Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	f.browser = browser
	return nil
}

func (f *RodFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if f.browser == nil {
		return "", fmt.Errorf("browser: Fetch called before Start")
	}

	page, err := f.browser.Context(ctx).Page(rod.PageInfo{})
	if err != nil {
		return "", fmt.Errorf("browser: open page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.WaitStable(500 * time.Millisecond); err != nil {
		return "", fmt.Errorf("browser: wait idle %s: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: read html %s: %w", url, err)
	}
	return html, nil
}

// Stop releases the browser instance. It is idempotent: calling it twice,
// or on a Fetcher that never Started, is a no-op.
func (f *RodFetcher) Stop() error {
	if f.stopped || f.browser == nil {
		f.stopped = true
		return nil
	}
	f.stopped = true
	return f.browser.Close()
}
