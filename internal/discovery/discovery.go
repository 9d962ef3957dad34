/*
Package discovery implements C2: the sitemap → nav-scrape → BFS cascade
that produces the candidate URL set a job filters and fetches. Discover
never returns an empty set; its fallback floor is the normalized origin
URL itself.
*/
package discovery

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/doctree/scribe/internal/browser"
	"github.com/doctree/scribe/internal/metadata"
	"github.com/doctree/scribe/internal/safeurl"
)

// Cascade runs the three discovery strategies in order, stopping at the
// first that succeeds.
type Cascade struct {
	httpClient *http.Client
	browser    browser.Fetcher
	sink       metadata.Sink
	observer   Observer
}

func NewCascade(httpClient *http.Client, fetcher browser.Fetcher, sink metadata.Sink, observer Observer) *Cascade {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Cascade{httpClient: httpClient, browser: fetcher, sink: sink, observer: observer}
}

// Discover runs sitemap, then nav-scrape, then BFS, returning the first
// strategy's non-empty, deduplicated, sorted URL set. SSRF is checked once
// at the start (against origin) and again immediately before nav-scrape,
// per spec's two explicit checkpoints.
func (d *Cascade) Discover(ctx context.Context, origin url.URL, maxDepth int, filterByPath bool) Result {
	fallback := Result{URLs: []string{safeurl.Normalize(origin.String())}, Strategy: StrategyBFS}

	if err := safeurl.AssertNotSSRF(ctx, origin.String()); err != nil {
		d.recordError("discover", err.Error())
		return fallback
	}

	d.notifyTrying(StrategySitemap)
	if urls := dedupSort(d.sitemapCascade(ctx, origin, filterByPath)); len(urls) > 0 {
		d.notifySucceeded(StrategySitemap, len(urls))
		return Result{URLs: urls, Strategy: StrategySitemap}
	}
	d.notifyFailed(StrategySitemap)

	if err := safeurl.AssertNotSSRF(ctx, origin.String()); err == nil {
		d.notifyTrying(StrategyNavScrape)
		if urls := dedupSort(d.navScrape(ctx, origin)); len(urls) > 0 {
			d.notifySucceeded(StrategyNavScrape, len(urls))
			return Result{URLs: urls, Strategy: StrategyNavScrape}
		}
		d.notifyFailed(StrategyNavScrape)
	}

	d.notifyTrying(StrategyBFS)
	if urls := dedupSort(d.bfsCrawl(ctx, origin, maxDepth)); len(urls) > 0 {
		d.notifySucceeded(StrategyBFS, len(urls))
		return Result{URLs: urls, Strategy: StrategyBFS}
	}
	d.notifyFailed(StrategyBFS)

	return fallback
}

func (d *Cascade) notifyTrying(s Strategy) {
	if d.observer != nil {
		d.observer.Trying(s)
	}
}

func (d *Cascade) notifySucceeded(s Strategy, urlsFound int) {
	if d.observer != nil {
		d.observer.Succeeded(s, urlsFound)
	}
}

func (d *Cascade) notifyFailed(s Strategy) {
	if d.observer != nil {
		d.observer.Failed(s)
	}
}

func (d *Cascade) recordError(action, message string) {
	if d.sink == nil {
		return
	}
	d.sink.RecordError(time.Now(), "discovery", action, metadata.CauseNetworkFailure, message, nil)
}

func dedupSort(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
