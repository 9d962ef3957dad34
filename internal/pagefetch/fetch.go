/*
Package pagefetch implements C5: three-tier content acquisition (native
content negotiation, proxy fetch, headless browser) and the chunker that
splits a fetched page into LLM-cleanable segments.
*/
package pagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	"github.com/doctree/scribe/internal/browser"
	"github.com/doctree/scribe/internal/metadata"
	"github.com/doctree/scribe/pkg/failure"
	"github.com/doctree/scribe/pkg/retry"
	"github.com/doctree/scribe/pkg/timeutil"
)

var browserRetryParam = retry.NewRetryParam(
	500*time.Millisecond, 250*time.Millisecond, 1, 3,
	timeutil.NewBackoffParam(500*time.Millisecond, 2.0, 4*time.Second),
)

// Method identifies which tier produced a page's Markdown.
type Method string

const (
	MethodNative  Method = "native"
	MethodProxy   Method = "proxy"
	MethodBrowser Method = "browser"
)

const (
	nativeTimeout  = 15 * time.Second
	proxyTimeout   = 30 * time.Second
	browserTimeout = 30 * time.Second
)

// noise selectors removed from the DOM before content-selector probing.
var noiseSelectors = []string{
	"nav", "footer", "header", "script", "style", "iframe",
	".cookie-banner", "#cookie-consent", ".toc", ".table-of-contents",
	".prev-next", ".pagination-nav", ".edit-page-link", ".theme-toggle", ".search-bar",
}

var contentSelectors = []string{
	"main", "article", "[role=\"main\"]", "#content", ".content",
	".markdown-body", ".docs-content", ".documentation", "#main-content",
}

// PageResult is the outcome of page_markdown for a single URL.
type PageResult struct {
	Markdown         string
	NativeTokenCount *int
	Method           Method
}

// Fetcher is C5's page_markdown operation. useNative/useProxy mirror the
// JobRequest booleans; proxyBase is optional, the browser Fetcher is
// required (it is the final, unconditional tier and is never nil-checked).
type Fetcher struct {
	httpClient *http.Client
	sink       metadata.Sink

	useNative bool
	useProxy  bool
	proxyBase string
	fetcher   browser.Fetcher
}

func NewFetcher(sink metadata.Sink, useNative, useProxy bool, proxyBase string, browserFetcher browser.Fetcher) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{},
		sink:       sink,
		useNative:  useNative,
		useProxy:   useProxy,
		proxyBase:  proxyBase,
		fetcher:    browserFetcher,
	}
}

// PageMarkdown tries each enabled tier in order, returning the first
// success. The browser tier is always attempted last and never disabled.
func (f *Fetcher) PageMarkdown(ctx context.Context, pageURL string) (PageResult, failure.ClassifiedError) {
	if f.useNative {
		if result, ok := f.fetchNative(ctx, pageURL); ok {
			return result, nil
		}
	}
	if f.useProxy {
		if result, ok := f.fetchProxy(ctx, pageURL); ok {
			return result, nil
		}
	}
	result := retry.Retry(browserRetryParam, func() (PageResult, failure.ClassifiedError) {
		return f.fetchBrowser(ctx, pageURL)
	})
	return result.Value(), result.Err()
}

func (f *Fetcher) fetchNative(ctx context.Context, pageURL string) (PageResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, nativeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return PageResult{}, false
	}
	req.Header.Set("Accept", "text/markdown, text/html;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.recordFetch(pageURL, 0, time.Since(start), "", string(MethodNative))
		return PageResult{}, false
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	f.recordFetch(pageURL, resp.StatusCode, time.Since(start), contentType, string(MethodNative))

	if resp.StatusCode != http.StatusOK || !strings.Contains(contentType, "text/markdown") {
		return PageResult{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PageResult{}, false
	}

	var tokens *int
	if raw := resp.Header.Get("X-Markdown-Tokens"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			tokens = &n
		}
	}

	return PageResult{Markdown: string(body), NativeTokenCount: tokens, Method: MethodNative}, true
}

func (f *Fetcher) fetchProxy(ctx context.Context, pageURL string) (PageResult, bool) {
	if f.proxyBase == "" {
		return PageResult{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	target := strings.TrimRight(f.proxyBase, "/") + "/" + pageURL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return PageResult{}, false
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.recordFetch(pageURL, 0, time.Since(start), "", string(MethodProxy))
		return PageResult{}, false
	}
	defer resp.Body.Close()

	f.recordFetch(pageURL, resp.StatusCode, time.Since(start), resp.Header.Get("Content-Type"), string(MethodProxy))

	if resp.StatusCode != http.StatusOK {
		return PageResult{}, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) <= 100 {
		return PageResult{}, false
	}

	return PageResult{Markdown: string(body), Method: MethodProxy}, true
}

// fetchBrowser is a single attempt at the final, unconditional tier;
// PageMarkdown retries it via pkg/retry since a transient navigation
// failure (a hung tab, a cold DNS lookup) is worth one more try before the
// page counts as failed.
func (f *Fetcher) fetchBrowser(ctx context.Context, pageURL string) (PageResult, failure.ClassifiedError) {
	start := time.Now()
	html, err := f.fetcher.Fetch(ctx, pageURL, browserTimeout)
	if err != nil {
		f.recordFetch(pageURL, 0, time.Since(start), "", string(MethodBrowser))
		return PageResult{}, &FetchError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     metadata.CauseNetworkFailure,
		}
	}
	f.recordFetch(pageURL, 200, time.Since(start), "text/html", string(MethodBrowser))

	markdown, convErr := htmlToMarkdownFromSelectors(html)
	if convErr != nil {
		return PageResult{}, convErr
	}
	return PageResult{Markdown: markdown, Method: MethodBrowser}, nil
}

func (f *Fetcher) recordFetch(pageURL string, status int, d time.Duration, contentType, method string) {
	if f.sink == nil {
		return
	}
	f.sink.RecordFetch(metadata.FetchEvent{
		FetchURL:    pageURL,
		HTTPStatus:  status,
		Duration:    d,
		ContentType: contentType,
		Method:      method,
	})
}

// htmlToMarkdownFromSelectors removes noise nodes, probes content
// selectors in order, and converts the winning node to Markdown.
func htmlToMarkdownFromSelectors(rawHTML string) (string, *FetchError) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", &FetchError{Message: err.Error(), Retryable: false, Cause: metadata.CauseContentInvalid}
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	var winner *goquery.Selection
	for _, sel := range contentSelectors {
		candidate := doc.Find(sel).First()
		if candidate.Length() == 0 {
			continue
		}
		inner, _ := candidate.Html()
		if len(inner) >= 200 {
			winner = candidate
			break
		}
	}
	if winner == nil {
		winner = doc.Find("body")
	}
	if winner.Length() == 0 {
		return "", &FetchError{Message: "no content node found", Retryable: false, Cause: metadata.CauseContentInvalid}
	}

	node := winner.Get(0)
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	markdown, err := conv.ConvertNode(node)
	if err != nil {
		return "", &FetchError{Message: err.Error(), Retryable: false, Cause: metadata.CauseContentInvalid}
	}
	return markdown, nil
}

// FetchError is C5's classified error, covering all three tiers.
type FetchError struct {
	Message   string
	Retryable bool
	Cause     metadata.ErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("page fetch error (%s): %s", e.Cause, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool { return e.Retryable }

var _ failure.ClassifiedError = (*FetchError)(nil)
