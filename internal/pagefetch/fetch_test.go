package pagefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowserFetcher lets tests control the headless tier without a real
// browser: each call consumes one scripted (html, err) pair.
type fakeBrowserFetcher struct {
	calls   atomic.Int32
	results []fakeBrowserResult
}

type fakeBrowserResult struct {
	html string
	err  error
}

func (f *fakeBrowserFetcher) Start(ctx context.Context) error { return nil }
func (f *fakeBrowserFetcher) Stop() error                     { return nil }
func (f *fakeBrowserFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	i := f.calls.Add(1) - 1
	if int(i) >= len(f.results) {
		return f.results[len(f.results)-1].html, f.results[len(f.results)-1].err
	}
	r := f.results[i]
	return r.html, r.err
}

func TestPageMarkdown_NativeTierWinsWhenMarkdownOffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		w.Header().Set("X-Markdown-Tokens", "42")
		w.Write([]byte("# Hello"))
	}))
	defer srv.Close()

	f := NewFetcher(nil, true, false, "", &fakeBrowserFetcher{})
	result, err := f.PageMarkdown(context.Background(), srv.URL)

	require.Nil(t, err)
	assert.Equal(t, MethodNative, result.Method)
	assert.Equal(t, "# Hello", result.Markdown)
	require.NotNil(t, result.NativeTokenCount)
	assert.Equal(t, 42, *result.NativeTokenCount)
}

func TestPageMarkdown_FallsBackToProxyWhenNativeDeclines(t *testing.T) {
	native := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer native.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cleaned markdown body long enough to pass the minimum length check, padded out with extra filler text to clear one hundred bytes"))
	}))
	defer proxy.Close()

	f := NewFetcher(nil, true, true, proxy.URL, &fakeBrowserFetcher{})
	result, err := f.PageMarkdown(context.Background(), native.URL)

	require.Nil(t, err)
	assert.Equal(t, MethodProxy, result.Method)
}

func TestPageMarkdown_FallsBackToBrowserAsLastResort(t *testing.T) {
	native := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer native.Close()

	fake := &fakeBrowserFetcher{results: []fakeBrowserResult{
		{html: `<html><body><main><p>content</p></main></body></html>`},
	}}
	f := NewFetcher(nil, true, false, "", fake)
	result, err := f.PageMarkdown(context.Background(), native.URL)

	require.Nil(t, err)
	assert.Equal(t, MethodBrowser, result.Method)
	assert.Contains(t, result.Markdown, "content")
}

func TestPageMarkdown_RetriesBrowserTierOnTransientFailure(t *testing.T) {
	fake := &fakeBrowserFetcher{results: []fakeBrowserResult{
		{err: assert.AnError},
		{html: `<html><body><article>recovered</article></body></html>`},
	}}
	f := NewFetcher(nil, false, false, "", fake)
	result, err := f.PageMarkdown(context.Background(), "https://docs.example.com/guide")

	require.Nil(t, err)
	assert.Equal(t, MethodBrowser, result.Method)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestPageMarkdown_BrowserTierFailsAfterExhaustingRetries(t *testing.T) {
	fake := &fakeBrowserFetcher{results: []fakeBrowserResult{
		{err: assert.AnError},
	}}
	f := NewFetcher(nil, false, false, "", fake)
	_, err := f.PageMarkdown(context.Background(), "https://docs.example.com/guide")

	require.NotNil(t, err)
	assert.True(t, int(fake.calls.Load()) >= 2, "expected more than one attempt before giving up")
}
