package discovery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/doctree/scribe/internal/frontier"
	"github.com/doctree/scribe/internal/safeurl"
)

const (
	bfsFetchTimeout  = 10 * time.Second
	bfsInterFetchGap = 500 * time.Millisecond
	bfsURLCap        = 1000
)

// bfsCrawl is the cascade's last resort: a FIFO frontier of (url, depth)
// starting at origin, expanding same-host http(s) anchors up to max_depth,
// capped at 1 000 visited URLs. Fetch errors are logged and skipped, never
// fatal — discover() must never come back empty because of a bad page.
func (d *Cascade) bfsCrawl(ctx context.Context, origin url.URL, maxDepth int) []string {
	queue := frontier.NewFIFOQueue[Candidate]()
	visited := frontier.NewSet[string]()
	originHost := strings.ToLower(origin.Hostname())

	queue.Enqueue(Candidate{URL: safeurl.Normalize(origin.String()), Depth: 0})

	var out []string
	for {
		if visited.Size() >= bfsURLCap {
			break
		}
		next, ok := queue.Dequeue()
		if !ok {
			break
		}

		normalized := safeurl.Normalize(next.URL)
		if visited.Contains(normalized) {
			continue
		}
		visited.Add(normalized)
		out = append(out, normalized)

		if next.Depth >= maxDepth {
			continue
		}

		body, err := d.fetchHTML(ctx, normalized)
		if err != nil {
			d.recordError("bfs", err.Error())
			continue
		}
		for _, href := range extractAnchors(body) {
			resolved, err := url.Parse(normalized)
			if err != nil {
				continue
			}
			target, err := resolved.Parse(href)
			if err != nil {
				continue
			}
			if !acceptedBFSScheme(target) {
				continue
			}
			if strings.ToLower(target.Hostname()) != originHost {
				continue
			}
			target.Fragment = ""
			queue.Enqueue(Candidate{URL: target.String(), Depth: next.Depth + 1})
		}

		time.Sleep(bfsInterFetchGap)
	}

	return out
}

func acceptedBFSScheme(u *url.URL) bool {
	switch u.Scheme {
	case "http", "https":
	default:
		return false
	}
	lower := strings.ToLower(u.String())
	return !strings.HasPrefix(lower, "javascript:") && !strings.HasPrefix(lower, "mailto:") && !strings.HasPrefix(lower, "tel:")
}

func (d *Cascade) fetchHTML(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, bfsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func extractAnchors(body string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var out []string
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key == "href" && attr.Val != "" {
				out = append(out, attr.Val)
			}
		}
	}
}
