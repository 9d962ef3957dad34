package discovery

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/doctree/scribe/internal/safeurl"
)

const navScrapeTimeout = 10 * time.Second
const navScrapeCap = 100

var navAnchorSelectors = strings.Join([]string{
	"nav a", "aside a", ".sidebar a", ".navigation a",
	"[role=\"navigation\"] a", ".toc a", ".menu a",
}, ", ")

// navScrape renders origin with the headless browser, collects anchors
// under the navigation-shaped selectors, filters to same host + http(s),
// normalizes and deduplicates, and caps the result at 100 URLs.
func (d *Cascade) navScrape(ctx context.Context, origin url.URL) []string {
	if d.browser == nil {
		return nil
	}

	html, err := d.browser.Fetch(ctx, origin.String(), navScrapeTimeout)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	originHost := strings.ToLower(origin.Hostname())
	seen := make(map[string]struct{})
	var out []string

	doc.Find(navAnchorSelectors).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		resolved, err := origin.Parse(href)
		if err != nil {
			return true
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		if strings.ToLower(resolved.Hostname()) != originHost {
			return true
		}

		normalized := safeurl.Normalize(resolved.String())
		if _, dup := seen[normalized]; dup {
			return true
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
		return len(out) < navScrapeCap
	})

	return out
}
