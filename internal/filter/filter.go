/*
Package filter applies the deterministic, non-LLM pruning rules C6 runs
over a discovered URL set before handing the survivors to the LLM
Gateway: domain, base-path, extension, pattern, and language rules, plus
the robots.txt gate applied immediately afterward.
*/
package filter

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

var excludedExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".rar": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".mp4": {}, ".mp3": {}, ".wav": {}, ".avi": {}, ".mov": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".exe": {}, ".dmg": {}, ".deb": {}, ".rpm": {},
}

var excludedPatterns = []string{
	"/blog/", "/changelog/", "/api-reference/", "/releases/", "/download/", "/assets/",
}

var languageFragments = map[string][]string{
	"en": {"/en/", "/en-us/", "/en-gb/", "/english/"},
	"es": {"/es/", "/es-es/", "/es-mx/", "/spanish/"},
	"fr": {"/fr/", "/fr-fr/", "/french/"},
	"de": {"/de/", "/de-de/", "/german/"},
	"ja": {"/ja/", "/ja-jp/", "/japanese/"},
	"zh": {"/zh/", "/zh-cn/", "/zh-tw/", "/chinese/"},
	"pt": {"/pt/", "/pt-br/", "/portuguese/"},
	"ru": {"/ru/", "/ru-ru/", "/russian/"},
	"ko": {"/ko/", "/ko-kr/", "/korean/"},
}

// Filter applies the first five ordered deterministic rules and returns a
// normalized (scheme://host/path), deduplicated, lexicographically
// sorted URL list. The robots rule (6) is applied separately by
// ApplyRobots, since it requires an already-fetched robots.txt.
func Filter(urls []string, origin url.URL, language string) []string {
	originHost := strings.ToLower(origin.Hostname())
	basePath := strings.TrimRight(origin.Path, "/")

	seen := make(map[string]struct{}, len(urls))
	var out []string

	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}

		// 1. domain
		if strings.ToLower(u.Hostname()) != originHost {
			continue
		}

		// 2. base-path
		if basePath != "" && u.Path != basePath && !strings.HasPrefix(u.Path, basePath+"/") {
			continue
		}

		// 3. extension exclusion
		if _, excluded := excludedExtensions[strings.ToLower(path.Ext(u.Path))]; excluded {
			continue
		}

		// 4. pattern exclusion
		lowerPath := strings.ToLower(u.Path)
		excluded := false
		for _, p := range excludedPatterns {
			if strings.Contains(lowerPath, p) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		// 5. language
		if !passesLanguage(lowerPath, strings.ToLower(origin.Path), language) {
			continue
		}

		key := canonicalKey(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}

	sort.Strings(out)
	return out
}

func canonicalKey(u *url.URL) string {
	p := u.Path
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p
}

func passesLanguage(urlPath, originPath, language string) bool {
	if language == "" || language == "all" {
		return true
	}
	selected, ok := languageFragments[language]
	if !ok {
		return true
	}
	if containsAnyFragment(urlPath, selected) {
		return true
	}
	for lang, fragments := range languageFragments {
		if lang == language {
			continue
		}
		if containsAnyFragment(urlPath, fragments) {
			return false
		}
	}
	// no language fragment present anywhere in the path
	return !pathHasAnyLanguageFragment(originPath)
}

func containsAnyFragment(p string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(p, f) {
			return true
		}
	}
	return false
}

func pathHasAnyLanguageFragment(p string) bool {
	for _, fragments := range languageFragments {
		if containsAnyFragment(p, fragments) {
			return true
		}
	}
	return false
}

// RobotsRuleSet is the minimal contract filter needs from a parsed
// robots.txt: only the wildcard user-agent group matters (spec.md §6).
type RobotsRuleSet interface {
	Disallowed(path string) bool
}

// ApplyRobots drops every URL whose path matches a Disallow prefix under
// the wildcard robots.txt group.
func ApplyRobots(urls []string, rules RobotsRuleSet) []string {
	if rules == nil {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if rules.Disallowed(u.Path) {
			continue
		}
		out = append(out, raw)
	}
	return out
}
