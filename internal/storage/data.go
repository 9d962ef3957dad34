package storage

import (
	"path"
	"strings"
)

// WriteResult describes a single persisted artifact: its relative key
// (identity, used by the index), its absolute path on disk, and a content
// digest for audit/dedup purposes.
type WriteResult struct {
	relativeKey string
	path        string
	contentHash string
}

func NewWriteResult(relativeKey, path, contentHash string) WriteResult {
	return WriteResult{relativeKey: relativeKey, path: path, contentHash: contentHash}
}

func (w WriteResult) RelativeKey() string { return w.relativeKey }
func (w WriteResult) Path() string        { return w.path }
func (w WriteResult) ContentHash() string { return w.contentHash }

// IndexEntry is one row of the root _index.md table of contents.
type IndexEntry struct {
	Leaf         string
	RelativePath string
}

// RelativePathFor implements the file-mapping rule: a URL path's relative
// path under originPath becomes the output file key — strip the base path
// prefix, strip leading/trailing slashes, fall back to "index" when empty,
// strip the last segment's extension, append ".md". The result is always a
// slash-separated path confined under the job's output directory: a
// sitemap/nav/BFS-discovered URL carrying "../" segments cannot escape it.
func RelativePathFor(originPath, urlPath string) string {
	basePath := strings.TrimRight(originPath, "/")

	rel := urlPath
	if basePath != "" {
		rel = strings.TrimPrefix(rel, basePath)
	}
	rel = strings.Trim(rel, "/")
	rel = confineRelPath(rel)
	if rel == "" {
		rel = "index"
	}
	if ext := path.Ext(rel); ext != "" {
		rel = strings.TrimSuffix(rel, ext)
	}
	return rel + ".md"
}

// confineRelPath collapses "." and ".." segments against a synthetic root
// so an escaping path (e.g. "../../etc/passwd") resolves to a path still
// under that root ("etc/passwd") instead of climbing out of outputDir once
// write joins it on.
func confineRelPath(rel string) string {
	cleaned := path.Clean("/" + rel)
	return strings.TrimPrefix(cleaned, "/")
}

// LeafName returns the last path segment of a relative key, with its .md
// extension stripped, for use as index link text.
func LeafName(relativeKey string) string {
	leaf := path.Base(relativeKey)
	return strings.TrimSuffix(leaf, path.Ext(leaf))
}
