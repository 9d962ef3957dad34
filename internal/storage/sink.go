/*
Package storage persists page Markdown and the root table-of-contents
index under a job's output directory, using the path-derived filename
rule (spec's "File mapping"): a URL's relative path under the job origin
becomes its output file path, directories created on demand. Filenames
are never derived from a hash — that scheme is retained only for the
content digest attached to each write for audit purposes.
*/
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/doctree/scribe/internal/metadata"
	"github.com/doctree/scribe/pkg/failure"
	"github.com/doctree/scribe/pkg/fileutil"
	"github.com/doctree/scribe/pkg/hashutil"
)

// Sink is the narrow persistence contract C6 writes through.
type Sink interface {
	Write(outputDir, relativeKey string, content []byte) (WriteResult, failure.ClassifiedError)
	WriteIndex(outputDir string, entries []IndexEntry) (WriteResult, failure.ClassifiedError)
}

type LocalSink struct {
	metadataSink metadata.Sink
}

func NewLocalSink(metadataSink metadata.Sink) LocalSink {
	return LocalSink{metadataSink: metadataSink}
}

// Write persists content at outputDir/relativeKey, creating parent
// directories as needed, and overwrites any existing file at that path.
func (s *LocalSink) Write(outputDir, relativeKey string, content []byte) (WriteResult, failure.ClassifiedError) {
	result, err := write(outputDir, relativeKey, content)
	if err != nil {
		var storageErr *StorageError
		errors.As(err, &storageErr)
		s.metadataSink.RecordError(
			time.Now(), "storage", "LocalSink.Write",
			mapStorageErrorToMetadataCause(storageErr), err.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrWritePath, storageErr.Path)},
		)
		return WriteResult{}, storageErr
	}
	s.metadataSink.RecordArtifact(metadata.ArtifactMarkdown, result.Path(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrWritePath, result.Path()),
	})
	return result, nil
}

// WriteIndex writes _index.md at the output root: a Markdown list of every
// written page, leaf name as link text, relative path as link target.
func (s *LocalSink) WriteIndex(outputDir string, entries []IndexEntry) (WriteResult, failure.ClassifiedError) {
	var b strings.Builder
	b.WriteString("# Documentation Index\n")
	for _, e := range entries {
		b.WriteString("- [" + e.Leaf + "](" + e.RelativePath + ")\n")
	}

	result, err := write(outputDir, "_index.md", []byte(b.String()))
	if err != nil {
		var storageErr *StorageError
		errors.As(err, &storageErr)
		s.metadataSink.RecordError(
			time.Now(), "storage", "LocalSink.WriteIndex",
			mapStorageErrorToMetadataCause(storageErr), err.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrWritePath, storageErr.Path)},
		)
		return WriteResult{}, storageErr
	}
	s.metadataSink.RecordArtifact(metadata.ArtifactIndex, result.Path(), nil)
	return result, nil
}

func write(outputDir, relativeKey string, content []byte) (WriteResult, failure.ClassifiedError) {
	fullPath := filepath.Join(outputDir, filepath.FromSlash(relativeKey))

	if !pathContainedIn(outputDir, fullPath) {
		return WriteResult{}, &StorageError{
			Message: "relative key escapes output directory", Retryable: false,
			Cause: ErrCausePathError, Path: fullPath,
		}
	}

	if err := fileutil.EnsureDir(filepath.Dir(fullPath)); err != nil {
		var fileErr *fileutil.FileError
		errors.As(err, &fileErr)
		return WriteResult{}, &StorageError{
			Message: err.Error(), Retryable: false, Cause: ErrCausePathError, Path: filepath.Dir(fullPath),
		}
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		cause := ErrCauseWriteFailure
		retryable := false
		if errors.Is(err, syscall.ENOSPC) {
			cause, retryable = ErrCauseDiskFull, true
		}
		return WriteResult{}, &StorageError{Message: err.Error(), Retryable: retryable, Cause: cause, Path: fullPath}
	}

	contentHash, _ := hashutil.HashBytes(content, hashutil.HashAlgoBLAKE3)
	return NewWriteResult(relativeKey, fullPath, contentHash), nil
}

// pathContainedIn reports whether fullPath resolves inside outputDir once
// both are made absolute and cleaned. This is the last line of defense
// against a path-traversal relativeKey, independent of whether the caller
// already sanitized it (RelativePathFor does, but WriteIndex's literal key
// and any future caller should not have to rely on that alone).
func pathContainedIn(outputDir, fullPath string) bool {
	absDir, err := filepath.Abs(outputDir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return false
	}
	if absPath == absDir {
		return true
	}
	return strings.HasPrefix(absPath, absDir+string(filepath.Separator))
}
