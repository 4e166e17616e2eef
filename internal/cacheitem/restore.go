package cacheitem

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/DataDog/zstd"

	"github.com/moby/sys/sequential"
	"github.com/turbolite/turbo/internal/turbopath"
)

// Open returns an existing CacheItem at the specified path.
func Open(path turbopath.AbsoluteSystemPath) (*CacheItem, error) {
	handle, err := sequential.OpenFile(path.ToString(), os.O_RDONLY, 0777)
	if err != nil {
		return nil, err
	}

	return &CacheItem{
		Path:       path,
		handle:     handle,
		compressed: strings.HasSuffix(path.ToString(), ".zst"),
	}, nil
}

// FromReader wraps an existing stream (already positioned at the start of the
// tar, possibly zstd-compressed) as a CacheItem that can only be restored, not
// created or re-opened by path.
func FromReader(reader io.Reader, compressed bool) *CacheItem {
	return &CacheItem{
		reader:     reader,
		compressed: compressed,
	}
}

// Restore extracts a cache to a specified disk location.
func (ci *CacheItem) Restore(anchor turbopath.AbsoluteSystemPath) (_ []turbopath.AnchoredSystemPath, err error) {
	var tr *tar.Reader

	// We're reading a tar, possibly wrapped in zstd.
	if ci.compressed {
		zr := zstd.NewReader(ci.source())

		// The `Close` function for compression effectively just returns the singular
		// error field on the decompressor instance. This is extremely unlikely to be
		// set without triggering one of the numerous other errors, but we should still
		// handle that possible edge case.
		defer func() {
			if closeErr := zr.Close(); err == nil {
				err = closeErr
			}
		}()
		tr = tar.NewReader(zr)
	} else {
		tr = tar.NewReader(ci.source())
	}

	// On first attempt to restore it's possible that a link target doesn't exist.
	// Save them and topsort them.
	var symlinks []*tar.Header

	restored := make([]turbopath.AnchoredSystemPath, 0)

	restorePointErr := anchor.MkdirAll(0755)
	if restorePointErr != nil {
		return nil, restorePointErr
	}

	// We're going to make the following two assumptions here for "fast" path restoration:
	// - All directories are enumerated in the `tar`.
	// - The contents of the tar are enumerated depth-first.
	//
	// This allows us to avoid:
	// - Attempts at recursive creation of directories.
	// - Repetitive `lstat` on restore of a file.
	//
	// Violating these assumptions won't cause things to break but we're only going to maintain
	// an `lstat` cache for the current tree. If you violate these assumptions and the current
	// cache does not apply for your path, it will clobber and re-start from the common
	// shared prefix.
	dirCache := &cachedDirTree{
		anchorAtDepth: []turbopath.AbsoluteSystemPath{anchor},
	}

	for {
		header, trErr := tr.Next()
		if trErr == io.EOF {
			// The end, time to restore any missing links.
			symlinksRestored, symlinksErr := topologicallyRestoreSymlinks(dirCache, anchor, symlinks, tr)
			restored = append(restored, symlinksRestored...)
			if symlinksErr != nil {
				return restored, symlinksErr
			}

			break
		}
		if trErr != nil {
			return restored, trErr
		}

		// The reader will not advance until tr.Next is called.
		// We can treat this as file metadata + body reader.

		// Attempt to place the file on disk.
		file, restoreErr := restoreEntry(dirCache, anchor, header, tr)
		if restoreErr != nil {
			if errors.Is(restoreErr, errMissingSymlinkTarget) {
				// Links get one shot to be valid, then they're accumulated, DAG'd, and restored on delay.
				symlinks = append(symlinks, header)
				continue
			}
			return restored, restoreErr
		}
		restored = append(restored, file)
	}

	return restored, nil
}

// restoreEntry is the entry point for all things read from the tar.
func restoreEntry(dirCache *cachedDirTree, anchor turbopath.AbsoluteSystemPath, header *tar.Header, reader *tar.Reader) (turbopath.AnchoredSystemPath, error) {
	// We're permissive on creation, but restrictive on restoration.
	// There is no need to prevent the cache creation in any case.
	// And on restoration, if we fail, we simply run the task.
	switch header.Typeflag {
	case tar.TypeDir:
		return restoreDirectory(dirCache, anchor, header)
	case tar.TypeReg:
		return restoreRegular(dirCache, anchor, header, reader)
	case tar.TypeSymlink:
		return restoreSymlink(dirCache, anchor, header)
	default:
		return "", errUnsupportedFileType
	}
}

// canonicalizeName rejects a tar entry name that could escape the restore
// root (path traversal) or that isn't portable to Windows, and otherwise
// converts it to an AnchoredSystemPath.
func canonicalizeName(name string) (turbopath.AnchoredSystemPath, error) {
	if !isTraversalSafe(name) {
		return "", errNameMalformed
	}
	if runtime.GOOS == "windows" && strings.ContainsRune(name, '\\') {
		return "", errNameWindowsUnsafe
	}

	withoutTrailingSlash := strings.TrimSuffix(name, "/")
	return turbopath.AnchoredUnixPathFromUpstream(withoutTrailingSlash).ToSystemPath(), nil
}

// isTraversalSafe rejects any entry name that contains a "." or ".."
// path segment, by prefix, suffix, or interior occurrence.
func isTraversalSafe(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	dangerousPrefixes := []string{"/", "./", "../"}
	for _, prefix := range dangerousPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}

	dangerousSuffixes := []string{"/.", "/.."}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}

	dangerousSubstrings := []string{"//", "/./", "/../"}
	for _, substr := range dangerousSubstrings {
		if strings.Contains(name, substr) {
			return false
		}
	}

	return true
}
