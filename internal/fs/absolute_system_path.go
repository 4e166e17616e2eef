package fs

import "github.com/turbolite/turbo/internal/turbopath"

// AbsoluteSystemPathFromUpstream re-exports turbopath.AbsoluteSystemPathFromUpstream
// for callers that otherwise only depend on the fs package (e.g. tests that
// construct paths from t.TempDir()).
func AbsoluteSystemPathFromUpstream(path string) turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPathFromUpstream(path)
}
