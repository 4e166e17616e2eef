package scope

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/turbolite/turbo/internal/turbopath"
)

// getChangedFilesSinceRef returns the list of files (relative to repoRoot) that have
// changed between fromRef and HEAD, including any files that are untracked in the
// working directory. fromRef may be empty, in which case only the working tree's
// diff against HEAD (plus untracked files) is considered.
func getChangedFilesSinceRef(repoRoot turbopath.AbsoluteSystemPath, fromRef string) ([]string, error) {
	relativeTo := repoRoot.ToString()
	diffArgs := []string{"diff", "--name-only", "HEAD", "--", relativeTo}
	out, err := exec.Command("git", diffArgs...).CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "finding changes relative to %v", relativeTo)
	}
	files := strings.Split(string(out), "\n")

	if fromRef != "" {
		mergeBaseArgs := []string{"diff", "--name-only", fromRef + "...HEAD", "--", relativeTo}
		out, err = exec.Command("git", mergeBaseArgs...).CombinedOutput()
		if err != nil {
			if exists, existsErr := commitExists(fromRef); existsErr == nil && !exists {
				return nil, fmt.Errorf("commit %v does not exist", fromRef)
			}
			return nil, errors.Wrapf(err, "git comparing with %v", fromRef)
		}
		files = append(files, strings.Split(string(out), "\n")...)
	}

	untrackedArgs := []string{"ls-files", "--other", "--exclude-standard", "--", relativeTo}
	out, err = exec.Command("git", untrackedArgs...).CombinedOutput()
	if err != nil {
		return nil, errors.Wrap(err, "finding untracked files")
	}
	files = append(files, strings.Split(string(out), "\n")...)

	normalized := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		normalized = append(normalized, filepath.Clean(f))
	}
	return normalized, nil
}

func commitExists(commit string) (bool, error) {
	err := exec.Command("git", "cat-file", "-t", commit).Run()
	if err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
