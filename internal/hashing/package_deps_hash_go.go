//go:build go || !rust
// +build go !rust

package hashing

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/turbolite/turbo/internal/encoding/gitoutput"
	"github.com/turbolite/turbo/internal/turbopath"
)

// statusCode is the two-letter `git status --porcelain`-style code for one
// path: x is the index state, y is the working-tree state.
type statusCode struct {
	x string
	y string
}

// isDelete reports whether either half of the status pair marks the path as
// removed, meaning it should be dropped from a prior ls-tree/ls-files
// snapshot rather than re-hashed.
func (s statusCode) isDelete() bool {
	return s.x == "D" || s.y == "D"
}

// runGitCommand starts cmd, streams its stdout through handler, and waits
// for it to exit. name is only used to annotate errors.
func runGitCommand(cmd *exec.Cmd, name string, handler func(io.Reader) *gitoutput.Reader) ([][]string, error) {
	out, pipeError := cmd.StdoutPipe()
	if pipeError != nil {
		return nil, fmt.Errorf("failed to read `git %s`: %w", name, pipeError)
	}

	startError := cmd.Start()
	if startError != nil {
		return nil, fmt.Errorf("failed to read `git %s`: %w", name, startError)
	}

	entries, readErr := handler(out).ReadAll()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read `git %s`: %w", name, readErr)
	}

	if waitErr := cmd.Wait(); waitErr != nil {
		return nil, fmt.Errorf("failed to read `git %s`: %w", name, waitErr)
	}

	return entries, nil
}

// gitLsTree returns the hash git already has recorded for every tracked
// file under packagePath, as of the last commit touching the index.
func gitLsTree(repoRoot turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath) (map[turbopath.AnchoredUnixPath]string, error) {
	absolutePackagePath := packagePath.RestoreAnchor(repoRoot)
	cmd := exec.Command("git", "ls-tree", "-r", "-z", "HEAD")
	cmd.Dir = absolutePackagePath.ToString()

	entries, err := runGitCommand(cmd, "ls-tree", gitoutput.NewLSTreeReader)
	if err != nil {
		return nil, err
	}

	changes := make(map[turbopath.AnchoredUnixPath]string, len(entries))
	for _, entry := range entries {
		lsTreeEntry := gitoutput.LsTreeEntry(entry)
		changes[turbopath.AnchoredUnixPathFromUpstream(lsTreeEntry.GetField(gitoutput.Path))] = lsTreeEntry.GetField(gitoutput.ObjectName)
	}
	return changes, nil
}

// gitLsFiles returns the indexed hash for every file under packagePath that
// matches one of patterns, used when a task declares explicit `inputs`
// instead of hashing the whole package.
func gitLsFiles(repoRoot turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath, patterns []string) (map[turbopath.AnchoredUnixPath]string, error) {
	absolutePackagePath := packagePath.RestoreAnchor(repoRoot)
	cmd := exec.Command("git", "ls-files", "-s", "-z", "--")
	cmd.Args = append(cmd.Args, patterns...)
	cmd.Dir = absolutePackagePath.ToString()

	entries, err := runGitCommand(cmd, "ls-files", gitoutput.NewLSFilesReader)
	if err != nil {
		return nil, err
	}

	changes := make(map[turbopath.AnchoredUnixPath]string, len(entries))
	for _, entry := range entries {
		lsFilesEntry := gitoutput.LsFilesEntry(entry)
		changes[turbopath.AnchoredUnixPathFromUpstream(lsFilesEntry.GetField(gitoutput.Path))] = lsFilesEntry.GetField(gitoutput.ObjectName)
	}
	return changes, nil
}

// getPackageFileHashesFromGitIndex hashes every file under packagePath by
// starting from git's tracked-object hashes and patching in whatever the
// working tree currently differs on.
func getPackageFileHashesFromGitIndex(rootPath turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath) (map[turbopath.AnchoredUnixPath]string, error) {
	absolutePackagePath := packagePath.RestoreAnchor(rootPath)

	result, err := gitLsTree(rootPath, packagePath)
	if err != nil {
		return nil, fmt.Errorf("could not get git hashes for files in package %s: %w", packagePath, err)
	}

	gitStatusOutput, err := gitStatus(absolutePackagePath)
	if err != nil {
		return nil, fmt.Errorf("could not get git hashes from git status: %v", err)
	}

	var filesToHash []turbopath.AnchoredSystemPath
	for filePath, status := range gitStatusOutput {
		if status.isDelete() {
			delete(result, filePath)
		} else {
			filesToHash = append(filesToHash, filePath.ToSystemPath())
		}
	}

	hashes, err := GetHashesForFiles(absolutePackagePath, filesToHash)
	if err != nil {
		return nil, err
	}
	for filePath, hash := range hashes {
		result[filePath] = hash
	}

	return result, nil
}

// getPackageFileHashesFromInputs is getPackageFileHashesFromGitIndex's
// counterpart for a task with an explicit `inputs` list: it narrows both the
// tree listing and the status diff to files matching those patterns instead
// of hashing the whole package.
func getPackageFileHashesFromInputs(rootPath turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath, inputs []string) (map[turbopath.AnchoredUnixPath]string, error) {
	absolutePackagePath := packagePath.RestoreAnchor(rootPath)

	result, err := gitLsFiles(rootPath, packagePath, inputs)
	if err != nil {
		return nil, fmt.Errorf("could not get git hashes for file patterns %v in package %s: %w", inputs, packagePath, err)
	}

	gitStatusOutput, err := gitStatus(absolutePackagePath)
	if err != nil {
		return nil, fmt.Errorf("could not get git hashes from git status: %v", err)
	}

	var filesToHash []turbopath.AnchoredSystemPath
	for filePath, status := range gitStatusOutput {
		if !matchesAnyPattern(filePath.ToString(), inputs) {
			continue
		}
		if status.isDelete() {
			delete(result, filePath)
		} else {
			filesToHash = append(filesToHash, filePath.ToSystemPath())
		}
	}

	hashes, err := GetHashesForFiles(absolutePackagePath, filesToHash)
	if err != nil {
		return nil, err
	}
	for filePath, hash := range hashes {
		result[filePath] = hash
	}

	return result, nil
}

func matchesAnyPattern(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// gitStatus returns a map of paths to their `git` status code. This can be used to identify what should
// be done with files that do not currently match what is in the index.
//
// Note: `git status -z`'s relative path results are relative to the repository's location.
// We need to calculate where the repository's location is in order to determine what the full path is
// before we can return those paths relative to the calling directory, normalizing to the behavior of
// `ls-files` and `ls-tree`.
func gitStatus(rootPath turbopath.AbsoluteSystemPath) (map[turbopath.AnchoredUnixPath]statusCode, error) {
	cmd := exec.Command(
		"git",               // Using `git` from $PATH,
		"status",            // tell me about the status of the working tree,
		"--untracked-files", // including information about untracked files,
		"--no-renames",      // do not detect renames,
		"-z",                // with each file path relative to the repository root and \000-terminated,
		"--",                // and any additional argument you see is a path, promise.
	)
	cmd.Args = append(cmd.Args, ".") // Operate in the current directory instead of the root of the working tree.
	cmd.Dir = rootPath.ToString()    // Include files only from this directory.

	entries, err := runGitCommand(cmd, "status", gitoutput.NewStatusReader)
	if err != nil {
		return nil, err
	}

	output := make(map[turbopath.AnchoredUnixPath]statusCode, len(entries))
	convertedRootPath := turbopath.AbsoluteSystemPathFromUpstream(rootPath.ToString())

	traversePath, err := memoizedGetTraversePath(convertedRootPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		statusEntry := gitoutput.StatusEntry(entry)
		// Anchored at repository.
		pathFromStatus := turbopath.AnchoredUnixPathFromUpstream(statusEntry.GetField(gitoutput.Path))
		var outputPath turbopath.AnchoredUnixPath

		if len(traversePath) > 0 {
			repositoryPath := convertedRootPath.Join(traversePath.ToSystemPath())
			fileFullPath := pathFromStatus.ToSystemPath().RestoreAnchor(repositoryPath)

			relativePath, err := fileFullPath.RelativeTo(convertedRootPath)
			if err != nil {
				return nil, err
			}

			outputPath = relativePath.ToUnixPath()
		} else {
			outputPath = pathFromStatus
		}

		output[outputPath] = statusCode{x: statusEntry.GetField(gitoutput.StatusX), y: statusEntry.GetField(gitoutput.StatusY)}
	}

	return output, nil
}
