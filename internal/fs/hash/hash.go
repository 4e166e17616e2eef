// Package hash defines the hashable representations of tasks and global
// dependencies that get turned into content-addressed cache keys, along
// with the functions that turn them into stable hash strings.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/turbolite/turbo/internal/env"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
)

// TaskHashable is a hashable representation of a task to be run
type TaskHashable struct {
	GlobalHash           string
	TaskDependencyHashes []string
	PackageDir           turbopath.AnchoredUnixPath
	HashOfFiles          string
	ExternalDepsHash     string
	Task                 string
	Outputs              TaskOutputs
	PassThruArgs         []string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	DotEnv               turbopath.AnchoredUnixPathArray
}

// GlobalHashable is a hashable representation of global dependencies for tasks
type GlobalHashable struct {
	GlobalCacheKey       string
	GlobalFileHashMap    map[turbopath.AnchoredUnixPath]string
	RootExternalDepsHash string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	FrameworkInference   bool

	// NOTE! This field is _explicitly_ ordered and should not be sorted.
	DotEnv turbopath.AnchoredUnixPathArray
}

// TaskOutputs represents the patterns for including and excluding files from outputs
type TaskOutputs struct {
	Inclusions []string
	Exclusions []string
}

// Sort contents of task outputs
func (to *TaskOutputs) Sort() {
	sort.Strings(to.Inclusions)
	sort.Strings(to.Exclusions)
}

// writer accumulates a deterministic byte stream to be hashed. Every field of
// a hashable struct is fed into it in a fixed order so that two equal structs
// always produce the same sequence of bytes, regardless of map iteration order.
type writer struct {
	b strings.Builder
}

func (w *writer) str(s string) {
	w.b.WriteString(strconv.Itoa(len(s)))
	w.b.WriteByte(':')
	w.b.WriteString(s)
}

func (w *writer) list(items []string) {
	w.b.WriteString(strconv.Itoa(len(items)))
	w.b.WriteByte('[')
	for _, item := range items {
		w.str(item)
	}
	w.b.WriteByte(']')
}

func (w *writer) anchoredUnixList(paths turbopath.AnchoredUnixPathArray) {
	strs := make([]string, len(paths))
	for i, p := range paths {
		strs[i] = p.ToString()
	}
	w.list(strs)
}

func (w *writer) bool(v bool) {
	if v {
		w.b.WriteByte('1')
	} else {
		w.b.WriteByte('0')
	}
}

func (w *writer) sum() string {
	digest := sha1.Sum([]byte(w.b.String()))
	return hex.EncodeToString(digest[:])
}

// HashTaskHashable hashes a TaskHashable into a stable, deterministic digest.
//
// Field order matters and is, deliberately, not sorted or otherwise
// normalized beyond what's noted below:
//   - GlobalHash
//   - PackageDir
//   - HashOfFiles
//   - ExternalDepsHash
//   - Task
//   - EnvMode
//   - Outputs
//   - TaskDependencyHashes
//   - PassThruArgs
//   - Env
//   - PassThroughEnv
//   - DotEnv
//   - ResolvedEnvVars
func HashTaskHashable(task *TaskHashable) (string, error) {
	w := &writer{}
	w.str(task.GlobalHash)
	w.str(task.PackageDir.ToString())
	w.str(task.HashOfFiles)
	w.str(task.ExternalDepsHash)
	w.str(task.Task)
	w.str(string(task.EnvMode))
	w.list(task.Outputs.Inclusions)
	w.list(task.Outputs.Exclusions)
	w.list(task.TaskDependencyHashes)
	w.list(task.PassThruArgs)
	w.list(task.Env)
	w.list(task.PassThroughEnv)
	w.anchoredUnixList(task.DotEnv)
	w.list([]string(task.ResolvedEnvVars))
	return w.sum(), nil
}

// HashGlobalHashable hashes a GlobalHashable into a stable, deterministic digest.
//
// Field order matters and is, deliberately, not sorted or otherwise
// normalized beyond what's noted below:
//   - GlobalCacheKey
//   - GlobalFileHashMap
//   - RootExternalDepsHash
//   - Env
//   - ResolvedEnvVars
//   - PassThroughEnv
//   - EnvMode
//   - FrameworkInference
//   - DotEnv
func HashGlobalHashable(global *GlobalHashable) (string, error) {
	w := &writer{}
	w.str(global.GlobalCacheKey)

	keys := make([]string, 0, len(global.GlobalFileHashMap))
	for k := range global.GlobalFileHashMap {
		keys = append(keys, k.ToString())
	}
	sort.Strings(keys)
	w.b.WriteString(strconv.Itoa(len(keys)))
	w.b.WriteByte('{')
	for _, k := range keys {
		w.str(k)
		w.str(global.GlobalFileHashMap[turbopath.AnchoredUnixPathFromUpstream(k)])
	}
	w.b.WriteByte('}')

	w.str(global.RootExternalDepsHash)
	w.list(global.Env)
	w.list([]string(global.ResolvedEnvVars))
	w.list(global.PassThroughEnv)
	w.str(string(global.EnvMode))
	w.bool(global.FrameworkInference)
	w.anchoredUnixList(global.DotEnv)

	return w.sum(), nil
}

// HashFileHashes hashes a map of repo-relative file paths to their content
// hashes into a single stable digest, sorted by path for determinism.
func HashFileHashes(fileHashes map[turbopath.AnchoredUnixPath]string) (string, error) {
	keys := make([]string, 0, len(fileHashes))
	for k := range fileHashes {
		keys = append(keys, k.ToString())
	}
	sort.Strings(keys)

	w := &writer{}
	w.b.WriteString(strconv.Itoa(len(keys)))
	w.b.WriteByte('{')
	for _, k := range keys {
		w.str(k)
		w.str(fileHashes[turbopath.AnchoredUnixPathFromUpstream(k)])
	}
	w.b.WriteByte('}')

	return w.sum(), nil
}
