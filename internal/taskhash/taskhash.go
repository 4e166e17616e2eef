// Package taskhash computes the content hashes that drive cache lookups: one
// hash per package-inputs combination, and one hash per package-task that
// folds in its dependencies' hashes, its declared/inferred env vars, and the
// global hash.
package taskhash

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pyr-sh/dag"
	"github.com/turbolite/turbo/internal/env"
	"github.com/turbolite/turbo/internal/fs"
	"github.com/turbolite/turbo/internal/fs/hash"
	"github.com/turbolite/turbo/internal/hashing"
	"github.com/turbolite/turbo/internal/inference"
	"github.com/turbolite/turbo/internal/nodes"
	"github.com/turbolite/turbo/internal/runsummary"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
	"github.com/turbolite/turbo/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// Tracker caches the two hash layers a run needs: package-inputs hashes
// (computed once per package-task by CalculateFileHashes, read-only
// afterwards) and package-task hashes (computed one task at a time by
// CalculateTaskHash, which must run in topological order since each task
// folds in the hashes of the tasks it depends on).
type Tracker struct {
	rootNode            string
	globalHash          string
	EnvAtExecutionStart env.EnvironmentVariableMap
	pipeline            fs.Pipeline

	packageInputsHashes map[string]string

	// packageInputsExpandedHashes maps a taskID to the per-file hashes that
	// went into its packageInputsHashes entry. Populated entirely inside
	// CalculateFileHashes, which runs to completion before the task graph is
	// walked, so no locking is needed for reads that happen afterward.
	packageInputsExpandedHashes map[string]map[turbopath.AnchoredUnixPath]string

	// Everything below is written while the task graph is being walked
	// concurrently, so it's guarded by mu.
	mu                     sync.RWMutex
	packageTaskEnvVars     map[string]env.DetailedMap
	packageTaskHashes      map[string]string
	packageTaskFramework   map[string]string
	packageTaskOutputs     map[string][]turbopath.AnchoredSystemPath
	packageTaskCacheStatus map[string]runsummary.TaskCacheSummary
}

// NewTracker returns a Tracker scoped to a single run: rootNode identifies
// the synthetic root vertex, globalHash is the run-wide hash every task hash
// is derived from, and envAtExecutionStart/pipeline feed env-var resolution.
func NewTracker(rootNode string, globalHash string, envAtExecutionStart env.EnvironmentVariableMap, pipeline fs.Pipeline) *Tracker {
	return &Tracker{
		rootNode:               rootNode,
		globalHash:             globalHash,
		EnvAtExecutionStart:    envAtExecutionStart,
		pipeline:               pipeline,
		packageTaskHashes:      make(map[string]string),
		packageTaskFramework:   make(map[string]string),
		packageTaskEnvVars:     make(map[string]env.DetailedMap),
		packageTaskOutputs:     make(map[string][]turbopath.AnchoredSystemPath),
		packageTaskCacheStatus: make(map[string]runsummary.TaskCacheSummary),
	}
}

// fileHashRequest is one package-task's worth of work for the file-hashing
// worker pool below: which package to hash files in, and which task's
// `inputs`/`dotEnv` config governs the glob selection.
type fileHashRequest struct {
	taskID         string
	taskDefinition *fs.TaskDefinition
	packageName    string
}

// CalculateFileHashes computes, for every non-root vertex in allTasks, the
// combined hash of the files its task's `inputs` (plus any declared `dotEnv`
// files) resolve to. It must run before any call to CalculateTaskHash, and
// fans the work out across workerCount goroutines since file hashing is i/o
// bound and packages are independent of each other.
func (th *Tracker) CalculateFileHashes(
	allTasks []dag.Vertex,
	workerCount int,
	workspaceInfos workspace.Catalog,
	taskDefinitions map[string]*fs.TaskDefinition,
	repoRoot turbopath.AbsoluteSystemPath,
) error {
	requests, err := th.collectFileHashRequests(allTasks, taskDefinitions)
	if err != nil {
		return err
	}

	hashes := make(map[string]string, len(requests))
	hashObjects := make(map[string]map[turbopath.AnchoredUnixPath]string, len(requests))

	queue := make(chan *fileHashRequest, workerCount)
	var resultsMu sync.Mutex
	workers := &errgroup.Group{}

	for i := 0; i < workerCount; i++ {
		workers.Go(func() error {
			for req := range queue {
				pkg, ok := workspaceInfos.PackageJSONs[req.packageName]
				if !ok {
					return fmt.Errorf("cannot find package %v", req.packageName)
				}

				hashObject, combined, err := hashPackageFiles(repoRoot, pkg, req.taskDefinition)
				if err != nil {
					return err
				}

				resultsMu.Lock()
				hashes[req.taskID] = combined
				hashObjects[req.taskID] = hashObject
				resultsMu.Unlock()
			}
			return nil
		})
	}
	for _, req := range requests {
		queue <- req
	}
	close(queue)
	if err := workers.Wait(); err != nil {
		return err
	}

	th.packageInputsHashes = hashes
	th.packageInputsExpandedHashes = hashObjects
	return nil
}

// collectFileHashRequests filters allTasks down to the package-task pairs
// that actually need file hashing, skipping the synthetic root.
func (th *Tracker) collectFileHashRequests(allTasks []dag.Vertex, taskDefinitions map[string]*fs.TaskDefinition) ([]*fileHashRequest, error) {
	requests := make([]*fileHashRequest, 0, len(allTasks))
	for _, v := range allTasks {
		taskID, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unknown task %v", v)
		}
		if taskID == th.rootNode {
			continue
		}

		packageName, _ := util.GetPackageTaskFromId(taskID)
		if packageName == th.rootNode {
			continue
		}

		taskDefinition, ok := taskDefinitions[taskID]
		if !ok {
			return nil, fmt.Errorf("missing pipeline entry %v", taskID)
		}

		requests = append(requests, &fileHashRequest{
			taskID:         taskID,
			taskDefinition: taskDefinition,
			packageName:    packageName,
		})
	}
	return requests, nil
}

// hashPackageFiles resolves a package-task's `inputs` globs (plus any
// explicitly declared `dotEnv` files, which aren't globs and are merged in
// separately) to per-file hashes, and returns both that map and its combined
// hash.
func hashPackageFiles(repoRoot turbopath.AbsoluteSystemPath, pkg *fs.PackageJSON, taskDefinition *fs.TaskDefinition) (map[turbopath.AnchoredUnixPath]string, string, error) {
	hashObject, err := hashing.GetPackageFileHashes(repoRoot, pkg.Dir, taskDefinition.Inputs)
	if err != nil {
		return nil, "", err
	}

	if len(taskDefinition.DotEnv) > 0 {
		packagePath := pkg.Dir.RestoreAnchor(repoRoot)
		dotEnvObject, err := hashing.GetHashesForExistingFiles(packagePath, taskDefinition.DotEnv.ToSystemPathArray())
		if err != nil {
			return nil, "", err
		}
		for key, value := range dotEnvObject {
			hashObject[key] = value
		}
	}

	combined, err := fs.HashFileHashes(hashObject)
	if err != nil {
		return nil, "", err
	}
	return hashObject, combined, nil
}

// hashTaskHashable hashes a fully-populated hash.TaskHashable, normalizing
// the pass-through-env fields first according to envMode: loose mode ignores
// them entirely (they can't affect the hash), strict mode requires a
// non-nil-vs-nil distinction to not matter.
func hashTaskHashable(full *hash.TaskHashable) (string, error) {
	switch full.EnvMode {
	case util.Loose:
		full.PassThroughEnv = nil
	case util.Strict:
		if full.PassThroughEnv == nil {
			full.PassThroughEnv = make([]string, 0)
		}
	case util.Infer:
		panic("task inferred status should have already been resolved")
	default:
		panic("unimplemented environment mode")
	}
	return fs.HashTask(full)
}

// dependencyHashes returns the sorted, deduplicated hashes of every
// non-root task in dependencySet. Every dependency must already have a
// recorded hash, which callers guarantee by walking the task graph in
// topological order.
func (th *Tracker) dependencyHashes(dependencySet dag.Set) ([]string, error) {
	th.mu.RLock()
	defer th.mu.RUnlock()

	rootPrefix := th.rootNode + util.TaskDelimiter
	seen := make(util.Set)
	for _, dependency := range dependencySet {
		if dependency == th.rootNode {
			continue
		}
		dependencyTask, ok := dependency.(string)
		if !ok {
			return nil, fmt.Errorf("unknown task: %v", dependency)
		}
		if strings.HasPrefix(dependencyTask, rootPrefix) {
			continue
		}
		dependencyHash, ok := th.packageTaskHashes[dependencyTask]
		if !ok {
			return nil, fmt.Errorf("missing hash for dependent task: %v", dependencyTask)
		}
		seen.Add(dependencyHash)
	}

	hashes := seen.UnsafeListOfStrings()
	sort.Strings(hashes)
	return hashes, nil
}

// resolvedTaskEnv figures out which environment variables count toward a
// task's hash: always the ones named in its `env` key, plus (when framework
// inference is on and a framework is detected) the framework's own wildcard
// prefixes, minus anything the task explicitly excludes.
func (th *Tracker) resolvedTaskEnv(logger hclog.Logger, packageTask *nodes.PackageTask, frameworkInference bool) (env.DetailedMap, *inference.Framework, error) {
	allEnvVarMap := env.EnvironmentVariableMap{}
	explicitEnvVarMap := env.EnvironmentVariableMap{}
	matchingEnvVarMap := env.EnvironmentVariableMap{}

	var framework *inference.Framework
	if frameworkInference {
		framework = inference.InferFramework(packageTask.Pkg)
	}

	if framework == nil {
		var err error
		allEnvVarMap, err = th.EnvAtExecutionStart.FromWildcards(packageTask.TaskDefinition.Env)
		if err != nil {
			return env.DetailedMap{}, nil, err
		}
		explicitEnvVarMap.Union(allEnvVarMap)
		return env.DetailedMap{
			All:      allEnvVarMap,
			BySource: env.BySource{Explicit: explicitEnvVarMap, Matching: matchingEnvVarMap},
		}, nil, nil
	}

	logger.Debug(fmt.Sprintf("auto detected framework for %s", packageTask.PackageName), "framework", framework.Slug, "env_prefix", framework.EnvWildcards)

	wildcards := append([]string{}, framework.EnvWildcards...)
	// Vendor excludes only ever apply against the inferred includes, never
	// against whatever the user explicitly asked for.
	if excludePrefix, ok := th.EnvAtExecutionStart["TURBO_CI_VENDOR_ENV_KEY"]; ok && excludePrefix != "" {
		exclude := "!" + excludePrefix + "*"
		logger.Debug(fmt.Sprintf("excluding environment variables matching wildcard %s", exclude))
		wildcards = append(wildcards, exclude)
	}

	inferred, err := th.EnvAtExecutionStart.FromWildcards(wildcards)
	if err != nil {
		return env.DetailedMap{}, nil, err
	}
	userSet, err := th.EnvAtExecutionStart.FromWildcardsUnresolved(packageTask.TaskDefinition.Env)
	if err != nil {
		return env.DetailedMap{}, nil, err
	}

	allEnvVarMap.Union(userSet.Inclusions)
	allEnvVarMap.Union(inferred)
	allEnvVarMap.Difference(userSet.Exclusions)

	explicitEnvVarMap.Union(userSet.Inclusions)
	explicitEnvVarMap.Difference(userSet.Exclusions)

	matchingEnvVarMap.Union(inferred)
	matchingEnvVarMap.Difference(userSet.Exclusions)

	return env.DetailedMap{
		All:      allEnvVarMap,
		BySource: env.BySource{Explicit: explicitEnvVarMap, Matching: matchingEnvVarMap},
	}, framework, nil
}

// CalculateTaskHash computes and records the hash for packageTask. It must
// be called after CalculateFileHashes, and after CalculateTaskHash has
// already been called for every task in dependencySet — concurrent calls
// for unrelated tasks are safe, but respecting topological order is the
// caller's responsibility.
func (th *Tracker) CalculateTaskHash(logger hclog.Logger, packageTask *nodes.PackageTask, dependencySet dag.Set, frameworkInference bool, args []string) (string, error) {
	hashOfFiles, ok := th.packageInputsHashes[packageTask.TaskID]
	if !ok {
		return "", fmt.Errorf("cannot find package-file hash for %v", packageTask.TaskID)
	}

	envVars, framework, err := th.resolvedTaskEnv(logger, packageTask, frameworkInference)
	if err != nil {
		return "", err
	}

	taskDependencyHashes, err := th.dependencyHashes(dependencySet)
	if err != nil {
		return "", err
	}

	hashableEnvPairs := envVars.All.ToHashable()
	logger.Debug(fmt.Sprintf("task hash env vars for %s:%s", packageTask.PackageName, packageTask.Task), "vars", hashableEnvPairs)

	taskHash, err := hashTaskHashable(&hash.TaskHashable{
		GlobalHash:           th.globalHash,
		TaskDependencyHashes: taskDependencyHashes,
		PackageDir:           packageTask.Pkg.Dir.ToUnixPath(),
		HashOfFiles:          hashOfFiles,
		ExternalDepsHash:     packageTask.Pkg.ExternalDepsHash,
		Task:                 packageTask.Task,
		Outputs:              packageTask.HashableOutputs(),
		PassThruArgs:         args,
		Env:                  packageTask.TaskDefinition.Env,
		ResolvedEnvVars:      hashableEnvPairs,
		PassThroughEnv:       packageTask.TaskDefinition.PassThroughEnv,
		EnvMode:              packageTask.EnvMode,
		DotEnv:               packageTask.TaskDefinition.DotEnv,
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash task %v: %v", packageTask.TaskID, err)
	}

	th.mu.Lock()
	th.packageTaskEnvVars[packageTask.TaskID] = envVars
	th.packageTaskHashes[packageTask.TaskID] = taskHash
	if framework != nil {
		th.packageTaskFramework[packageTask.TaskID] = framework.Slug
	}
	th.mu.Unlock()

	return taskHash, nil
}

// GetExpandedInputs returns a copy of the per-file hashes that went into
// packageTask's file hash, so callers can mutate it freely.
func (th *Tracker) GetExpandedInputs(packageTask *nodes.PackageTask) map[turbopath.AnchoredUnixPath]string {
	expanded := th.packageInputsExpandedHashes[packageTask.TaskID]
	cp := make(map[turbopath.AnchoredUnixPath]string, len(expanded))
	for path, hash := range expanded {
		cp[path] = hash
	}
	return cp
}

// GetEnvVars returns the env vars that were folded into taskID's hash.
func (th *Tracker) GetEnvVars(taskID string) env.DetailedMap {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.packageTaskEnvVars[taskID]
}

// GetFramework returns the framework slug inferred for taskID, or "" if
// framework inference didn't run or didn't match anything.
func (th *Tracker) GetFramework(taskID string) string {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.packageTaskFramework[taskID]
}

// GetExpandedOutputs returns the output paths recorded for taskID, or an
// empty slice if none have been set yet.
func (th *Tracker) GetExpandedOutputs(taskID string) []turbopath.AnchoredSystemPath {
	th.mu.RLock()
	defer th.mu.RUnlock()
	if outputs, ok := th.packageTaskOutputs[taskID]; ok {
		return outputs
	}
	return []turbopath.AnchoredSystemPath{}
}

// SetExpandedOutputs records the concrete output paths a task produced, for
// later lookup via GetExpandedOutputs.
func (th *Tracker) SetExpandedOutputs(taskID string, outputs []turbopath.AnchoredSystemPath) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.packageTaskOutputs[taskID] = outputs
}

// SetCacheStatus records how taskID's cache lookup resolved.
func (th *Tracker) SetCacheStatus(taskID string, cacheSummary runsummary.TaskCacheSummary) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.packageTaskCacheStatus[taskID] = cacheSummary
}

// GetCacheStatus returns the cache status recorded for taskID, or a
// zero-value TaskCacheSummary if none was recorded.
func (th *Tracker) GetCacheStatus(taskID string) runsummary.TaskCacheSummary {
	th.mu.Lock()
	defer th.mu.Unlock()
	if status, ok := th.packageTaskCacheStatus[taskID]; ok {
		return status
	}
	return runsummary.TaskCacheSummary{}
}
