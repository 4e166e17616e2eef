package run

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/pyr-sh/dag"
	"github.com/turbolite/turbo/internal/env"
	"github.com/turbolite/turbo/internal/fs"
	"github.com/turbolite/turbo/internal/graph"
	"github.com/turbolite/turbo/internal/packagemanager"
	"github.com/turbolite/turbo/internal/run"
	"github.com/turbolite/turbo/internal/taskhash"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
	"github.com/turbolite/turbo/internal/workspace"
)

// buildCompleteGraph discovers every workspace below repoRoot, wires up the
// dependency graph between them, loads the root pipeline, and computes the
// global hash. The result is the shared, run-independent state that the
// engine, scope resolver, and task hasher are all built on top of.
func buildCompleteGraph(repoRoot turbopath.AbsoluteSystemPath, rootEnv []string, logger hclog.Logger, globalDepPatterns []string, isSinglePackage bool) (*graph.CompleteGraph, *packagemanager.PackageManager, error) {
	rootPackageJSONPath := repoRoot.UntypedJoin("package.json")
	rootPackageJSON, err := fs.ReadPackageJSON(rootPackageJSONPath)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read root package.json: %w", err)
	}
	rootPackageJSON.Dir = ""
	rootPackageJSON.Name = util.RootPkgName

	pm, err := packagemanager.GetPackageManager(repoRoot, rootPackageJSON)
	if err != nil {
		return nil, nil, err
	}

	workspaceInfos := workspace.Catalog{
		PackageJSONs: map[string]*fs.PackageJSON{
			util.RootPkgName: rootPackageJSON,
		},
		TurboConfigs: map[string]*fs.TurboJSON{},
	}

	workspaceGraph := dag.AcyclicGraph{}
	workspaceGraph.Add(util.RootPkgName)

	if !isSinglePackage {
		workspaceGlobs, err := pm.GetWorkspaces(repoRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("could not resolve workspaces: %w", err)
		}

		for _, pkgJSONPath := range workspaceGlobs {
			absPath := turbopath.AbsoluteSystemPathFromUpstream(pkgJSONPath)
			pkgJSON, err := fs.ReadPackageJSON(absPath)
			if err != nil {
				return nil, nil, fmt.Errorf("could not read %v: %w", pkgJSONPath, err)
			}

			anchoredPath, err := absPath.RelativeTo(repoRoot)
			if err != nil {
				return nil, nil, err
			}
			pkgJSON.Dir = turbopath.AnchoredSystemPathFromUpstream(filepath.Dir(anchoredPath.ToString()))
			pkgJSON.PackageJSONPath = anchoredPath

			if pkgJSON.Name == "" {
				logger.Warn("skipping workspace with no name", "path", pkgJSONPath)
				continue
			}

			if existing, ok := workspaceInfos.PackageJSONs[pkgJSON.Name]; ok {
				return nil, nil, fmt.Errorf("duplicate workspace name %q: %v and %v", pkgJSON.Name, existing.Dir, pkgJSON.Dir)
			}

			workspaceInfos.PackageJSONs[pkgJSON.Name] = pkgJSON
			workspaceGraph.Add(pkgJSON.Name)
		}
	}

	for name, pkgJSON := range workspaceInfos.PackageJSONs {
		if err := populateWorkspaceGraphEdges(&workspaceGraph, pkgJSON, workspaceInfos); err != nil {
			return nil, nil, fmt.Errorf("could not resolve dependencies for %v: %w", name, err)
		}
	}

	rootTurboJSON, err := fs.LoadTurboConfig(repoRoot, rootPackageJSON, isSinglePackage)
	if err != nil {
		return nil, nil, err
	}
	workspaceInfos.TurboConfigs[util.RootPkgName] = rootTurboJSON

	envAtExecutionStart := env.GetEnvMap()

	globalHash, err := run.CalculateGlobalHash(
		repoRoot,
		rootPackageJSON,
		rootTurboJSON.Pipeline,
		rootTurboJSON.GlobalEnv,
		append(append([]string{}, rootTurboJSON.GlobalDeps...), globalDepPatterns...),
		pm,
		logger,
		rootEnv,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to calculate global hash: %w", err)
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        rootTurboJSON.Pipeline,
		WorkspaceInfos:  workspaceInfos,
		GlobalHash:      globalHash,
		RootNode:        util.RootPkgName,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		RepoRoot:        repoRoot,
	}
	completeGraph.TaskHashTracker = taskhash.NewTracker(completeGraph.RootNode, completeGraph.GlobalHash, envAtExecutionStart, completeGraph.Pipeline)

	return completeGraph, pm, nil
}

// populateWorkspaceGraphEdges connects pkgJSON to every workspace it depends on, and
// records the dependency names split between internal (workspace) and external
// (registry) on the package itself. Leaf packages (no internal deps) are connected
// directly to the root, so the whole graph stays reachable from a single node.
func populateWorkspaceGraphEdges(workspaceGraph *dag.AcyclicGraph, pkgJSON *fs.PackageJSON, workspaceInfos workspace.Catalog) error {
	allDeps := map[string]string{}
	for dep, version := range pkgJSON.Dependencies {
		allDeps[dep] = version
	}
	for dep, version := range pkgJSON.DevDependencies {
		allDeps[dep] = version
	}
	for dep, version := range pkgJSON.OptionalDependencies {
		allDeps[dep] = version
	}
	for dep, version := range pkgJSON.PeerDependencies {
		allDeps[dep] = version
	}

	internalDeps := make(util.Set)
	unresolvedExternalDeps := map[string]string{}

	for dep, version := range allDeps {
		if dep == pkgJSON.Name {
			continue
		}
		if _, ok := workspaceInfos.PackageJSONs[dep]; ok {
			internalDeps.Add(dep)
			workspaceGraph.Connect(dag.BasicEdge(pkgJSON.Name, dep))
		} else {
			unresolvedExternalDeps[dep] = version
		}
	}

	if internalDeps.Len() == 0 && pkgJSON.Name != util.RootPkgName {
		workspaceGraph.Connect(dag.BasicEdge(pkgJSON.Name, util.RootPkgName))
	}

	pkgJSON.InternalDeps = internalDeps.UnsafeListOfStrings()
	sort.Strings(pkgJSON.InternalDeps)
	pkgJSON.UnresolvedExternalDeps = unresolvedExternalDeps

	externalDepNames := make([]string, 0, len(unresolvedExternalDeps))
	for dep, version := range unresolvedExternalDeps {
		externalDepNames = append(externalDepNames, dep+"@"+version)
	}
	sort.Strings(externalDepNames)
	externalDepsHash, err := fs.HashObject(externalDepNames)
	if err != nil {
		return err
	}
	pkgJSON.ExternalDepsHash = externalDepsHash

	return nil
}
