package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/pyr-sh/dag"
	"github.com/turbolite/turbo/internal/doublestar"
	"github.com/turbolite/turbo/internal/graph"
	"github.com/turbolite/turbo/internal/util"
)

// SelectedPackages is the result of resolving a set of filter selectors
// against the workspace graph: the packages that matched, plus any selector
// that matched nothing (so callers can warn about a typo'd filter).
type SelectedPackages struct {
	pkgs          util.Set
	unusedFilters []*TargetSelector
}

// PackagesChangedInRange is the signature of a function to provide the set of
// packages that have changed in a particular range of git refs.
type PackagesChangedInRange = func(fromRef string, toRef string) (util.Set, error)

// Resolver turns raw `--filter` selector strings into a concrete package
// set, using Graph for dependency/dependent walks and PackagesChangedInRange
// to answer "what changed" queries.
type Resolver struct {
	Graph                  *dag.AcyclicGraph
	WorkspaceInfos         graph.WorkspaceInfos
	Cwd                    string
	PackagesChangedInRange PackagesChangedInRange
}

// GetPackagesFromPatterns parses patterns as filter selectors and resolves
// them against the graph, returning only the matched package set.
func (r *Resolver) GetPackagesFromPatterns(patterns []string) (util.Set, error) {
	selectors := make([]*TargetSelector, 0, len(patterns))
	for _, pattern := range patterns {
		selector, err := ParseTargetSelector(pattern, r.Cwd)
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, &selector)
	}
	selected, err := r.GetFilteredPackages(selectors)
	if err != nil {
		return nil, err
	}
	return selected.pkgs, nil
}

// GetFilteredPackages resolves selectors into a SelectedPackages. Prod-only
// selectors (those produced by `--filter=...[prod]`) are only honored when
// there are no general selectors to resolve instead, mirroring how a single
// `--filter` flag is meant to narrow rather than union.
func (r *Resolver) GetFilteredPackages(selectors []*TargetSelector) (*SelectedPackages, error) {
	var prodOnly, general []*TargetSelector
	for _, selector := range selectors {
		if selector.followProdDepsOnly {
			prodOnly = append(prodOnly, selector)
		} else {
			general = append(general, selector)
		}
	}

	if len(general) == 0 && len(prodOnly) == 0 {
		return &SelectedPackages{pkgs: make(util.Set)}, nil
	}
	if len(general) == 0 {
		// Nothing but prod-only selectors were given; there is currently no
		// separate prod-dependency graph to resolve them against.
		return &SelectedPackages{pkgs: make(util.Set)}, nil
	}
	return r.filterGraph(general)
}

// filterGraph splits selectors into includes and excludes, resolves each
// half independently, and subtracts excludes from includes.
func (r *Resolver) filterGraph(selectors []*TargetSelector) (*SelectedPackages, error) {
	var includeSelectors, excludeSelectors []*TargetSelector
	for _, selector := range selectors {
		if selector.exclude {
			excludeSelectors = append(excludeSelectors, selector)
		} else {
			includeSelectors = append(includeSelectors, selector)
		}
	}

	include, err := r.resolveIncludeSet(includeSelectors)
	if err != nil {
		return nil, err
	}
	exclude, err := r.filterGraphWithSelectors(excludeSelectors)
	if err != nil {
		return nil, err
	}
	return &SelectedPackages{
		pkgs:          include.pkgs.Difference(exclude.pkgs),
		unusedFilters: append(include.unusedFilters, exclude.unusedFilters...),
	}, nil
}

// resolveIncludeSet resolves the include half of a filter: an empty
// selector list means "every package in the graph", matching how an
// all-exclude filter set (e.g. `--filter=!foo`) is meant to start from the
// whole workspace.
func (r *Resolver) resolveIncludeSet(includeSelectors []*TargetSelector) (*SelectedPackages, error) {
	if len(includeSelectors) > 0 {
		return r.filterGraphWithSelectors(includeSelectors)
	}
	everyPackage := make(util.Set)
	for _, v := range r.Graph.Vertices() {
		everyPackage.Add(v)
	}
	return &SelectedPackages{pkgs: everyPackage}, nil
}

// filterGraphWithSelectors resolves each selector to its matched packages,
// then expands those matches along dependency/dependent edges as the
// selector's modifiers (`...`, `^...`, etc.) request, unioning the results.
func (r *Resolver) filterGraphWithSelectors(selectors []*TargetSelector) (*SelectedPackages, error) {
	var unmatchedSelectors []*TargetSelector

	cherryPicked := make(dag.Set)
	ancestorsOfMatches := make(dag.Set)
	descendantsOfMatches := make(dag.Set)
	ancestorsOfDescendants := make(dag.Set)

	for _, selector := range selectors {
		entryPackages, err := r.filterGraphWithSelector(selector)
		if err != nil {
			return nil, err
		}
		if entryPackages.Len() == 0 {
			unmatchedSelectors = append(unmatchedSelectors, selector)
			continue
		}
		for _, pkg := range entryPackages {
			if err := r.expandSelectorMatch(selector, pkg, cherryPicked, ancestorsOfMatches, descendantsOfMatches, ancestorsOfDescendants); err != nil {
				return nil, err
			}
		}
	}

	allPkgs := make(util.Set)
	for _, set := range []dag.Set{cherryPicked, ancestorsOfMatches, descendantsOfMatches, ancestorsOfDescendants} {
		for pkg := range set {
			allPkgs.Add(pkg)
		}
	}
	return &SelectedPackages{
		pkgs:          allPkgs,
		unusedFilters: unmatchedSelectors,
	}, nil
}

// expandSelectorMatch folds one matched package into the running
// dependency/dependent accumulators according to selector's modifiers.
func (r *Resolver) expandSelectorMatch(selector *TargetSelector, pkg dag.Vertex, cherryPicked, ancestorsOfMatches, descendantsOfMatches, ancestorsOfDescendants dag.Set) error {
	switch {
	case selector.includeDependencies:
		ancestors, err := r.Graph.Ancestors(pkg)
		if err != nil {
			return errors.Wrapf(err, "failed to get dependencies of package %v", pkg)
		}
		for dep := range ancestors {
			ancestorsOfMatches.Add(dep)
		}
		if !selector.excludeSelf {
			ancestorsOfMatches.Add(pkg)
		}
		fallthrough
	case selector.includeDependents:
		if !selector.includeDependents {
			break
		}
		descendants, err := r.Graph.Descendents(pkg)
		if err != nil {
			return errors.Wrapf(err, "failed to get dependents of package %v", pkg)
		}
		for dep := range descendants {
			descendantsOfMatches.Add(dep)
			if !selector.includeDependencies {
				continue
			}
			dependentAncestors, err := r.Graph.Ancestors(dep)
			if err != nil {
				return errors.Wrapf(err, "failed to get dependencies of dependent %v", dep)
			}
			for dependentDep := range dependentAncestors {
				ancestorsOfDescendants.Add(dependentDep)
			}
		}
		if !selector.excludeSelf {
			descendantsOfMatches.Add(pkg)
		}
	default:
		cherryPicked.Add(pkg)
	}
	return nil
}

func (r *Resolver) filterGraphWithSelector(selector *TargetSelector) (util.Set, error) {
	if selector.matchDependencies {
		return r.filterSubtreesWithSelector(selector)
	}
	return r.filterNodesWithSelector(selector)
}

// changedPackageInParentDir filters a set of changed package names down to
// the ones that live (or, for the workspace root, resolve) under parentDir.
func (r *Resolver) changedPackageInParentDir(changedPkgs util.Set, parentDir string) (util.Set, error) {
	entryPackages := make(util.Set)
	for pkgName := range changedPkgs {
		pkgNameStr := pkgName.(string)
		if pkgName == util.RootPkgName {
			matches, err := doublestar.PathMatch(parentDir, r.Cwd)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve directory relationship %v contains %v: %v", parentDir, r.Cwd, err)
			}
			if matches {
				entryPackages.Add(pkgName)
			}
			continue
		}
		pkg, ok := r.WorkspaceInfos[pkgNameStr]
		if !ok {
			return nil, fmt.Errorf("missing info for package %v", pkgName)
		}
		matches, err := doublestar.PathMatch(parentDir, filepath.Join(r.Cwd, pkg.Dir.ToStringDuringMigration()))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve directory relationship %v contains %v: %v", parentDir, pkg.Dir, err)
		}
		if matches {
			entryPackages.Add(pkgName)
		}
	}
	return entryPackages, nil
}

// filterNodesWithSelector returns the set of nodes that match a given selector
func (r *Resolver) filterNodesWithSelector(selector *TargetSelector) (util.Set, error) {
	entryPackages := make(util.Set)
	selectorWasUsed := false

	switch {
	case selector.fromRef != "":
		selectorWasUsed = true
		changedPkgs, err := r.PackagesChangedInRange(selector.fromRef, selector.getToRef())
		if err != nil {
			return nil, err
		}
		if selector.parentDir == "" {
			entryPackages = changedPkgs
		} else {
			filtered, err := r.changedPackageInParentDir(changedPkgs, selector.parentDir)
			if err != nil {
				return nil, err
			}
			entryPackages = filtered
		}
	case selector.parentDir != "":
		selectorWasUsed = true
		if selector.parentDir == r.Cwd {
			entryPackages.Add(util.RootPkgName)
		} else {
			for name, pkg := range r.WorkspaceInfos {
				matches, err := doublestar.PathMatch(selector.parentDir, filepath.Join(r.Cwd, pkg.Dir.ToStringDuringMigration()))
				if err != nil {
					return nil, fmt.Errorf("failed to resolve directory relationship %v contains %v: %v", selector.parentDir, pkg.Dir, err)
				}
				if matches {
					entryPackages.Add(name)
				}
			}
		}
	}

	if selector.namePattern != "" {
		if !selectorWasUsed {
			matched, err := matchPackageNamesToVertices(selector.namePattern, r.Graph.Vertices())
			if err != nil {
				return nil, err
			}
			entryPackages = matched
		} else {
			matched, err := matchPackageNames(selector.namePattern, entryPackages)
			if err != nil {
				return nil, err
			}
			entryPackages = matched
		}
		selectorWasUsed = true
	}

	if !selectorWasUsed {
		return nil, fmt.Errorf("invalid selector: %v", selector.raw)
	}
	return entryPackages, nil
}

// filterSubtreesWithSelector returns the set of nodes where the node or any
// of its dependencies match a selector (the `...[ref]` "match dependencies"
// form).
func (r *Resolver) filterSubtreesWithSelector(selector *TargetSelector) (util.Set, error) {
	changedPkgs, err := r.PackagesChangedInRange(selector.fromRef, selector.getToRef())
	if err != nil {
		return nil, err
	}

	candidates, err := r.candidatePackages(selector)
	if err != nil {
		return nil, err
	}

	roots := make(util.Set)
	alreadyMatched := make(util.Set)
	for pkg := range candidates {
		if alreadyMatched.Includes(pkg) {
			roots.Add(pkg)
			continue
		}
		ancestors, err := r.Graph.Ancestors(pkg)
		if err != nil {
			return nil, err
		}
		for changedPkg := range changedPkgs {
			if !selector.excludeSelf && pkg == changedPkg {
				roots.Add(pkg)
				break
			}
			if ancestors.Include(changedPkg) {
				roots.Add(pkg)
				alreadyMatched.Add(changedPkg)
				break
			}
		}
	}
	return roots, nil
}

// candidatePackages resolves a subtree selector's parentDir/namePattern
// constraints to the set of packages eligible to be a subtree root.
func (r *Resolver) candidatePackages(selector *TargetSelector) (util.Set, error) {
	parentDir := ""
	if selector.parentDir != "" {
		parentDir = filepath.Join(r.Cwd, selector.parentDir)
	}

	candidates := make(util.Set)
	for name, pkg := range r.WorkspaceInfos {
		if parentDir == "" {
			candidates.Add(name)
			continue
		}
		matches, err := doublestar.PathMatch(parentDir, pkg.Dir.ToStringDuringMigration())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve directory relationship %v contains %v: %v", selector.parentDir, pkg.Dir, err)
		}
		if matches {
			candidates.Add(name)
		}
	}

	if selector.namePattern != "" {
		return matchPackageNames(selector.namePattern, candidates)
	}
	return candidates, nil
}

func matchPackageNamesToVertices(pattern string, vertices []dag.Vertex) (util.Set, error) {
	packages := make(util.Set)
	for _, v := range vertices {
		packages.Add(v)
	}
	packages.Add(util.RootPkgName)
	return matchPackageNames(pattern, packages)
}

// matchPackageNames filters packages to the names matching pattern. If
// nothing matches and pattern isn't already scoped (`@scope/name`) or
// path-like, it retries once against an implicit `@*/pattern` scoping so
// `turbo --filter=foo` still finds `@acme/foo` when it's the only candidate.
func matchPackageNames(pattern string, packages util.Set) (util.Set, error) {
	matcher, err := matcherFromPattern(pattern)
	if err != nil {
		return nil, err
	}
	matched := make(util.Set)
	for _, pkg := range packages {
		name := pkg.(string)
		if matcher(name) {
			matched.Add(name)
		}
	}
	if matched.Len() > 0 || strings.HasPrefix(pattern, "@") || strings.Contains(pattern, "/") {
		return matched, nil
	}

	scopedMatcher, err := matcherFromPattern(fmt.Sprintf("@*/%v", pattern))
	if err != nil {
		return nil, err
	}
	foundScopedPkg := false
	for _, pkg := range packages {
		name := pkg.(string)
		if !scopedMatcher(name) {
			continue
		}
		if foundScopedPkg {
			// A second scoped match makes the implicit scoping ambiguous.
			return make(util.Set), nil
		}
		foundScopedPkg = true
		matched.Add(name)
	}
	return matched, nil
}
