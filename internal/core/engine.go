package core

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/turbolite/turbo/internal/fs"
	"github.com/turbolite/turbo/internal/graph"
	"github.com/turbolite/turbo/internal/util"

	"github.com/pyr-sh/dag"
)

// rootSentinel is the synthetic vertex every dependency-free task attaches to,
// so the task graph always has a single root regardless of how many
// independent leaf tasks exist.
const rootSentinel = "___ROOT___"

// Task pairs a task's display name with the (already-merged) definition that
// governs how it runs.
type Task struct {
	Name           string
	TaskDefinition fs.TaskDefinition
}

// Visitor is invoked once per taskID as Engine.Execute walks the task graph.
type Visitor = func(taskID string) error

// Engine owns the package-task dependency graph (TaskGraph) plus the
// bookkeeping needed to build it from a workspace graph and a set of
// pipelines: PackageTaskDeps records explicit `pkg#task` style edges, and
// rootEnabledTasks tracks which root-workspace tasks were explicitly added so
// that root tasks can't silently sneak into the graph as implicit
// dependencies.
type Engine struct {
	TaskGraph        *dag.AcyclicGraph
	PackageTaskDeps  map[string][]string
	rootEnabledTasks util.Set

	completeGraph   *graph.CompleteGraph
	isSinglePackage bool
}

// NewEngine returns an Engine ready to have tasks and dependencies registered
// via AddTask/AddDep before Prepare builds the graph.
func NewEngine(completeGraph *graph.CompleteGraph, isSinglePackage bool) *Engine {
	return &Engine{
		completeGraph:    completeGraph,
		TaskGraph:        &dag.AcyclicGraph{},
		PackageTaskDeps:  map[string][]string{},
		rootEnabledTasks: make(util.Set),
		isSinglePackage:  isSinglePackage,
	}
}

// EngineBuildingOptions narrows Prepare to a subset of packages and tasks.
type EngineBuildingOptions struct {
	// Packages in scope; a nil/empty slice means nothing is prepared.
	Packages []string
	// TaskNames that should act as entry points into the graph.
	TaskNames []string
	// TasksOnly drops any dependency edge that doesn't point at one of TaskNames.
	TasksOnly bool
}

// EngineExecutionOptions controls one walk over an already-built TaskGraph.
type EngineExecutionOptions struct {
	Parallel    bool
	Concurrency int
}

// Execute walks TaskGraph bottom-up, calling visitor once per non-root
// vertex. The walk stops launching new work as soon as one visitor call
// fails, though already-started concurrent siblings are allowed to finish.
func (e *Engine) Execute(visitor Visitor, opts EngineExecutionOptions) []error {
	sema := util.NewSemaphore(opts.Concurrency)
	var failed int32

	return e.TaskGraph.Walk(func(v dag.Vertex) error {
		if atomic.LoadInt32(&failed) != 0 {
			return nil
		}

		taskID := dag.VertexName(v)
		if strings.Contains(taskID, rootSentinel) {
			return nil
		}

		if !opts.Parallel {
			sema.Acquire()
			defer sema.Release()
		}

		if err := visitor(taskID); err != nil {
			atomic.StoreInt32(&failed, 1)
			return err
		}
		return nil
	})
}

// MissingTaskError means a task couldn't be located under either its taskID
// or bare task name in a given workspace. Callers that need to tolerate an
// absent task (vs. every other failure mode) match on this type.
type MissingTaskError struct {
	workspaceName string
	taskID        string
	taskName      string
}

func (m *MissingTaskError) Error() string {
	return fmt.Sprintf("could not find %q or %q in workspace %q", m.taskName, m.taskID, m.workspaceName)
}

// resolveTaskDefinition looks up taskID/taskName in pkg's pipeline, falling
// back to the root pipeline when pkg has none of its own.
func (e *Engine) resolveTaskDefinition(pkg string, taskName string, taskID string) (*Task, error) {
	pipeline, err := e.completeGraph.GetPipelineFromWorkspace(pkg, e.isSinglePackage)
	if err != nil {
		if pkg != util.RootPkgName && errors.Is(err, os.ErrNotExist) {
			return e.resolveTaskDefinition(util.RootPkgName, taskName, taskID)
		}
		return nil, err
	}

	if task, ok := pipeline[taskID]; ok {
		return &Task{Name: taskName, TaskDefinition: task.GetTaskDefinition()}, nil
	}
	if task, ok := pipeline[taskName]; ok {
		return &Task{Name: taskName, TaskDefinition: task.GetTaskDefinition()}, nil
	}

	// The workspace has a pipeline, it just doesn't mention this task; defer
	// to the root pipeline before giving up.
	if pkg != util.RootPkgName {
		return e.resolveTaskDefinition(util.RootPkgName, taskName, taskID)
	}

	return nil, &MissingTaskError{taskName: taskName, taskID: taskID, workspaceName: pkg}
}

// entryPoints resolves (pkg, taskName) pairs down to the taskIDs that should
// seed graph traversal, and reports any requested task name that resolved to
// nothing anywhere in the scoped packages.
func (e *Engine) entryPoints(pkgs []string, taskNames []string) ([]string, error) {
	unresolved := util.SetFromStrings(taskNames)
	queue := []string{}

	for _, pkg := range pkgs {
		for _, taskName := range taskNames {
			taskID := util.GetTaskId(pkg, taskName)

			found, err := e.resolveTaskDefinition(pkg, taskName, taskID)
			if err != nil {
				var missing *MissingTaskError
				if errors.As(err, &missing) {
					// A task need not be defined in every scoped package; it's only
					// required for packages that actually declare it (or for any
					// package this task ends up as a dependency of).
					continue
				}
				return nil, err
			}
			if found == nil {
				continue
			}

			unresolved.Delete(taskName)

			// Root-workspace tasks only become entry points when they were
			// explicitly registered via AddTask; every other workspace's tasks
			// always qualify.
			if pkg != util.RootPkgName || e.rootEnabledTasks.Includes(taskName) {
				queue = append(queue, taskID)
			}
		}
	}

	if unresolved.Len() > 0 {
		missingNames := unresolved.UnsafeListOfStrings()
		sort.Strings(missingNames)
		return nil, fmt.Errorf("could not find the following tasks in project: %s", strings.Join(missingNames, ", "))
	}

	return queue, nil
}

// Prepare builds TaskGraph from the packages and task names named in
// options, following `dependsOn` edges (including `^task` topological
// dependencies and explicit `pkg#task` references) until every reachable
// task has been added.
func (e *Engine) Prepare(options *EngineBuildingOptions) error {
	if len(options.Packages) == 0 {
		// TODO(mehulkar): should this still validate unknown task names?
		return nil
	}

	queue, err := e.entryPoints(options.Packages, options.TaskNames)
	if err != nil {
		return err
	}

	visited := make(util.Set)

	// The loop body can grow queue, so track length explicitly rather than
	// ranging over a snapshot.
	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]

		if visited.Includes(taskID) {
			continue
		}

		more, err := e.addTaskToGraph(taskID, options.TaskNames, options.TasksOnly)
		if err != nil {
			return err
		}
		visited.Add(taskID)
		queue = append(queue, more...)
	}

	return nil
}

// addTaskToGraph resolves taskID's merged definition, records it on
// completeGraph, wires up every dependency edge it implies, and returns the
// upstream taskIDs that traversal should continue from.
func (e *Engine) addTaskToGraph(taskID string, scopedTaskNames []string, tasksOnly bool) ([]string, error) {
	pkg, taskName := util.GetPackageTaskFromId(taskID)

	if pkg == util.RootPkgName && !e.rootEnabledTasks.Includes(taskName) {
		return nil, fmt.Errorf("%v needs an entry in turbo.json before it can be depended on because it is a task run from the root package", taskID)
	}
	if pkg != rootSentinel {
		if _, ok := e.completeGraph.WorkspaceInfos.PackageJSONs[pkg]; !ok {
			return nil, fmt.Errorf("could not find workspace %q from task %q in project", pkg, taskID)
		}
	}

	chain, err := e.definitionChain(taskID, taskName)
	if err != nil {
		return nil, err
	}
	taskDefinition, err := fs.MergeTaskDefinitions(chain)
	if err != nil {
		return nil, err
	}
	e.completeGraph.TaskDefinitions[taskID] = taskDefinition

	topoDeps := util.SetFromStrings(taskDefinition.TopologicalDependencies)
	sameWorkspaceDeps := make(util.Set)
	isPackageTask := util.IsPackageTask(taskName)

	for _, dependency := range taskDefinition.TaskDependencies {
		// Explicit `pkg#task` dependencies between two already package-scoped
		// tasks get registered on the engine directly; everything else is a
		// same-workspace dependency resolved below.
		if isPackageTask && util.IsPackageTask(dependency) {
			if err := e.AddDep(dependency, taskName); err != nil {
				return nil, err
			}
			continue
		}
		sameWorkspaceDeps.Add(dependency)
	}

	if tasksOnly {
		keepOnlyScoped := func(d interface{}) bool {
			for _, target := range scopedTaskNames {
				if fmt.Sprintf("%v", d) == target {
					return true
				}
			}
			return false
		}
		sameWorkspaceDeps = sameWorkspaceDeps.Filter(keepOnlyScoped)
		topoDeps = topoDeps.Filter(keepOnlyScoped)
	}

	hasTopoDeps := topoDeps.Len() > 0 && e.completeGraph.WorkspaceGraph.DownEdges(pkg).Len() > 0
	hasSameWorkspaceDeps := sameWorkspaceDeps.Len() > 0
	packageTaskDeps, hasPackageTaskDeps := e.PackageTaskDeps[taskID]

	var upstream []string

	if hasTopoDeps {
		depPkgs := e.completeGraph.WorkspaceGraph.DownEdges(pkg)
		for _, from := range topoDeps.UnsafeListOfStrings() {
			for depPkg := range depPkgs {
				upstream = append(upstream, e.connect(util.GetTaskId(depPkg, from), taskID))
			}
		}
	}

	if hasSameWorkspaceDeps {
		for _, from := range sameWorkspaceDeps.UnsafeListOfStrings() {
			upstream = append(upstream, e.connect(util.GetTaskId(pkg, from), taskID))
		}
	}

	if hasPackageTaskDeps {
		for _, fromTaskID := range packageTaskDeps {
			upstream = append(upstream, e.connect(fromTaskID, taskID))
		}
	}

	// A task with no dependencies of any kind still needs to hang off the
	// shared root so the graph stays a single connected component.
	if !hasSameWorkspaceDeps && !hasTopoDeps && !hasPackageTaskDeps {
		e.connect(rootSentinel, taskID)
	}

	return upstream, nil
}

// connect adds both ends of a dependency edge to TaskGraph (toTaskID depends
// on fromTaskID) and returns fromTaskID so callers can queue it for further
// traversal.
func (e *Engine) connect(fromTaskID, toTaskID string) string {
	e.TaskGraph.Add(fromTaskID)
	e.TaskGraph.Add(toTaskID)
	e.TaskGraph.Connect(dag.BasicEdge(toTaskID, fromTaskID))
	return fromTaskID
}

// AddTask marks taskName as a real entry point when it is a root-workspace
// task, which is what lets it be depended on (or run) from `//`.
func (e *Engine) AddTask(taskName string) {
	if !util.IsPackageTask(taskName) {
		return
	}
	pkg, taskName := util.GetPackageTaskFromId(taskName)
	if pkg == util.RootPkgName {
		e.rootEnabledTasks.Add(taskName)
	}
}

// AddDep records an explicit `pkg#task` dependency edge for later lookup
// when the dependent task is added to the graph.
func (e *Engine) AddDep(fromTaskID string, toTaskID string) error {
	fromPkg, _ := util.GetPackageTaskFromId(fromTaskID)
	if fromPkg != rootSentinel && fromPkg != util.RootPkgName && !e.completeGraph.WorkspaceGraph.HasVertex(fromPkg) {
		return fmt.Errorf("found reference to unknown package: %v in task %v", fromPkg, fromTaskID)
	}
	e.PackageTaskDeps[toTaskID] = append(e.PackageTaskDeps[toTaskID], fromTaskID)
	return nil
}

// ValidatePersistentDependencies rejects a graph where a task depends on a
// persistent task that's actually implemented (has a script) in its
// workspace, and separately rejects running with more persistent tasks than
// available concurrency (each persistent task occupies a worker forever).
func (e *Engine) ValidatePersistentDependencies(g *graph.CompleteGraph, concurrency int) error {
	var conflict error
	persistentCount := 0

	// Walk() fans out across goroutines; guard the shared counters/conflict
	// var with a 1-slot semaphore rather than a sync.Mutex to stay in the
	// same idiom the rest of this file uses for concurrency control.
	sema := util.NewSemaphore(1)

	errs := e.TaskGraph.Walk(func(v dag.Vertex) error {
		vertexName := dag.VertexName(v)
		if strings.Contains(vertexName, rootSentinel) {
			return nil
		}

		sema.Acquire()
		defer sema.Release()

		if def, ok := e.completeGraph.TaskDefinitions[vertexName]; ok && def.Persistent {
			persistentCount++
		}

		currentPkg, currentTaskName := util.GetPackageTaskFromId(vertexName)

		for dep := range e.TaskGraph.DownEdges(vertexName) {
			depTaskID := dep.(string)
			if strings.Contains(depTaskID, rootSentinel) {
				return nil
			}

			depPkg, depTaskName := util.GetPackageTaskFromId(depTaskID)
			depDefinition, ok := e.completeGraph.TaskDefinitions[depTaskID]
			if !ok {
				return fmt.Errorf("cannot find task definition for %v in package %v", depTaskID, depPkg)
			}

			pkg, ok := g.WorkspaceInfos.PackageJSONs[depPkg]
			if !ok {
				return fmt.Errorf("cannot find package %v", depPkg)
			}
			_, hasScript := pkg.Scripts[depTaskName]

			if depDefinition.Persistent && hasScript {
				conflict = fmt.Errorf("%q is a persistent task, %q cannot depend on it",
					util.GetTaskId(depPkg, depTaskName), util.GetTaskId(currentPkg, currentTaskName))
				break
			}
		}

		return nil
	})
	for _, err := range errs {
		return fmt.Errorf("validation failed: %v", err)
	}

	if conflict != nil {
		return conflict
	}
	if persistentCount >= concurrency {
		return fmt.Errorf("you have %v persistent tasks but `turbo` is configured for concurrency of %v. Set --concurrency to at least %v", persistentCount, concurrency, persistentCount+1)
	}
	return nil
}

// definitionChain gathers every fs.BookkeepingTaskDefinition that applies to
// taskID, root pipeline first, so the caller can merge them into one
// effective definition.
func (e *Engine) definitionChain(taskID string, taskName string) ([]fs.BookkeepingTaskDefinition, error) {
	chain := []fs.BookkeepingTaskDefinition{}

	rootPipeline, err := e.completeGraph.GetPipelineFromWorkspace(util.RootPkgName, e.isSinglePackage)
	if err != nil {
		// Even single-package repos synthesize a pipeline from package.json, so
		// a missing root pipeline here means something is badly wrong upstream.
		return nil, err
	}
	if rootTaskDefinition, err := rootPipeline.GetTask(taskID, taskName); err == nil {
		chain = append(chain, *rootTaskDefinition)
	}

	if e.isSinglePackage {
		if len(chain) == 0 {
			return nil, fmt.Errorf("could not find %q in root turbo.json", taskID)
		}
		return chain, nil
	}

	taskIDPackage, _ := util.GetPackageTaskFromId(taskID)
	if taskIDPackage != util.RootPkgName && taskIDPackage != rootSentinel {
		workspaceTurboJSON, err := e.completeGraph.GetTurboConfigFromWorkspace(taskIDPackage, e.isSinglePackage)
		if err != nil {
			// A workspace is allowed to have no turbo.json of its own.
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else {
			if err := validateWorkspaceTurboJSON(workspaceTurboJSON); err != nil {
				return nil, err
			}
			if workspaceDefinition, ok := workspaceTurboJSON.Pipeline[taskName]; ok {
				chain = append(chain, workspaceDefinition)
			}
		}
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("could not find %q in root turbo.json or %q workspace", taskID, taskIDPackage)
	}
	return chain, nil
}

// validateWorkspaceTurboJSON runs the checks that apply to a non-root
// turbo.json as a whole, independent of which task is being resolved.
func validateWorkspaceTurboJSON(turboJSON *fs.TurboJSON) error {
	validationErrors := turboJSON.Validate([]fs.TurboJSONValidation{
		rejectPackageTaskSyntax,
		requireSingleRootExtends,
	})
	if len(validationErrors) == 0 {
		return nil
	}

	err := errors.New("invalid turbo.json")
	for _, validationErr := range validationErrors {
		err = fmt.Errorf("%w\n - %s", err, validationErr)
	}
	return err
}

// rejectPackageTaskSyntax flags `pkg#task` keys inside a workspace's own
// pipeline — that syntax is only meaningful in the root turbo.json.
func rejectPackageTaskSyntax(turboJSON *fs.TurboJSON) []error {
	var errs []error
	for taskIDOrName := range turboJSON.Pipeline {
		if util.IsPackageTask(taskIDOrName) {
			errs = append(errs, fmt.Errorf("%q: use %q instead", taskIDOrName, util.StripPackageName(taskIDOrName)))
		}
	}
	return errs
}

// requireSingleRootExtends enforces today's only supported `extends` shape:
// exactly one entry, and it must be the root workspace.
func requireSingleRootExtends(turboJSON *fs.TurboJSON) []error {
	extends := turboJSON.Extends
	switch {
	case len(extends) == 0:
		return []error{errors.New("no \"extends\" key found")}
	case len(extends) > 1:
		return []error{errors.New("you can only extend from the root workspace")}
	case extends[0] != util.RootPkgName:
		// TODO(mehulkar): support extending from a non-root workspace.
		return []error{errors.New("you can only extend from the root workspace")}
	default:
		return nil
	}
}
