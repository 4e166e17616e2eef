package run

import (
	gocontext "context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/turbolite/turbo/internal/analytics"
	"github.com/turbolite/turbo/internal/cache"
	"github.com/turbolite/turbo/internal/cmdutil"
	"github.com/turbolite/turbo/internal/core"
	"github.com/turbolite/turbo/internal/env"
	"github.com/turbolite/turbo/internal/process"
	"github.com/turbolite/turbo/internal/run"
	"github.com/turbolite/turbo/internal/runcache"
	"github.com/turbolite/turbo/internal/runsummary"
	"github.com/turbolite/turbo/internal/scope"
	"github.com/turbolite/turbo/internal/turbopath"
	"github.com/turbolite/turbo/internal/util"
)

// RunCmd adds the `run` subcommand, which runs one or more tasks across the packages
// in the repo according to the dependency graph and the task pipeline in turbo.json.
func RunCmd(ch *cmdutil.Helper) *cobra.Command {
	opts := run.GetDefaultOptions()
	var dryRunMode string

	cmd := &cobra.Command{
		Use:   "run <task> [<task>...]",
		Short: "Run tasks across projects in your monorepo",
		Long: `Run tasks across projects in your monorepo.

By default, turbo executes tasks in topological order (i.e.
dependencies first) and then caches the results. Re-running commands for
tasks already in the cache will skip re-execution and immediately move
artifacts from the cache into the correct output folders (as if the task
occurred again).
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ch.GetCmdBase(cmd.Flags())
			if err != nil {
				return err
			}

			tasks, passThroughArgs := splitAtDash(cmd, args)
			opts.RunOpts.PassThroughArgs = passThroughArgs

			switch dryRunMode {
			case "":
				opts.RunOpts.DryRun = false
			case "json":
				opts.RunOpts.DryRun = true
				opts.RunOpts.DryRunJSON = true
			default:
				opts.RunOpts.DryRun = true
			}

			if err := runRun(gocontext.Background(), tasks, opts, base); err != nil {
				return base.LogError("%v", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	scope.AddFlags(&opts.ScopeOpts, flags)
	cache.AddFlags(&opts.CacheOpts, flags)
	runcache.AddFlags(&opts.RuncacheOpts, flags)
	addRunOptsFlags(&opts.RunOpts, flags, &dryRunMode)

	return cmd
}

// splitAtDash separates the positional task names from the arguments meant to
// be forwarded verbatim to each task's underlying script, which cobra exposes
// via everything following a literal `--`.
func splitAtDash(cmd *cobra.Command, args []string) ([]string, []string) {
	argsLenAtDash := cmd.ArgsLenAtDash()
	if argsLenAtDash < 0 {
		return args, nil
	}
	return args[:argsLenAtDash], args[argsLenAtDash:]
}

// addRunOptsFlags binds the flags that live directly on util.RunOpts (those that
// aren't owned by a more specific Opts struct elsewhere).
func addRunOptsFlags(opts *util.RunOpts, flags *pflag.FlagSet, dryRunMode *string) {
	flags.IntVar(&opts.Concurrency, "concurrency", 10, "limit the number of concurrent tasks")
	flags.BoolVarP(&opts.Parallel, "parallel", "p", false, "execute all tasks in parallel")
	flags.BoolVar(&opts.ContinueOnError, "continue", false, "continue executing even if a task fails")
	flags.BoolVar(&opts.Only, "only", false, "restrict execution to only the specified tasks, not their dependencies")
	flags.StringVar(&opts.Profile, "profile", "", "file to write a CPU profile to")
	flags.BoolVar(&opts.SinglePackage, "single-package", false, "run turbo in single-package mode")
	flags.BoolVar(&opts.NoDaemon, "no-daemon", false, "run without using the turbo daemon")
	flags.StringVar(&opts.LogPrefix, "log-prefix", "", "controls whether log lines are prefixed with the originating package name ('auto', 'always', 'none')")
	flags.BoolVar(&opts.Summarize, "summarize", false, "generate a summary of the run")
	flags.StringVar(&opts.ExperimentalSpaceID, "experimental-space-id", "", "experimental: associate the run with a space")

	flags.StringVar(dryRunMode, "dry-run", "", "list the packages and tasks that would run, without executing them")
	flags.Lookup("dry-run").NoOptDefVal = "text"
	_ = flags.MarkHidden("dry-run")
	flags.StringVar(dryRunMode, "dry", "", "list the packages and tasks that would run, without executing them")
	flags.Lookup("dry").NoOptDefVal = "text"

	flags.BoolVarP(&opts.GraphDot, "graph-dot", "g", false, "print a dot graph of the task execution instead of running it")
	flags.StringVar(&opts.GraphFile, "graph", "", "generate a file containing a visualization of the task execution instead of running it")
}

// runRun resolves the package graph and task scope for the given targets and then
// dispatches to GraphRun, DryRun, or RealRun depending on the flags that were set.
func runRun(ctx gocontext.Context, targets []string, opts *run.Opts, base *cmdutil.CmdBase) error {
	startAt := time.Now()

	completeGraph, packageManager, err := buildCompleteGraph(base.RepoRoot, os.Environ(), base.Logger, opts.ScopeOpts.GlobalDepPatterns, opts.RunOpts.SinglePackage)
	if err != nil {
		return fmt.Errorf("could not construct graph: %w", err)
	}

	filteredPkgs, isAllPackages, err := scope.ResolvePackages(&opts.ScopeOpts, base.RepoRoot, completeGraph, base.Logger)
	if err != nil {
		return fmt.Errorf("could not resolve packages to run: %w", err)
	}
	if isAllPackages {
		// The root package is excluded from the filtered set, but its scripts
		// still participate via root-level tasks declared in the pipeline.
		base.Logger.Debug("running against all packages in the workspace")
	}

	engine := core.NewEngine(completeGraph, opts.RunOpts.SinglePackage)
	for taskName := range completeGraph.Pipeline {
		engine.AddTask(taskName)
	}

	if err := engine.Prepare(&core.EngineBuildingOptions{
		Packages:  filteredPkgs.UnsafeListOfStrings(),
		TaskNames: targets,
		TasksOnly: opts.RunOpts.Only,
	}); err != nil {
		return fmt.Errorf("could not prepare task graph: %w", err)
	}

	if err := engine.ValidatePersistentDependencies(completeGraph, opts.RunOpts.Concurrency); err != nil {
		return fmt.Errorf("invalid persistent task configuration: %w", err)
	}

	if opts.RunOpts.GraphFile != "" || opts.RunOpts.GraphDot {
		rs := run.NewRunSpec(targets, filteredPkgs, opts)
		return run.GraphRun(ctx, rs, engine, base)
	}

	if err := completeGraph.TaskHashTracker.CalculateFileHashes(
		engine.TaskGraph.Vertices(),
		opts.RunOpts.Concurrency,
		completeGraph.WorkspaceInfos,
		completeGraph.TaskDefinitions,
		base.RepoRoot,
	); err != nil {
		return fmt.Errorf("could not calculate task file hashes: %w", err)
	}

	analyticsSink := analytics.Sink(analytics.NullSink)
	analyticsClient := analytics.NewClient(ctx, analyticsSink, base.Logger.Named("analytics"))
	defer analyticsClient.CloseWithTimeout(50 * time.Millisecond)

	turboCache, err := cache.New(opts.CacheOpts, base.RepoRoot, base.APIClient, analyticsClient, func(_ cache.Cache, err error) {
		base.LogWarning("Remote Caching is unavailable", err)
	})
	if err != nil {
		return fmt.Errorf("could not set up caching: %w", err)
	}
	defer turboCache.Shutdown()

	rs := run.NewRunSpec(targets, filteredPkgs, opts)
	packagesInScope := filteredPkgs.UnsafeListOfStrings()

	if opts.RunOpts.DryRun {
		return run.DryRun(ctx, completeGraph, rs, engine, completeGraph.TaskHashTracker, turboCache, packagesInScope, base)
	}

	hashableEnvVars, err := env.GetHashableEnvVars(nil, nil, "")
	if err != nil {
		return fmt.Errorf("could not determine hashable environment variables: %w", err)
	}
	rootPackageJSON := completeGraph.WorkspaceInfos.PackageJSONs[util.RootPkgName]

	globalHashSummary := runsummary.NewGlobalHashSummary(
		map[turbopath.AnchoredUnixPath]string{},
		rootPackageJSON.ExternalDepsHash,
		hashableEnvVars,
		env.EnvironmentVariableMap{},
		completeGraph.GlobalHash,
		completeGraph.Pipeline.Pristine(),
	)

	runSummary := runsummary.NewRunSummary(
		startAt,
		base.UI,
		base.RepoRoot,
		turbopath.RelativeSystemPath(""),
		base.TurboVersion,
		base.APIClient,
		opts.RunOpts,
		packagesInScope,
		opts.RunOpts.EnvMode,
		globalHashSummary,
		opts.SynthesizeCommand(targets),
	)

	processes := process.NewManager(base.Logger.Named("processes"))
	defer processes.Close()

	runErr := run.RealRun(
		ctx,
		completeGraph,
		rs,
		engine,
		completeGraph.TaskHashTracker,
		turboCache,
		packagesInScope,
		base,
		runSummary,
		packageManager,
		processes,
	)

	exitCode := 0
	if runErr != nil {
		exitCode = 1
	}
	if closeErr := runSummary.Close(ctx, exitCode, completeGraph.WorkspaceInfos); closeErr != nil {
		base.LogWarning("", closeErr)
	}

	return runErr
}
