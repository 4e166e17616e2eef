// Package run implements `turbo run`
// This file implements some structs for options
package run

import (
	"fmt"
	"strings"

	"github.com/turbolite/turbo/internal/cache"
	"github.com/turbolite/turbo/internal/client"
	"github.com/turbolite/turbo/internal/runcache"
	"github.com/turbolite/turbo/internal/scope"
	"github.com/turbolite/turbo/internal/util"
)

// runSpec contains the run-specific configuration elements that come from a particular
// invocation of turbo.
type runSpec struct {
	// Target is a list of task that are going to run this time
	// E.g. in `turbo run build lint` Targets will be ["build", "lint"]
	Targets []string

	// FilteredPkgs is the list of packages that are relevant for this run.
	FilteredPkgs util.Set

	// Opts contains various opts, gathered from CLI flags,
	// but bucketed in smaller structs based on what they mean.
	Opts *Opts
}

// NewRunSpec constructs a runSpec from the targets, filtered package scope, and
// options a command invocation has already resolved. Callers outside this package
// hold the result opaquely and pass it through to DryRun/RealRun/GraphRun.
func NewRunSpec(targets []string, filteredPkgs util.Set, opts *Opts) *runSpec {
	return &runSpec{
		Targets:      targets,
		FilteredPkgs: filteredPkgs,
		Opts:         opts,
	}
}

// ArgsForTask returns the set of args that need to be passed through to the task
func (rs *runSpec) ArgsForTask(task string) []string {
	passThroughArgs := make([]string, 0, len(rs.Opts.RunOpts.PassThroughArgs))
	for _, target := range rs.Targets {
		if target == task {
			passThroughArgs = append(passThroughArgs, rs.Opts.RunOpts.PassThroughArgs...)
		}
	}
	return passThroughArgs
}

// Opts holds the current run operations configuration
type Opts struct {
	RunOpts      util.RunOpts
	CacheOpts    cache.Opts
	ClientOpts   client.Opts
	RuncacheOpts runcache.Opts
	ScopeOpts    scope.Opts
}

// SynthesizeCommand reconstructs a `turbo run` invocation equivalent to the one
// that produced these Opts, for the given set of tasks. It is used to tell users
// what command they could run to reproduce a subset of a larger run (e.g. in CI
// summaries or error messages).
func (o *Opts) SynthesizeCommand(tasks []string) string {
	cmd := "turbo run " + strings.Join(tasks, " ")

	filterPatterns := append([]string{}, o.ScopeOpts.FilterPatterns...)
	filterPatterns = append(filterPatterns, o.ScopeOpts.LegacyFilter.AsFilterPatterns()...)
	for _, pattern := range filterPatterns {
		cmd += fmt.Sprintf(" --filter=%v", pattern)
	}

	if o.RunOpts.Parallel {
		cmd += " --parallel"
	}
	if o.RunOpts.ContinueOnError {
		cmd += " --continue"
	}
	if o.RunOpts.DryRun {
		if o.RunOpts.DryRunJSON {
			cmd += " --dry=json"
		} else {
			cmd += " --dry"
		}
	}

	if len(o.RunOpts.PassThroughArgs) > 0 {
		cmd += " -- " + strings.Join(o.RunOpts.PassThroughArgs, " ")
	}

	return cmd
}

// GetDefaultOptions returns the default set of Opts for every run, to be
// customized by the caller before being passed to NewRunSpec.
func GetDefaultOptions() *Opts {
	return &Opts{
		RunOpts: util.RunOpts{
			Concurrency: 10,
			EnvMode:     util.Infer,
		},
		ClientOpts: client.Opts{
			Timeout: client.ClientTimeout,
		},
	}
}
