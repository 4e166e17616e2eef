// Package scm abstracts operations on various tools like git
// Currently, only git is supported.
//
// Adapted from https://github.com/thought-machine/please/tree/master/src/scm
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package scm

import (
	"os/exec"
	"strings"

	"github.com/turbolite/turbo/internal/turbopath"
)

// GetCurrentBranch returns the name of the current git branch checked out in dir,
// or the empty string if dir isn't inside a git repository (or git isn't installed).
func GetCurrentBranch(dir turbopath.AbsoluteSystemPath) string {
	return runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// GetCurrentSha returns the full sha of the current commit checked out in dir,
// or the empty string if dir isn't inside a git repository (or git isn't installed).
func GetCurrentSha(dir turbopath.AbsoluteSystemPath) string {
	return runGit(dir, "rev-parse", "HEAD")
}

func runGit(dir turbopath.AbsoluteSystemPath, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir.ToString()
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
