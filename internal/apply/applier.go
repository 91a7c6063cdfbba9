// Package apply turns a parsed edit set into filesystem writes and
// best-effort dependency installs. Path containment is the only hard
// failure; everything dependency-shaped degrades to a "skipped" report so
// the prompt→apply→preview cycle can continue.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"webforge/internal/deps"
	"webforge/internal/logging"
	"webforge/internal/parser"
	"webforge/internal/project"
	"webforge/internal/rewrite"
)

// Result reports what an apply call did.
type Result struct {
	WrittenFiles          []string
	InstalledDependencies []string
	SkippedDependencies   []string
}

// Applier applies edit sets to a project directory.
type Applier struct {
	runner deps.Runner
	detect func(context.Context) (deps.PackageManager, error)
}

// NewApplier creates an applier with the default command runner and
// package-manager detection.
func NewApplier() *Applier {
	return &Applier{
		runner: deps.ExecRunner{},
		detect: deps.DetectPackageManager,
	}
}

// SetRunner replaces the install command runner (tests).
func (a *Applier) SetRunner(r deps.Runner) { a.runner = r }

// SetDetector replaces package-manager detection (tests).
func (a *Applier) SetDetector(d func(context.Context) (deps.PackageManager, error)) { a.detect = d }

// Apply writes the file edits sequentially and installs the requested
// dependencies. Writes are not transactional: an invalid path aborts the
// call immediately, but files written before it remain on disk.
func (a *Applier) Apply(ctx context.Context, projectDir string, files []parser.FileEdit, dependencies []string) (Result, error) {
	var result Result

	isNext := project.IsNextProject(projectDir)

	for _, f := range files {
		rel, err := ContainPath(projectDir, f.Path)
		if err != nil {
			return result, err
		}

		content := f.Content
		if isNext {
			if fixed, changed := rewrite.FixSource(rel, content); changed {
				logging.Apply("rewrote %s before write", rel)
				content = fixed
			}
		}

		abs := filepath.Join(projectDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return result, fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			return result, fmt.Errorf("failed to write %s: %w", rel, err)
		}

		logging.Apply("wrote %s (%d bytes)", rel, len(content))
		result.WrittenFiles = append(result.WrittenFiles, rel)
	}

	installed, skipped := a.installDependencies(ctx, projectDir, dependencies, isNext)
	result.InstalledDependencies = installed
	result.SkippedDependencies = skipped
	return result, nil
}

// installDependencies classifies then installs. Classification runs fully
// before installation so invalid names report separately from install
// failures.
func (a *Applier) installDependencies(ctx context.Context, projectDir string, requested []string, isNext bool) (installed, skipped []string) {
	if len(requested) == 0 {
		return nil, nil
	}

	valid, blocked := deps.Partition(requested, deps.Context{TargetIsWebFramework: isNext})
	skipped = append(skipped, blocked...)
	if len(valid) == 0 {
		return nil, skipped
	}

	pm, err := a.detect(ctx)
	if err != nil {
		logging.DepsWarn("no package manager available, skipping install: %v", err)
		return nil, append(skipped, valid...)
	}

	res, err := deps.NewInstaller(pm, a.runner).Install(ctx, projectDir, valid)
	if err != nil {
		logging.DepsWarn("install aborted: %v", err)
	}

	// Every valid name lands in exactly one of installed/skipped, even
	// when the install was cut short.
	ok := make(map[string]bool, len(res.Installed))
	for _, p := range res.Installed {
		ok[p] = true
	}
	for _, p := range valid {
		if !ok[p] {
			skipped = append(skipped, p)
		}
	}
	return res.Installed, skipped
}
