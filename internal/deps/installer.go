package deps

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"webforge/internal/logging"
)

// Runner executes a package manager command in a project directory.
// Swapped out in tests so install behavior is verifiable without a registry.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes the command, returning combined output.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %v failed: %w", name, args, err)
	}
	return string(out), nil
}

// InstallResult reports the per-package outcome of an install request.
type InstallResult struct {
	Installed []string
	Failed    []string
}

// Installer installs dependency buckets, falling back from a batched
// command to per-package installs so one broken name cannot block the rest.
type Installer struct {
	pm     PackageManager
	runner Runner
}

// NewInstaller creates an installer for a detected package manager.
func NewInstaller(pm PackageManager, runner Runner) *Installer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Installer{pm: pm, runner: runner}
}

// Install installs the given packages into projectDir, splitting them into
// dev and prod buckets. It never returns an install failure as an error:
// failures land in the result's Failed list so the broader cycle continues.
func (in *Installer) Install(ctx context.Context, projectDir string, packages []string) (InstallResult, error) {
	var result InstallResult
	if len(packages) == 0 {
		return result, nil
	}

	var dev, prod []string
	for _, p := range packages {
		if IsDevDependency(p) {
			dev = append(dev, p)
		} else {
			prod = append(prod, p)
		}
	}

	for _, bucket := range []struct {
		dev      bool
		packages []string
	}{
		{dev: false, packages: prod},
		{dev: true, packages: dev},
	} {
		if len(bucket.packages) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		installed, failed := in.installBucket(ctx, projectDir, bucket.dev, bucket.packages)
		result.Installed = append(result.Installed, installed...)
		result.Failed = append(result.Failed, failed...)
	}

	logging.Deps("install finished: installed=%d failed=%d", len(result.Installed), len(result.Failed))
	return result, nil
}

// installBucket attempts a single batched install; on failure it retries
// the bucket one package at a time.
func (in *Installer) installBucket(ctx context.Context, dir string, dev bool, packages []string) (installed, failed []string) {
	args := installArgs(in.pm, dev, packages)
	if out, err := in.runner.Run(ctx, dir, string(in.pm), args...); err == nil {
		logging.Deps("batch install ok (%d packages, dev=%v)", len(packages), dev)
		return packages, nil
	} else {
		logging.DepsWarn("batch install failed, retrying per package: %v (%s)", err, tailOf(out, 200))
	}

	for _, p := range packages {
		if ctx.Err() != nil {
			failed = append(failed, p)
			continue
		}
		args := installArgs(in.pm, dev, []string{p})
		if _, err := in.runner.Run(ctx, dir, string(in.pm), args...); err != nil {
			logging.DepsWarn("install failed for %s: %v", p, err)
			failed = append(failed, p)
		} else {
			installed = append(installed, p)
		}
	}
	return installed, failed
}

// InstallAll runs the manifest-wide install used before a preview start.
func (in *Installer) InstallAll(ctx context.Context, projectDir string) error {
	name, args := BulkInstallCommand(in.pm)
	out, err := in.runner.Run(ctx, projectDir, name, args...)
	if err != nil {
		return fmt.Errorf("dependency install failed: %w (%s)", err, tailOf(out, 400))
	}
	return nil
}

// tailOf returns the last n bytes of s for compact log lines.
func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
