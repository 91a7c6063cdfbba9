package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"webforge/internal/logging"
)

// PackageManager identifies a JavaScript package manager.
type PackageManager string

const (
	PMPnpm PackageManager = "pnpm"
	PMNpm  PackageManager = "npm"
	PMYarn PackageManager = "yarn"
	PMBun  PackageManager = "bun"
)

// detectionOrder is the fixed preference order when several managers are
// installed on the machine.
var detectionOrder = []PackageManager{PMPnpm, PMNpm, PMYarn, PMBun}

// Prober checks whether a package manager binary answers a version probe.
// Swapped out in tests.
type Prober func(ctx context.Context, pm PackageManager) bool

// execProbe runs "<pm> --version" and reports success. Presence on PATH is
// not enough; a broken install should not be selected.
func execProbe(ctx context.Context, pm PackageManager) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, string(pm), "--version").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// DetectPackageManager probes for an available package manager in the fixed
// preference order.
func DetectPackageManager(ctx context.Context) (PackageManager, error) {
	return detectWith(ctx, execProbe)
}

func detectWith(ctx context.Context, probe Prober) (PackageManager, error) {
	for _, pm := range detectionOrder {
		if probe(ctx, pm) {
			logging.Deps("package manager detected: %s", pm)
			return pm, nil
		}
	}
	return "", fmt.Errorf("no package manager found (tried %v)", detectionOrder)
}

// installArgs builds the install command arguments for a bucket.
func installArgs(pm PackageManager, dev bool, packages []string) []string {
	var args []string
	switch pm {
	case PMYarn:
		args = []string{"add"}
		if dev {
			args = append(args, "--dev")
		}
	case PMBun:
		args = []string{"add"}
		if dev {
			args = append(args, "--dev")
		}
	default: // pnpm and npm share the shape
		args = []string{"install"}
		if dev {
			args = append(args, "--save-dev")
		}
	}
	return append(args, packages...)
}

// DevServerCommand returns the command and arguments that start the dev
// server on a given port.
func DevServerCommand(pm PackageManager, port int) (string, []string) {
	portArg := fmt.Sprintf("%d", port)
	switch pm {
	case PMYarn:
		return "yarn", []string{"dev", "--port", portArg}
	case PMBun:
		return "bun", []string{"run", "dev", "--", "--port", portArg}
	case PMPnpm:
		return "pnpm", []string{"dev", "--port", portArg}
	default:
		return "npm", []string{"run", "dev", "--", "--port", portArg}
	}
}

// BulkInstallCommand returns the plain "install everything in the manifest"
// command used before a preview start.
func BulkInstallCommand(pm PackageManager) (string, []string) {
	return string(pm), []string{"install"}
}
