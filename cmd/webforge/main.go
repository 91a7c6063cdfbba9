package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webforge/internal/apply"
	"webforge/internal/config"
	"webforge/internal/deps"
	"webforge/internal/llm"
	"webforge/internal/logging"
	"webforge/internal/orchestrator"
	"webforge/internal/preview"
	"webforge/internal/project"
	"webforge/internal/repair"
)

var (
	// Global flags
	verbose    bool
	projectDir string
	jsonOut    bool

	// Run flags
	requireChanges bool
	modelTimeout   time.Duration

	// Preview flags
	skipInstall bool
	previewPort int
	logTail     int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webforge",
	Short: "webforge - prompt-driven editing and live preview for Next.js projects",
	Long: `webforge turns natural-language prompts into edits on a Next.js project
and supervises a live dev server for it.

A prompt cycle asks the model for changes, parses the reply, writes the
files, installs any new dependencies, and restarts the preview. When the
dev server fails to come up, the fix loop feeds the failure back to the
model a bounded number of times.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewDevelopment(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Init(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Send a prompt to the model and apply the returned edits",
	Long: `Sends a prompt plus project context to the model, parses the reply for
file blocks and a dependency list, writes the files into the project, and
installs the dependencies.

Example:
  webforge run -p ./my-app "add a contact page with a simple form"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Start the preview and auto-fix failures with the model",
	Long: `Restarts the dev server and, while it stays unhealthy, sends the failure
(status, error, recent log output) back to the model, applies the returned
fix, and tries again, up to the configured attempt budget.`,
	RunE: runFix,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run the project repair pass once and report what changed",
	RunE:  runRepair,
}

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Inspect dependency handling for the project",
}

var depsCheckCmd = &cobra.Command{
	Use:   "check [package...]",
	Short: "Classify package names the way an install would",
	Long: `Runs the same filter the apply step uses on model-suggested packages and
reports which names would be installed and which would be skipped as
non-installable (framework internals, generator tool names, URLs).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDepsCheck,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Manage the project's dev-server preview",
	Long: `Manages the dev-server preview supervised by this process.

The supervisor lives in the invoking process: stop, status and logs act on
servers started in the same session (run, fix, or an embedding UI), not on
dev servers started by other webforge invocations. A server started with
"preview start" stays up until that command is interrupted.`,
}

var previewStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dev server and stream its output until interrupted",
	RunE:  runPreviewStart,
}

var previewStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a dev server started in this session",
	RunE:  runPreviewStop,
}

var previewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the preview state tracked by this session",
	RunE:  runPreviewStatus,
}

var previewLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print dev-server output captured in this session",
	RunE:  runPreviewLogs,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "Project directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON output")

	runCmd.Flags().BoolVar(&requireChanges, "require-changes", true, "Re-prompt when the model returns no edits")
	runCmd.Flags().DurationVar(&modelTimeout, "timeout", 5*time.Minute, "Wall-clock timeout per model request")

	previewStartCmd.Flags().BoolVar(&skipInstall, "skip-install", false, "Skip the pre-start dependency install")
	previewStartCmd.Flags().IntVar(&previewPort, "port", 0, "Preferred port (0 picks from the configured range)")
	previewLogsCmd.Flags().IntVar(&logTail, "tail", 50, "Number of log lines to print")

	previewCmd.AddCommand(previewStartCmd)
	previewCmd.AddCommand(previewStopCmd)
	previewCmd.AddCommand(previewStatusCmd)
	previewCmd.AddCommand(previewLogsCmd)

	depsCmd.AddCommand(depsCheckCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildStack assembles the full pipeline from the on-disk config.
func buildStack(ctx context.Context) (*orchestrator.Orchestrator, *preview.Supervisor, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if modelTimeout > 0 {
		cfg.LLM.Timeout = modelTimeout
	}

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	sup := preview.NewSupervisor(cfg.Preview)
	orch := orchestrator.New(client, apply.NewApplier(), sup, cfg.Fixloop)
	return orch, sup, nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, sup, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer sup.Shutdown()

	prompt := strings.Join(args, " ")
	res, err := orch.RunPromptAndApply(ctx, projectDir, prompt, requireChanges)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	if res.Cancelled {
		fmt.Println("Cancelled.")
		return nil
	}
	if res.Summary != "" {
		fmt.Println(res.Summary)
		fmt.Println()
	}
	for _, f := range res.AppliedFiles {
		fmt.Printf("  wrote %s\n", f)
	}
	for _, d := range res.InstalledDependencies {
		fmt.Printf("  installed %s\n", d)
	}
	for _, d := range res.SkippedDependencies {
		fmt.Printf("  skipped %s\n", d)
	}
	return nil
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, sup, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer sup.Shutdown()

	out, err := orch.AutoFix(ctx, projectDir)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out)
	}
	switch {
	case out.Cancelled:
		fmt.Println("Cancelled.")
	case out.Healthy:
		fmt.Printf("Preview healthy at %s after %d fix attempts.\n", out.Status.URL, out.Attempts)
		waitForInterrupt(ctx)
	default:
		fmt.Printf("Gave up after %d attempts. Last failure:\n%s\n", out.Attempts, out.LastFailure)
	}
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	res := repair.Repair(projectDir)
	if jsonOut {
		return printJSON(res)
	}
	if len(res.Applied) == 0 {
		fmt.Println("Nothing to repair.")
		return nil
	}
	for _, line := range res.Applied {
		fmt.Printf("  %s\n", line)
	}
	if res.ReinstallNeeded {
		fmt.Println("Manifest changed; dependencies will be reinstalled on the next preview start.")
	}
	return nil
}

func runDepsCheck(cmd *cobra.Command, args []string) error {
	dctx := deps.Context{TargetIsWebFramework: project.IsNextProject(projectDir)}
	valid, blocked := deps.Partition(args, dctx)
	if jsonOut {
		return printJSON(map[string][]string{"valid": valid, "skipped": blocked})
	}
	for _, name := range valid {
		fmt.Printf("  ok      %s\n", name)
	}
	for _, name := range blocked {
		fmt.Printf("  skipped %s\n", name)
	}
	return nil
}

func runPreviewStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sup := preview.NewSupervisor(cfg.Preview)
	defer sup.Shutdown()

	st, err := sup.Start(ctx, projectDir, preview.StartOptions{Port: previewPort, SkipInstall: skipInstall})
	if err != nil {
		if st.Error != "" {
			fmt.Fprintln(os.Stderr, st.Error)
		}
		return err
	}

	if jsonOut {
		return printJSON(st)
	}
	fmt.Printf("Dev server running at %s (pid %d). Ctrl-C to stop.\n", st.URL, st.PID)
	streamLogs(ctx, sup)
	return nil
}

func runPreviewStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sup := preview.NewSupervisor(cfg.Preview)
	st, err := sup.Stop(projectDir)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(st)
	}
	fmt.Println("Stopped.")
	return nil
}

func runPreviewStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sup := preview.NewSupervisor(cfg.Preview)
	st := sup.Status(projectDir)
	if jsonOut {
		return printJSON(st)
	}
	fmt.Printf("State: %s\n", st.State)
	if st.URL != "" {
		fmt.Printf("URL:   %s\n", st.URL)
	}
	if st.Error != "" {
		fmt.Printf("Error: %s\n", st.Error)
	}
	return nil
}

func runPreviewLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sup := preview.NewSupervisor(cfg.Preview)
	lines := sup.Logs(projectDir, logTail)
	if jsonOut {
		return printJSON(lines)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// streamLogs tails newly captured dev-server output until the context is
// cancelled.
func streamLogs(ctx context.Context, sup *preview.Supervisor) {
	seen := 0
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lines := sup.Logs(projectDir, 0)
		if len(lines) > seen {
			for _, line := range lines[seen:] {
				fmt.Println(line)
			}
			seen = len(lines)
		}
	}
}

func waitForInterrupt(ctx context.Context) {
	<-ctx.Done()
}

// signalContext cancels on SIGINT/SIGTERM so an in-flight model request or
// preview start aborts cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
