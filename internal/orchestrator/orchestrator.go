// Package orchestrator is the top-level control flow: prompt the model,
// parse its response, apply the edits, supervise the preview, and feed
// failures back to the model under a hard retry budget.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"webforge/internal/apply"
	"webforge/internal/config"
	"webforge/internal/llm"
	"webforge/internal/logging"
	"webforge/internal/parser"
	"webforge/internal/preview"
	"webforge/internal/project"
)

// PreviewController is the preview surface the loop drives. Satisfied by
// *preview.Supervisor.
type PreviewController interface {
	Start(ctx context.Context, projectDir string, opts preview.StartOptions) (preview.Status, error)
	Stop(projectDir string) (preview.Status, error)
	Status(projectDir string) preview.Status
	Logs(projectDir string, n int) []string
}

// PromptResult is the outcome of one prompt→parse→apply cycle.
type PromptResult struct {
	Summary               string   `json:"summary"`
	AppliedFiles          []string `json:"applied_files"`
	InstalledDependencies []string `json:"installed_dependencies"`
	SkippedDependencies   []string `json:"skipped_dependencies"`

	// Cancelled marks an explicit user cancellation, which is terminal
	// and never retried.
	Cancelled bool `json:"cancelled"`
}

// FixOutcome is the result of an auto-fix run.
type FixOutcome struct {
	Healthy     bool           `json:"healthy"`
	Attempts    int            `json:"attempts"`
	Status      preview.Status `json:"status"`
	LastFailure string         `json:"last_failure,omitempty"`
	Cancelled   bool           `json:"cancelled"`
}

// Orchestrator wires the model transport to the pipeline stages.
type Orchestrator struct {
	client  llm.Client
	applier *apply.Applier
	preview PreviewController
	cfg     config.FixloopConfig
}

func New(client llm.Client, applier *apply.Applier, pc PreviewController, cfg config.FixloopConfig) *Orchestrator {
	return &Orchestrator{client: client, applier: applier, preview: pc, cfg: cfg}
}

const systemPrompt = `You are a coding assistant working on a Next.js (app router) project with Tailwind CSS and TypeScript.

When you change or create a file, declare it with a line "File: <relative path>" followed by a fenced code block holding the complete file content. Always emit whole files, never fragments or diffs.

When new npm packages are needed, add one line: Dependencies: ["package-a", "package-b"]

Only list packages that exist on the public npm registry. Next.js built-ins (next/link, next/navigation, next/font) are not packages. Begin your reply with a short summary of what you changed.`

const correctiveInstruction = `Your previous reply contained no file changes, but a code change was requested. Reply again and include every modified file as "File: <relative path>" followed by a fenced code block with the complete file content.`

// RunPromptAndApply sends one prompt through the model and applies what
// comes back. With requireChanges set, a reply without edits triggers a
// corrective re-prompt up to the configured bound before giving up.
func (o *Orchestrator) RunPromptAndApply(ctx context.Context, projectDir, prompt string, requireChanges bool) (PromptResult, error) {
	cycle := uuid.NewString()[:8]
	logging.Loop("cycle %s: prompting model for %s", cycle, projectDir)

	messages := o.buildMessages(projectDir, prompt)

	var parsed parser.ParsedResponse
	for try := 0; ; try++ {
		text, err := o.client.Chat(ctx, messages)
		if err != nil {
			if llm.IsCanceled(err) {
				logging.Loop("cycle %s: cancelled by user", cycle)
				return PromptResult{Cancelled: true}, nil
			}
			return PromptResult{}, fmt.Errorf("model request failed: %w", err)
		}

		parsed = parser.Parse(text)
		if !requireChanges || len(parsed.Files) > 0 || len(parsed.Dependencies) > 0 {
			break
		}
		if try >= o.cfg.RequireChangeTries {
			logging.LoopWarn("cycle %s: no changes after %d corrective retries", cycle, try)
			return PromptResult{Summary: parsed.Summary},
				fmt.Errorf("model returned no file changes after %d attempts", try+1)
		}

		logging.Loop("cycle %s: reply had no edits, re-prompting", cycle)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: text},
			llm.Message{Role: llm.RoleUser, Content: correctiveInstruction},
		)
	}

	res, err := o.applier.Apply(ctx, projectDir, parsed.Files, parsed.Dependencies)
	out := PromptResult{
		Summary:               parsed.Summary,
		AppliedFiles:          res.WrittenFiles,
		InstalledDependencies: res.InstalledDependencies,
		SkippedDependencies:   res.SkippedDependencies,
	}
	if err != nil {
		return out, err
	}
	logging.Loop("cycle %s: applied %d files, %d deps installed, %d skipped",
		cycle, len(out.AppliedFiles), len(out.InstalledDependencies), len(out.SkippedDependencies))
	return out, nil
}

func (o *Orchestrator) buildMessages(projectDir, prompt string) []llm.Message {
	sys := systemPrompt
	if !project.IsNextProject(projectDir) {
		sys = strings.Replace(sys,
			"a Next.js (app router) project with Tailwind CSS and TypeScript",
			"a web project", 1)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys},
		{Role: llm.RoleUser, Content: prompt},
	}
}

// AutoFix restarts the preview and, while it stays unhealthy, feeds the
// failure back to the model and re-applies, up to the configured attempt
// budget. The budget is a hard stop; the last failure is reported verbatim.
func (o *Orchestrator) AutoFix(ctx context.Context, projectDir string) (FixOutcome, error) {
	outcome := FixOutcome{}

	for attempt := 0; ; attempt++ {
		st, err := o.preview.Start(ctx, projectDir, preview.StartOptions{})
		outcome.Status = st
		if err == nil && st.State == preview.StateRunning {
			outcome.Healthy = true
			logging.Loop("preview healthy after %d fix attempts", attempt)
			return outcome, nil
		}

		if st.Error != "" {
			outcome.LastFailure = st.Error
		} else if err != nil {
			outcome.LastFailure = err.Error()
		}

		if attempt >= o.cfg.MaxAttempts {
			logging.LoopWarn("giving up after %d fix attempts: %s", attempt, outcome.LastFailure)
			return outcome, nil
		}

		outcome.Attempts = attempt + 1
		logging.Loop("fix attempt %d/%d", attempt+1, o.cfg.MaxAttempts)

		res, err := o.RunPromptAndApply(ctx, projectDir, o.diagnosticPrompt(projectDir), true)
		if res.Cancelled {
			outcome.Cancelled = true
			return outcome, nil
		}
		if err != nil {
			// A failed cycle still consumes an attempt; the next
			// restart may succeed anyway.
			logging.LoopWarn("fix attempt %d failed: %v", attempt+1, err)
		}
	}
}

// diagnosticPrompt folds the preview status, error, and recent log output
// into a prompt the model can act on.
func (o *Orchestrator) diagnosticPrompt(projectDir string) string {
	st := o.preview.Status(projectDir)
	tail := o.preview.Logs(projectDir, o.cfg.LogTailLines)

	var b strings.Builder
	b.WriteString("The development server failed to reach a healthy state.\n")
	fmt.Fprintf(&b, "Status: %s\n", st.State)
	if st.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", st.Error)
	}
	if len(tail) > 0 {
		b.WriteString("Recent server output:\n```\n")
		b.WriteString(strings.Join(tail, "\n"))
		b.WriteString("\n```\n")
	}
	b.WriteString("Fix the project so the development server starts and serves pages without errors. Reply with the corrected files.")
	return b.String()
}

// StartPreview, StopPreview, PreviewStatus and PreviewLogs expose the
// preview surface to callers that hold only the orchestrator.

func (o *Orchestrator) StartPreview(ctx context.Context, projectDir string, opts preview.StartOptions) (preview.Status, error) {
	return o.preview.Start(ctx, projectDir, opts)
}

func (o *Orchestrator) StopPreview(projectDir string) (preview.Status, error) {
	return o.preview.Stop(projectDir)
}

func (o *Orchestrator) PreviewStatus(projectDir string) preview.Status {
	return o.preview.Status(projectDir)
}

func (o *Orchestrator) PreviewLogs(projectDir string, tail int) []string {
	return o.preview.Logs(projectDir, tail)
}
