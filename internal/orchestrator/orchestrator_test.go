package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"webforge/internal/apply"
	"webforge/internal/config"
	"webforge/internal/deps"
	"webforge/internal/llm"
	"webforge/internal/preview"
)

// scriptedClient replays canned responses and records every request.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	i := len(c.calls)
	c.calls = append(c.calls, messages)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return c.responses[len(c.responses)-1], nil
}

func (c *scriptedClient) ChatStream(ctx context.Context, messages []llm.Message, onChunk func(string) error) (string, error) {
	return c.Chat(ctx, messages)
}

type fakeRunner struct {
	bad map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	for _, a := range args {
		if f.bad[a] {
			return "npm ERR! 404", fmt.Errorf("exit status 1")
		}
	}
	return "ok", nil
}

// fakePreview scripts Start outcomes per call.
type fakePreview struct {
	statuses []preview.Status
	starts   int
	logs     []string
}

func (f *fakePreview) Start(ctx context.Context, dir string, opts preview.StartOptions) (preview.Status, error) {
	i := f.starts
	f.starts++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	st := f.statuses[i]
	if st.State == preview.StateError {
		return st, fmt.Errorf("%s", st.Error)
	}
	return st, nil
}

func (f *fakePreview) Stop(dir string) (preview.Status, error) {
	return preview.Status{State: preview.StateStopped}, nil
}

func (f *fakePreview) Status(dir string) preview.Status {
	return f.statuses[min(f.starts, len(f.statuses))-1]
}

func (f *fakePreview) Logs(dir string, n int) []string { return f.logs }

func newTestOrchestrator(client llm.Client, pc PreviewController) *Orchestrator {
	a := apply.NewApplier()
	a.SetRunner(&fakeRunner{})
	a.SetDetector(func(ctx context.Context) (deps.PackageManager, error) { return deps.PMNpm, nil })
	cfg := config.Default().Fixloop
	return New(client, a, pc, cfg)
}

func TestRunPromptAndApply_MinimalContactPage(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{
		"I added a contact page.\n\nFile: src/app/contact/page.tsx\n```tsx\nexport default function Contact() {\n  return <div>Contact us</div>;\n}\n```\n",
	}}
	o := newTestOrchestrator(client, &fakePreview{})

	res, err := o.RunPromptAndApply(context.Background(), dir, "add a contact page", false)
	if err != nil {
		t.Fatalf("RunPromptAndApply: %v", err)
	}
	if !reflect.DeepEqual(res.AppliedFiles, []string{"src/app/contact/page.tsx"}) {
		t.Errorf("AppliedFiles = %v", res.AppliedFiles)
	}
	if len(res.InstalledDependencies) != 0 {
		t.Errorf("InstalledDependencies = %v", res.InstalledDependencies)
	}
	if res.Summary != "I added a contact page." {
		t.Errorf("Summary = %q", res.Summary)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "app", "contact", "page.tsx")); err != nil {
		t.Errorf("file not on disk: %v", err)
	}
}

func TestRunPromptAndApply_HallucinatedDependency(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"dependencies":{"next":"15.1.6"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	client := &scriptedClient{responses: []string{
		"Done.\n\nFile: src/lib/util.ts\n```ts\nexport const x = 1;\n```\n\nDependencies: [\"@next/navigation\", \"lodash\"]\n",
	}}
	o := newTestOrchestrator(client, &fakePreview{})

	res, err := o.RunPromptAndApply(context.Background(), dir, "add a helper", false)
	if err != nil {
		t.Fatalf("RunPromptAndApply: %v", err)
	}
	if !reflect.DeepEqual(res.InstalledDependencies, []string{"lodash"}) {
		t.Errorf("Installed = %v", res.InstalledDependencies)
	}
	if !reflect.DeepEqual(res.SkippedDependencies, []string{"@next/navigation"}) {
		t.Errorf("Skipped = %v", res.SkippedDependencies)
	}
}

func TestRunPromptAndApply_CorrectiveRetry(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{
		"I would suggest adding a page, shall I?",
		"File: a.ts\n```ts\nexport {};\n```\n",
	}}
	o := newTestOrchestrator(client, &fakePreview{})

	res, err := o.RunPromptAndApply(context.Background(), dir, "add it", true)
	if err != nil {
		t.Fatalf("RunPromptAndApply: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.calls))
	}
	if !reflect.DeepEqual(res.AppliedFiles, []string{"a.ts"}) {
		t.Errorf("AppliedFiles = %v", res.AppliedFiles)
	}

	// The retry must carry the previous reply and a corrective user turn.
	second := client.calls[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleUser || !strings.Contains(last.Content, "no file changes") {
		t.Errorf("corrective instruction missing, last message: %+v", last)
	}
}

func TestRunPromptAndApply_RetryBudgetExhausted(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{"Nothing to do here."}}
	o := newTestOrchestrator(client, &fakePreview{})

	_, err := o.RunPromptAndApply(context.Background(), dir, "change something", true)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	want := 1 + config.Default().Fixloop.RequireChangeTries
	if len(client.calls) != want {
		t.Errorf("model called %d times, want %d", len(client.calls), want)
	}
}

func TestRunPromptAndApply_CancellationIsTerminal(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{""}, errs: []error{context.Canceled}}
	o := newTestOrchestrator(client, &fakePreview{})

	res, err := o.RunPromptAndApply(context.Background(), dir, "anything", true)
	if err != nil {
		t.Fatalf("cancellation must not surface as failure: %v", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled flag not set")
	}
	if len(client.calls) != 1 {
		t.Errorf("cancelled request was retried: %d calls", len(client.calls))
	}
}

func TestAutoFix_HealthyImmediately(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{"unused"}}
	pc := &fakePreview{statuses: []preview.Status{{State: preview.StateRunning, Port: 3000}}}
	o := newTestOrchestrator(client, pc)

	out, err := o.AutoFix(context.Background(), dir)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if !out.Healthy || out.Attempts != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if len(client.calls) != 0 {
		t.Errorf("model consulted for a healthy preview: %d calls", len(client.calls))
	}
}

func TestAutoFix_RecoversAfterOneCycle(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{
		"Fixed the layout.\n\nFile: src/app/layout.tsx\n```tsx\nexport default function RootLayout({ children }: { children: React.ReactNode }) {\n  return <html><body>{children}</body></html>;\n}\n```\n",
	}}
	pc := &fakePreview{
		statuses: []preview.Status{
			{State: preview.StateError, Error: "Module not found: ./globals.css"},
			{State: preview.StateRunning, Port: 3000},
		},
		logs: []string{"error - Module not found: ./globals.css"},
	}
	o := newTestOrchestrator(client, pc)

	out, err := o.AutoFix(context.Background(), dir)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if !out.Healthy || out.Attempts != 1 {
		t.Errorf("outcome = %+v", out)
	}

	prompt := client.calls[0][len(client.calls[0])-1].Content
	if !strings.Contains(prompt, "Module not found") {
		t.Errorf("diagnostic prompt missing the failure: %q", prompt)
	}
	if !strings.Contains(prompt, "error - Module not found: ./globals.css") {
		t.Errorf("diagnostic prompt missing the log tail: %q", prompt)
	}
}

func TestAutoFix_StopsAtBudget(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{responses: []string{
		"Trying again.\n\nFile: a.ts\n```ts\nexport {};\n```\n",
	}}
	pc := &fakePreview{statuses: []preview.Status{
		{State: preview.StateError, Error: "listen EADDRINUSE"},
	}}
	o := newTestOrchestrator(client, pc)

	out, err := o.AutoFix(context.Background(), dir)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if out.Healthy {
		t.Error("cannot be healthy, every start failed")
	}
	max := config.Default().Fixloop.MaxAttempts
	if pc.starts != max+1 {
		t.Errorf("preview started %d times, want %d", pc.starts, max+1)
	}
	if len(client.calls) != max {
		t.Errorf("model called %d times, want %d", len(client.calls), max)
	}
	if !strings.Contains(out.LastFailure, "EADDRINUSE") {
		t.Errorf("last failure not reported verbatim: %q", out.LastFailure)
	}
}

func TestAutoFix_CancellationStopsTheLoop(t *testing.T) {
	dir := t.TempDir()
	client := &scriptedClient{errs: []error{context.Canceled}, responses: []string{""}}
	pc := &fakePreview{statuses: []preview.Status{
		{State: preview.StateError, Error: "crash"},
	}}
	o := newTestOrchestrator(client, pc)

	out, err := o.AutoFix(context.Background(), dir)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if !out.Cancelled {
		t.Error("Cancelled flag not set")
	}
	if len(client.calls) != 1 {
		t.Errorf("cancelled fix was retried: %d calls", len(client.calls))
	}
}
