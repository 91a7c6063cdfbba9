// Package preview supervises one development-server child process per
// project directory: port allocation, pre-start repair, spawn, readiness
// probing, rolling log capture, and exit classification.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"webforge/internal/config"
	"webforge/internal/deps"
	"webforge/internal/logging"
	"webforge/internal/project"
	"webforge/internal/repair"
)

// State is a preview instance's lifecycle state. Error and Stopped are both
// re-startable; there is no terminal state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// logTailLines is how much captured output gets folded into a failure
// message for diagnosis.
const logTailLines = 30

// Status is a point-in-time snapshot of a preview instance.
type Status struct {
	State     State     `json:"state"`
	URL       string    `json:"url,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// StartOptions tweaks a single start attempt.
type StartOptions struct {
	// Port overrides the configured base port for the probe sequence.
	Port int

	// SkipInstall suppresses the pre-start dependency install even when
	// the repair pass flagged a manifest change.
	SkipInstall bool
}

// instance is the per-project state. gen is a handle generation counter:
// exit events carry the generation of the process they watch and are
// ignored when the handle has since been replaced or cleared.
type instance struct {
	lifecycle sync.Mutex // serializes start/stop

	mu        sync.Mutex
	state     State
	port      int
	url       string
	startedAt time.Time
	lastErr   string
	logs      *logRing
	cmd       *exec.Cmd
	gen       uint64

	// installStale flips when package.json changes on disk outside a
	// start, forcing an install on the next one.
	installStale bool
}

func (in *instance) statusLocked() Status {
	st := Status{State: in.state, Error: in.lastErr}
	if in.state == StateStarting || in.state == StateRunning {
		st.URL = in.url
		st.Port = in.port
		st.StartedAt = in.startedAt
		if in.cmd != nil && in.cmd.Process != nil {
			st.PID = in.cmd.Process.Pid
		}
	}
	return st
}

// Supervisor owns at most one dev-server process per project path.
type Supervisor struct {
	cfg config.PreviewConfig

	mu        sync.Mutex
	instances map[string]*instance

	flight  singleflight.Group
	watcher *project.Watcher

	// Swapped out in tests.
	detect     func(ctx context.Context) (deps.PackageManager, error)
	commandFor func(pm deps.PackageManager, port int) (string, []string)
	runner     deps.Runner
	probe      func(ctx context.Context, url string) bool
	repairFn   func(dir string) repair.Result
}

// NewSupervisor builds a supervisor with an empty instance store.
func NewSupervisor(cfg config.PreviewConfig) *Supervisor {
	s := newSupervisor(cfg)
	if w, err := project.NewWatcher(); err == nil {
		s.watcher = w
	} else {
		logging.PreviewDebug("manifest watcher unavailable: %v", err)
	}
	return s
}

func newSupervisor(cfg config.PreviewConfig) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		instances:  map[string]*instance{},
		detect:     deps.DetectPackageManager,
		commandFor: deps.DevServerCommand,
		runner:     deps.ExecRunner{Timeout: cfg.InstallTimeout},
		probe:      httpProbe,
		repairFn:   repair.Repair,
	}
}

// httpProbe treats any HTTP response, even an error page, as readiness:
// the server answering at all is what matters.
func httpProbe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// instance returns the per-path instance, creating it on demand. Paths are
// keyed resolved-absolute so "./app" and "app" share one instance.
func (s *Supervisor) instance(abs string) *instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[abs]
	if !ok {
		inst = &instance{state: StateStopped, logs: newLogRing(s.cfg.LogRingCapacity)}
		s.instances[abs] = inst
		if s.watcher != nil {
			s.watcher.Watch(abs, func() {
				inst.mu.Lock()
				inst.installStale = true
				inst.mu.Unlock()
			})
		}
	}
	return inst
}

func (s *Supervisor) lookup(projectDir string) *instance {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[abs]
}

// Start brings the project's dev server to Running, or reports why it
// could not. Concurrent starts for the same path collapse into one attempt.
func (s *Supervisor) Start(ctx context.Context, projectDir string, opts StartOptions) (Status, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return Status{State: StateError}, err
	}

	v, err, _ := s.flight.Do(abs, func() (interface{}, error) {
		st, err := s.start(ctx, abs, opts)
		return st, err
	})
	st, _ := v.(Status)
	return st, err
}

func (s *Supervisor) start(ctx context.Context, abs string, opts StartOptions) (Status, error) {
	inst := s.instance(abs)
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()

	inst.mu.Lock()
	if inst.state == StateRunning && processAlive(inst.cmd) {
		st := inst.statusLocked()
		inst.mu.Unlock()
		return st, nil
	}
	stale := inst.cmd
	inst.cmd = nil
	inst.gen++
	inst.state = StateStarting
	inst.lastErr = ""
	inst.mu.Unlock()

	if stale != nil {
		logging.Preview("terminating stale dev server for %s", abs)
		s.terminate(stale)
	}

	fail := func(format string, args ...interface{}) (Status, error) {
		msg := fmt.Sprintf(format, args...)
		inst.mu.Lock()
		inst.state = StateError
		inst.lastErr = msg
		st := inst.statusLocked()
		inst.mu.Unlock()
		logging.PreviewError("%s", msg)
		return st, errors.New(msg)
	}

	base := s.cfg.PortBase
	if opts.Port > 0 {
		base = opts.Port
	}
	port, err := allocatePort(s.cfg.Host, base, s.cfg.PortProbeCount)
	if err != nil {
		return fail("port allocation failed: %v", err)
	}

	pm, err := s.detect(ctx)
	if err != nil {
		return fail("cannot start preview: %v", err)
	}

	repaired := s.repairFn(abs)

	inst.mu.Lock()
	staleInstall := inst.installStale
	inst.mu.Unlock()

	if !opts.SkipInstall && (s.cfg.AutoInstallDeps || repaired.ReinstallNeeded || staleInstall) {
		name, args := deps.BulkInstallCommand(pm)
		logging.Preview("installing dependencies with %s", pm)
		if out, err := s.runner.Run(ctx, abs, name, args...); err != nil {
			// Best effort; the server might still come up on a
			// previously populated node_modules.
			logging.PreviewError("dependency install failed: %v\n%s", err, tailOfString(out))
		} else {
			inst.mu.Lock()
			inst.installStale = false
			inst.mu.Unlock()
		}
	}

	name, args := s.commandFor(pm, port)
	cmd := exec.Command(name, args...)
	cmd.Dir = abs
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port))
	setupProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail("failed to open stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail("failed to open stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return fail("failed to spawn dev server (%s): %v", name, err)
	}
	logging.Preview("spawned %s (pid %d) on port %d", name, cmd.Process.Pid, port)

	var streams sync.WaitGroup
	streams.Add(2)
	go inst.logs.capture(stdout, streams.Done)
	go inst.logs.capture(stderr, streams.Done)

	inst.mu.Lock()
	inst.cmd = cmd
	inst.gen++
	gen := inst.gen
	inst.port = port
	inst.startedAt = time.Now()
	inst.url = fmt.Sprintf("http://%s:%d", s.cfg.Host, port)
	url := inst.url
	inst.mu.Unlock()

	go s.watch(inst, cmd, gen, &streams)

	return s.awaitReady(ctx, inst, cmd, gen, url, fail)
}

// awaitReady polls the server URL until it answers, the process dies, the
// context is cancelled, or the timeout runs out.
func (s *Supervisor) awaitReady(ctx context.Context, inst *instance, cmd *exec.Cmd, gen uint64, url string, fail func(string, ...interface{}) (Status, error)) (Status, error) {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	ticker := time.NewTicker(s.cfg.ReadyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			inst.mu.Lock()
			if inst.gen == gen {
				inst.cmd = nil
				inst.gen++
				inst.state = StateStopped
			}
			st := inst.statusLocked()
			inst.mu.Unlock()
			s.terminate(cmd)
			return st, ctx.Err()
		case <-ticker.C:
		}

		inst.mu.Lock()
		replaced := inst.gen != gen
		state := inst.state
		lastErr := inst.lastErr
		st := inst.statusLocked()
		inst.mu.Unlock()
		if replaced {
			return st, errors.New("preview instance replaced during start")
		}
		if state == StateError {
			return st, errors.New(lastErr)
		}

		if s.probe(ctx, url) {
			inst.mu.Lock()
			if inst.gen == gen && inst.state == StateStarting {
				inst.state = StateRunning
			}
			st := inst.statusLocked()
			inst.mu.Unlock()
			logging.Preview("dev server ready at %s", url)
			return st, nil
		}

		if time.Now().After(deadline) {
			inst.mu.Lock()
			if inst.gen == gen {
				inst.cmd = nil
				inst.gen++
			}
			inst.mu.Unlock()
			s.terminate(cmd)
			return fail("dev server not ready after %s\n%s",
				s.cfg.ReadyTimeout, inst.logs.TailString(logTailLines))
		}
	}
}

// watch waits for the process to exit and classifies the exit. A stale
// generation means the handle was replaced or cleared deliberately and the
// event is dropped.
func (s *Supervisor) watch(inst *instance, cmd *exec.Cmd, gen uint64, streams *sync.WaitGroup) {
	streams.Wait()
	err := cmd.Wait()

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.gen != gen {
		return
	}
	inst.cmd = nil

	if exitWasClean(cmd.ProcessState) {
		inst.state = StateStopped
		inst.lastErr = ""
		logging.Preview("dev server exited cleanly")
		return
	}

	msg := fmt.Sprintf("dev server exited: %v", err)
	if tail := inst.logs.TailString(logTailLines); tail != "" {
		msg += "\n" + tail
	}
	inst.state = StateError
	inst.lastErr = msg
	logging.PreviewError("dev server crashed: %v", err)
}

// Stop terminates the project's dev server if one is running. The handle is
// cleared before signaling so a late exit event cannot corrupt the state of
// a newer instance.
func (s *Supervisor) Stop(projectDir string) (Status, error) {
	inst := s.lookup(projectDir)
	if inst == nil {
		return Status{State: StateStopped}, nil
	}
	inst.lifecycle.Lock()
	defer inst.lifecycle.Unlock()

	inst.mu.Lock()
	handle := inst.cmd
	inst.cmd = nil
	inst.gen++
	inst.state = StateStopped
	inst.lastErr = ""
	st := inst.statusLocked()
	inst.mu.Unlock()

	if handle != nil {
		s.terminate(handle)
		logging.Preview("stopped dev server for %s", projectDir)
	}
	return st, nil
}

// Status reports the current state without touching the process.
func (s *Supervisor) Status(projectDir string) Status {
	inst := s.lookup(projectDir)
	if inst == nil {
		return Status{State: StateStopped}
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.statusLocked()
}

// Logs returns up to n recent captured output lines, oldest first. n <= 0
// means everything retained.
func (s *Supervisor) Logs(projectDir string, n int) []string {
	inst := s.lookup(projectDir)
	if inst == nil {
		return nil
	}
	if n <= 0 {
		n = -1
	}
	return inst.logs.Tail(n)
}

// Shutdown stops every instance. Called once at application exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.instances))
	for p := range s.instances {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	for _, p := range paths {
		s.Stop(p)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// terminate signals the process group gracefully, waits out the grace
// window, then force-kills whatever is left.
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	signalGraceful(cmd)

	deadline := time.Now().Add(s.cfg.KillGracePeriod)
	for time.Now().Before(deadline) {
		if !processAlive(cmd) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	signalForce(cmd)
}

func tailOfString(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
