// Package shell owns long-running background child processes. Each shell
// drains its stdout/stderr into bounded buffers so output can be polled and
// the process killed independently of the permission flow.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
)

const (
	// DefaultBufferBytes caps each of a shell's stdout/stderr buffers.
	DefaultBufferBytes = 256 * 1024
	// DefaultRetention is how long an exited shell stays queryable before
	// the reaper removes it.
	DefaultRetention = 30 * time.Minute

	sigkillDelay = 200 * time.Millisecond
)

// Status is the lifecycle state of a background shell.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusKilled  Status = "killed"
)

// SpawnError reports a failure to start the child process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown or already reaped shell id.
type NotFoundError struct {
	ShellID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shell not found: %s", e.ShellID)
}

// Shell is one background process and its buffered output.
type Shell struct {
	ID        string
	Command   string
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	exitCode int
	exitedAt time.Time
	proc     *os.Process

	stdout *lineRing
	stderr *lineRing
	done   chan struct{}
}

// Snapshot is a point-in-time view of a shell's state and buffered output.
type Snapshot struct {
	ShellID   string   `json:"shellID"`
	Command   string   `json:"command"`
	Status    Status   `json:"status"`
	ExitCode  *int     `json:"exitCode"`
	Stdout    []string `json:"stdout"`
	Stderr    []string `json:"stderr"`
	Truncated bool     `json:"truncated"`
}

// Manager owns zero or more background shells. Each shell is keyed
// independently so readers never contend across shells.
type Manager struct {
	mu        sync.RWMutex
	shells    map[string]*Shell
	bufBytes  int
	retention time.Duration
	prog      string
}

// Option configures the manager.
type Option func(*Manager)

// WithBufferBytes sets the per-stream buffer cap.
func WithBufferBytes(n int) Option {
	return func(m *Manager) { m.bufBytes = n }
}

// WithRetention sets how long exited shells stay queryable.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// NewManager creates an empty shell manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		shells:    make(map[string]*Shell),
		bufBytes:  DefaultBufferBytes,
		retention: DefaultRetention,
		prog:      defaultShell(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// Spawn starts a detached child process running command and begins draining
// its output. Returns the new shell's id.
func (m *Manager) Spawn(command, workDir string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command(m.prog, "/c", command)
	} else {
		cmd = exec.Command(m.prog, "-c", command)
	}
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &SpawnError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &SpawnError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Command: command, Err: err}
	}

	sh := &Shell{
		ID:        uuid.NewString(),
		Command:   command,
		CreatedAt: time.Now(),
		status:    StatusRunning,
		exitCode:  -1,
		proc:      cmd.Process,
		stdout:    newLineRing(m.bufBytes),
		stderr:    newLineRing(m.bufBytes),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.shells[sh.ID] = sh
	m.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go drain(&readers, stdout, sh.stdout)
	go drain(&readers, stderr, sh.stderr)

	go func() {
		readers.Wait()
		err := cmd.Wait()

		sh.mu.Lock()
		if sh.status == StatusRunning {
			sh.status = StatusExited
			sh.exitCode = 0
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					sh.exitCode = exitErr.ExitCode()
				} else {
					sh.exitCode = -1
				}
			} else if cmd.ProcessState != nil {
				sh.exitCode = cmd.ProcessState.ExitCode()
			}
			sh.exitedAt = time.Now()
			code := sh.exitCode
			sh.mu.Unlock()

			event.Publish(event.Event{
				Type: event.ShellExited,
				Data: event.ShellExitedData{ShellID: sh.ID, ExitCode: code},
			})
		} else {
			sh.exitedAt = time.Now()
			sh.mu.Unlock()
		}
		close(sh.done)
	}()

	logging.Debug().Str("shell", sh.ID).Str("command", command).Msg("background shell started")
	event.Publish(event.Event{
		Type: event.ShellStarted,
		Data: event.ShellStartedData{ShellID: sh.ID, Command: command},
	})

	return sh.ID, nil
}

func drain(wg *sync.WaitGroup, r io.Reader, ring *lineRing) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring.Append(scanner.Text())
	}
}

// Output returns the currently buffered output without blocking. filter, if
// non-empty, is a regular expression applied to stdout lines.
func (m *Manager) Output(shellID, filter string) (*Snapshot, error) {
	sh, err := m.get(shellID)
	if err != nil {
		return nil, err
	}

	stdoutLines, stdoutEvicted := sh.stdout.Snapshot()
	stderrLines, stderrEvicted := sh.stderr.Snapshot()

	if filter != "" {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid output filter: %w", err)
		}
		var kept []string
		for _, line := range stdoutLines {
			if re.MatchString(line) {
				kept = append(kept, line)
			}
		}
		stdoutLines = kept
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	snap := &Snapshot{
		ShellID:   sh.ID,
		Command:   sh.Command,
		Status:    sh.status,
		Stdout:    stdoutLines,
		Stderr:    stderrLines,
		Truncated: stdoutEvicted > 0 || stderrEvicted > 0,
	}
	if sh.status != StatusRunning {
		code := sh.exitCode
		snap.ExitCode = &code
	}
	return snap, nil
}

// Kill terminates a shell's process group and stops output accumulation.
// Killing an already finished shell is not an error.
func (m *Manager) Kill(shellID string) error {
	sh, err := m.get(shellID)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	if sh.status != StatusRunning {
		sh.mu.Unlock()
		return nil
	}
	sh.status = StatusKilled
	proc := sh.proc
	sh.mu.Unlock()

	sh.stdout.Close()
	sh.stderr.Close()

	if proc != nil {
		terminate(proc.Pid)
	}

	logging.Debug().Str("shell", shellID).Msg("background shell killed")
	event.Publish(event.Event{
		Type: event.ShellKilled,
		Data: event.ShellKilledData{ShellID: shellID},
	})
	return nil
}

func terminate(pid int) {
	if runtime.GOOS == "windows" {
		_ = exec.Command("taskkill", "/pid", fmt.Sprint(pid), "/f", "/t").Run()
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	time.AfterFunc(sigkillDelay, func() {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	})
}

// Wait blocks until the shell's process has exited and its output drained.
func (m *Manager) Wait(shellID string) error {
	sh, err := m.get(shellID)
	if err != nil {
		return err
	}
	<-sh.done
	return nil
}

// List returns snapshots of every shell the manager still tracks.
func (m *Manager) List() []*Snapshot {
	m.mu.RLock()
	ids := make([]string, 0, len(m.shells))
	for id := range m.shells {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := m.Output(id, ""); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// Reap removes a shell from the table. Running shells are killed first.
func (m *Manager) Reap(shellID string) error {
	sh, err := m.get(shellID)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	running := sh.status == StatusRunning
	sh.mu.Unlock()
	if running {
		if err := m.Kill(shellID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.shells, shellID)
	m.mu.Unlock()
	return nil
}

// ReapExited removes shells that finished longer ago than the retention
// window, bounding accumulation of dead shells.
func (m *Manager) ReapExited() int {
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sh := range m.shells {
		sh.mu.Lock()
		dead := sh.status != StatusRunning && !sh.exitedAt.IsZero() && sh.exitedAt.Before(cutoff)
		sh.mu.Unlock()
		if dead {
			delete(m.shells, id)
			removed++
		}
	}
	return removed
}

// Shutdown kills every running shell and clears the table.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.shells))
	for id := range m.shells {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Kill(id)
	}

	m.mu.Lock()
	m.shells = make(map[string]*Shell)
	m.mu.Unlock()
}

func (m *Manager) get(shellID string) (*Shell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.shells[shellID]
	if !ok {
		return nil, &NotFoundError{ShellID: shellID}
	}
	return sh, nil
}
