// Package process manages the agent subprocess lifecycle.
package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/juncture-dev/juncture/internal/common/logger"
	"go.uber.org/zap"
)

// Status represents the agent process status
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// errorWrapper wraps an error so it can be stored in atomic.Value (which cannot store nil)
type errorWrapper struct {
	err error
}

const defaultStderrBufferSize = 50

// Config holds the subprocess command line and environment.
type Config struct {
	// Command is the agent binary plus arguments.
	Command []string
	// WorkDir is the subprocess working directory.
	WorkDir string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
	// StderrBufferLines bounds the retained stderr ring. Zero means the default.
	StderrBufferLines int
}

// Manager owns the agent subprocess: it spawns it, exposes the stdio pipes,
// captures recent stderr for error context, and reports exit.
type Manager struct {
	cfg    Config
	logger *logger.Logger

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	status   atomic.Value // Status
	exitCode atomic.Int32
	exitErr  atomic.Value // errorWrapper

	stderrBuffer []string
	stderrMu     sync.RWMutex

	// onExit is invoked once, from the exit waiter goroutine, when the
	// subprocess terminates for any reason.
	onExit func(err error)

	wg      sync.WaitGroup
	stopCh  chan struct{}
	startMu sync.Mutex
}

// NewManager creates a new process manager.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "process-manager")),
	}
	m.status.Store(StatusStopped)
	m.exitCode.Store(-1)
	return m
}

// Status returns the current process status
func (m *Manager) Status() Status {
	return m.status.Load().(Status)
}

// ExitCode returns the exit code (-1 if not exited)
func (m *Manager) ExitCode() int {
	return int(m.exitCode.Load())
}

// ExitError returns the exit error if any
func (m *Manager) ExitError() error {
	if v := m.exitErr.Load(); v != nil {
		if w, ok := v.(errorWrapper); ok {
			return w.err
		}
	}
	return nil
}

// SetExitHandler registers the callback invoked when the subprocess exits.
// Must be called before Start.
func (m *Manager) SetExitHandler(fn func(err error)) {
	m.onExit = fn
}

// Stdin returns the subprocess stdin pipe. Valid only while running.
func (m *Manager) Stdin() io.Writer {
	return m.stdin
}

// Stdout returns the subprocess stdout pipe. Valid only while running.
func (m *Manager) Stdout() io.Reader {
	return m.stdout
}

// Start spawns the agent subprocess. It is idempotent: starting an already
// running manager is a no-op returning nil.
func (m *Manager) Start() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.Status() == StatusRunning || m.Status() == StatusStarting {
		return nil
	}

	if len(m.cfg.Command) == 0 {
		m.status.Store(StatusError)
		return fmt.Errorf("no agent command configured")
	}

	m.logger.Info("starting agent process",
		zap.Strings("command", m.cfg.Command),
		zap.String("workdir", m.cfg.WorkDir))

	m.status.Store(StatusStarting)
	m.exitCode.Store(-1)
	m.exitErr.Store(errorWrapper{err: nil})

	// NOTE: intentionally not exec.CommandContext; the caller's request
	// context must not kill the agent when the request completes.
	m.cmd = exec.Command(m.cfg.Command[0], m.cfg.Command[1:]...)
	m.cmd.Dir = m.cfg.WorkDir
	m.cmd.Env = append(os.Environ(), m.cfg.Env...)

	var err error
	m.stdin, err = m.cmd.StdinPipe()
	if err != nil {
		m.status.Store(StatusError)
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	m.stdout, err = m.cmd.StdoutPipe()
	if err != nil {
		m.status.Store(StatusError)
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.stderr, err = m.cmd.StderrPipe()
	if err != nil {
		m.status.Store(StatusError)
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := m.cmd.Start(); err != nil {
		m.status.Store(StatusError)
		return fmt.Errorf("failed to start agent: %w", err)
	}

	m.stopCh = make(chan struct{})
	m.stderrMu.Lock()
	m.stderrBuffer = nil
	m.stderrMu.Unlock()

	m.wg.Add(2)
	go m.readStderr()
	go m.waitForExit()

	m.status.Store(StatusRunning)
	m.logger.Info("agent process started", zap.Int("pid", m.cmd.Process.Pid))

	return nil
}

// Stop terminates the agent subprocess. Closing stdin is usually enough for
// app-server agents; the process is killed if it does not exit on its own.
func (m *Manager) Stop() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.Status() != StatusRunning && m.Status() != StatusStarting {
		return nil
	}

	m.status.Store(StatusStopping)
	close(m.stopCh)

	if m.stdin != nil {
		_ = m.stdin.Close()
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}

	m.wg.Wait()
	m.status.Store(StatusStopped)
	m.logger.Info("agent process stopped")
	return nil
}

// RecentStderr returns a copy of the retained stderr lines, oldest first.
func (m *Manager) RecentStderr() []string {
	m.stderrMu.RLock()
	defer m.stderrMu.RUnlock()
	out := make([]string, len(m.stderrBuffer))
	copy(out, m.stderrBuffer)
	return out
}

func (m *Manager) stderrLimit() int {
	if m.cfg.StderrBufferLines > 0 {
		return m.cfg.StderrBufferLines
	}
	return defaultStderrBufferSize
}

func (m *Manager) readStderr() {
	defer m.wg.Done()

	scanner := bufio.NewScanner(m.stderr)
	limit := m.stderrLimit()
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Debug("agent stderr", zap.String("line", line))

		m.stderrMu.Lock()
		m.stderrBuffer = append(m.stderrBuffer, line)
		if len(m.stderrBuffer) > limit {
			m.stderrBuffer = m.stderrBuffer[len(m.stderrBuffer)-limit:]
		}
		m.stderrMu.Unlock()
	}
}

func (m *Manager) waitForExit() {
	defer m.wg.Done()

	err := m.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	m.exitCode.Store(int32(exitCode))
	m.exitErr.Store(errorWrapper{err: err})

	select {
	case <-m.stopCh:
		// Deliberate stop; Stop() handles status.
		return
	default:
	}

	m.status.Store(StatusError)
	m.logger.Warn("agent process exited unexpectedly",
		zap.Int("exit_code", exitCode),
		zap.Error(err))

	if m.onExit != nil {
		if err == nil {
			err = fmt.Errorf("agent process exited with code %d", exitCode)
		}
		m.onExit(err)
	}
}
