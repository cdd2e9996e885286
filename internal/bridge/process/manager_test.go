package process

import (
	"bufio"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juncture-dev/juncture/internal/common/logger"
)

func TestStartRequiresCommand(t *testing.T) {
	m := NewManager(Config{}, logger.Default())

	err := m.Start()
	require.Error(t, err)
	assert.Equal(t, StatusError, m.Status())
}

func TestStartAndStop(t *testing.T) {
	m := NewManager(Config{Command: []string{"cat"}}, logger.Default())

	require.NoError(t, m.Start())
	assert.Equal(t, StatusRunning, m.Status())

	// Idempotent while running.
	require.NoError(t, m.Start())

	require.NoError(t, m.Stop())
	assert.Equal(t, StatusStopped, m.Status())

	// Idempotent once stopped.
	require.NoError(t, m.Stop())
}

func TestStdioRoundTrip(t *testing.T) {
	m := NewManager(Config{Command: []string{"cat"}}, logger.Default())
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	_, err := fmt.Fprintln(m.Stdin(), "hello agent")
	require.NoError(t, err)

	line, err := bufio.NewReader(m.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello agent\n", line)
}

func TestRecentStderrKeepsTail(t *testing.T) {
	script := `for i in 1 2 3 4 5 6 7; do echo "line $i" 1>&2; done; sleep 5`
	m := NewManager(Config{
		Command:           []string{"sh", "-c", script},
		StderrBufferLines: 3,
	}, logger.Default())
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	var lines []string
	require.Eventually(t, func() bool {
		lines = m.RecentStderr()
		return len(lines) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"line 5", "line 6", "line 7"}, lines)
}

func TestCrashInvokesExitHandler(t *testing.T) {
	m := NewManager(Config{Command: []string{"sh", "-c", "echo boom 1>&2; exit 3"}}, logger.Default())

	exited := make(chan error, 1)
	m.SetExitHandler(func(err error) { exited <- err })

	require.NoError(t, m.Start())

	select {
	case err := <-exited:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler was not invoked")
	}

	assert.Equal(t, StatusError, m.Status())
	assert.Equal(t, 3, m.ExitCode())
	require.Error(t, m.ExitError())
	assert.Eventually(t, func() bool {
		for _, line := range m.RecentStderr() {
			if line == "boom" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeliberateStopDoesNotInvokeExitHandler(t *testing.T) {
	m := NewManager(Config{Command: []string{"cat"}}, logger.Default())

	exited := make(chan error, 1)
	m.SetExitHandler(func(err error) { exited <- err })

	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())

	select {
	case err := <-exited:
		t.Fatalf("exit handler fired on deliberate stop: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StatusStopped, m.Status())
}

func TestRestartAfterStop(t *testing.T) {
	m := NewManager(Config{Command: []string{"cat"}}, logger.Default())

	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())

	require.NoError(t, m.Start())
	assert.Equal(t, StatusRunning, m.Status())
	assert.Equal(t, -1, m.ExitCode())
	require.NoError(t, m.Stop())
}

func TestEnvIsPassedToSubprocess(t *testing.T) {
	m := NewManager(Config{
		Command: []string{"sh", "-c", `echo "$JUNCTURE_TEST_VAR"`},
		Env:     []string{"JUNCTURE_TEST_VAR=present"},
	}, logger.Default())
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	line, err := bufio.NewReader(m.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "present\n", line)
}
