package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juncture-dev/juncture/internal/bridge/process"
	"github.com/juncture-dev/juncture/internal/common/config"
	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/internal/session"
	"github.com/juncture-dev/juncture/pkg/codex"
)

func newTestBridge(t *testing.T) (*Bridge, *session.Manager) {
	t.Helper()

	log := logger.Default()
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"), log)
	t.Cleanup(store.Close)
	sessions := session.NewManager(store, log)

	cfg := &config.Config{
		Agent: config.AgentConfig{
			Command:      []string{"true"},
			DefaultModel: "gpt-5-codex",
		},
		Bridge: config.BridgeConfig{
			RequestTimeout:       5,
			RequestRetries:       0,
			ReconnectMaxAttempts: 2,
			ReconnectBaseDelay:   10,
		},
	}
	return New(cfg, sessions, log), sessions
}

// startTestTurn plants a live turn buffer the way a successful turn/start
// would.
func startTestTurn(b *Bridge, sessions *session.Manager, turnID string) *session.Session {
	sess := sessions.Create("", "")
	b.mu.Lock()
	b.turns[turnID] = newTurnBuffer(turnID, sess.ID, "group-"+turnID)
	b.activeTurnID = turnID
	b.mu.Unlock()
	return sess
}

func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestFinalizeTurnIsIdempotent(t *testing.T) {
	b, sessions := newTestBridge(t)
	sess := startTestTurn(b, sessions, "t1")

	events, cancel := b.Subscribe()
	defer cancel()

	b.mu.Lock()
	b.turns["t1"].applyDelta(SourceModern, "the answer")
	b.mu.Unlock()

	// The agent repeats the terminal through both schemas.
	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"t1"}}`))
	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"t1"}}`))
	b.handleNotification("codex/event/task_complete",
		json.RawMessage(`{"msg":{"type":"task_complete","payload":{"turn_id":"t1"}}}`))

	got := collectEvents(events)
	assert.Equal(t, 1, countEvents(got, EventTurnComplete), "exactly one terminal event")

	updated, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assistant := 0
	for _, m := range updated.History {
		if m.Role == session.RoleAssistant {
			assistant++
			assert.Equal(t, "the answer", m.Text)
		}
	}
	assert.Equal(t, 1, assistant, "history gains exactly one assistant message")

	b.mu.RLock()
	assert.Empty(t, b.activeTurnID, "turn is no longer in flight")
	assert.NotContains(t, b.turns, "t1", "buffer is released")
	b.mu.RUnlock()
}

func TestFinalizeCancelBeatsCompleted(t *testing.T) {
	b, sessions := newTestBridge(t)
	startTestTurn(b, sessions, "t1")

	events, cancel := b.Subscribe()
	defer cancel()

	b.mu.Lock()
	b.turns["t1"].applyDelta(SourceModern, "partial")
	b.turns["t1"].cancelled = true
	b.mu.Unlock()

	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"t1"}}`))

	got := collectEvents(events)
	require.Equal(t, 1, countEvents(got, EventTurnCancelled))
	assert.Zero(t, countEvents(got, EventTurnComplete))
	for _, ev := range got {
		if ev.Type == EventTurnCancelled {
			assert.Equal(t, string(OutcomeCancelled), ev.Outcome)
		}
	}
}

func TestStreamSourceExclusivity(t *testing.T) {
	b, sessions := newTestBridge(t)
	startTestTurn(b, sessions, "t1")

	b.handleNotification("item/agentMessage/delta",
		json.RawMessage(`{"turnId":"t1","delta":"modern text"}`))
	b.handleNotification("codex/event/agent_message_delta",
		json.RawMessage(`{"msg":{"type":"agent_message_delta","payload":{"turn_id":"t1","delta":"legacy text"}}}`))

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Equal(t, "modern text", b.turns["t1"].draft, "legacy deltas must not leak into a modern-claimed buffer")
}

func TestTurnFailureRecordsLastError(t *testing.T) {
	b, sessions := newTestBridge(t)
	sess := startTestTurn(b, sessions, "t1")

	events, cancel := b.Subscribe()
	defer cancel()

	b.handleNotification("turn/failed",
		json.RawMessage(`{"turnId":"t1","error":{"message":"model overloaded"}}`))

	got := collectEvents(events)
	require.Equal(t, 1, countEvents(got, EventError))

	updated, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "model overloaded", updated.LastError)
}

func TestProcessExitFailsInFlightTurns(t *testing.T) {
	b, sessions := newTestBridge(t)
	startTestTurn(b, sessions, "t1")

	events, cancel := b.Subscribe()
	defer cancel()

	b.handleProcessExit(fakeExitError{})

	got := collectEvents(events)
	assert.Equal(t, 1, countEvents(got, EventError), "in-flight turn fails on crash")
	assert.Equal(t, StatusError, b.Status())

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.turns)
}

type fakeExitError struct{}

func (fakeExitError) Error() string { return "exit status 1" }

func TestSendPromptRejectsConcurrentTurn(t *testing.T) {
	b, sessions := newTestBridge(t)
	startTestTurn(b, sessions, "t1")

	_, err := b.SendPrompt(context.Background(), "", "second prompt", "")
	assert.ErrorIs(t, err, ErrTurnInProgress)
}

func TestSendPromptRequiresConnection(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.SendPrompt(context.Background(), "", "hello", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	// The prompt itself must survive the failed send.
	sess := b.sessions.Active()
	require.NotNil(t, sess)
	require.NotEmpty(t, sess.History)
	assert.Equal(t, "hello", sess.History[0].Text)
}

func TestLateTerminalForUnknownTurnIsRemembered(t *testing.T) {
	b, _ := newTestBridge(t)

	events, cancel := b.Subscribe()
	defer cancel()

	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"ghost"}}`))
	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"ghost"}}`))

	got := collectEvents(events)
	assert.Zero(t, countEvents(got, EventTurnComplete))

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.True(t, b.finalized.contains("ghost"))
}

func TestReconnectStopsAtAttemptCeiling(t *testing.T) {
	b, _ := newTestBridge(t)

	// Make every reconnect attempt fail fast at process spawn.
	b.proc = process.NewManager(process.Config{
		Command: []string{"/nonexistent-agent-binary"},
	}, logger.Default())
	b.mu.Lock()
	b.everConnected = true
	b.mu.Unlock()

	b.scheduleReconnect()

	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return !b.reconnecting
	}, 5*time.Second, 10*time.Millisecond, "reconnect loop should terminate")

	assert.Equal(t, StatusError, b.Status())

	// Exhausted attempts must not re-arm on their own.
	b.mu.RLock()
	rearmed := b.reconnecting
	b.mu.RUnlock()
	assert.False(t, rearmed)
}

func TestRegenerateRequiresActiveSession(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.Regenerate(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

// newPipeAgentBridge wires a connected bridge to an in-process fake agent
// that answers the turn-start RPC sequence over raw pipes, pausing for
// delay before each response.
func newPipeAgentBridge(t *testing.T, delay time.Duration) *Bridge {
	t.Helper()
	b, _ := newTestBridge(t)

	agentIn, clientOut := io.Pipe()
	clientIn, agentOut := io.Pipe()

	client := codex.NewClient(clientOut, clientIn, logger.Default())
	client.SetNotificationHandler(b.handleNotification)
	client.SetRequestHandler(b.handleServerRequest)
	client.Start(context.Background())
	t.Cleanup(func() {
		client.Stop()
		_ = agentIn.Close()
		_ = agentOut.Close()
	})

	b.mu.Lock()
	b.client = client
	b.everConnected = true
	b.mu.Unlock()

	var turnSeq atomic.Int64
	go func() {
		sc := bufio.NewScanner(agentIn)
		enc := json.NewEncoder(agentOut)
		for sc.Scan() {
			var req struct {
				ID     any    `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil || req.ID == nil {
				continue
			}
			time.Sleep(delay)

			var result any
			switch req.Method {
			case codex.MethodModelList:
				result = codex.ModelListResult{Models: []codex.Model{{ID: "gpt-5-codex"}}}
			case codex.MethodThreadStart, codex.MethodThreadResume:
				result = codex.ThreadStartResult{Thread: &codex.Thread{ID: "thread-1"}}
			case codex.MethodTurnStart:
				result = codex.TurnStartResult{Turn: &codex.Turn{ID: fmt.Sprintf("turn-%d", turnSeq.Add(1))}}
			default:
				result = struct{}{}
			}
			if err := enc.Encode(map[string]any{"id": req.ID, "result": result}); err != nil {
				return
			}
		}
	}()
	return b
}

func TestConcurrentPromptsClaimOneTurn(t *testing.T) {
	// The delay keeps the second prompt inside the first one's start window.
	b := newPipeAgentBridge(t, 150*time.Millisecond)

	type result struct {
		turnID string
		err    error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			id, err := b.SendPrompt(context.Background(), "", fmt.Sprintf("prompt %d", n), "")
			results <- result{id, err}
		}(i)
	}

	var started, rejected int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			assert.ErrorIs(t, r.err, ErrTurnInProgress)
			rejected++
			continue
		}
		assert.NotEmpty(t, r.turnID)
		started++
	}
	assert.Equal(t, 1, started, "exactly one prompt starts a turn")
	assert.Equal(t, 1, rejected, "the overlapping prompt is rejected")

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Len(t, b.turns, 1, "a single live turn buffer")
	assert.NotEmpty(t, b.activeTurnID)
	assert.False(t, b.turnStarting)
}

func TestFailedStartReleasesTurnSlot(t *testing.T) {
	b, _ := newTestBridge(t)

	// No client connected, so the start fails after the slot was claimed.
	_, err := b.SendPrompt(context.Background(), "", "hello", "")
	require.ErrorIs(t, err, ErrNotConnected)

	assert.False(t, b.Busy(), "a failed start must not leave the slot claimed")
}

func TestFinalizeEmitsAssistantFinal(t *testing.T) {
	b, sessions := newTestBridge(t)
	startTestTurn(b, sessions, "t1")

	events, cancel := b.Subscribe()
	defer cancel()

	b.mu.Lock()
	b.turns["t1"].applyDelta(SourceModern, "final answer")
	b.mu.Unlock()

	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"t1"}}`))
	b.handleNotification("turn/completed", json.RawMessage(`{"turn":{"id":"t1"}}`))

	got := collectEvents(events)
	require.Equal(t, 1, countEvents(got, EventAssistantFinal))

	finalIdx, completeIdx := -1, -1
	for i, ev := range got {
		switch ev.Type {
		case EventAssistantFinal:
			finalIdx = i
			assert.Equal(t, "final answer", ev.Text)
			require.NotNil(t, ev.Message)
			assert.Equal(t, "final answer", ev.Message.Text)
			assert.True(t, ev.Message.IsActiveAttempt)
		case EventTurnComplete:
			completeIdx = i
		}
	}
	require.GreaterOrEqual(t, finalIdx, 0)
	require.GreaterOrEqual(t, completeIdx, 0)
	assert.Less(t, finalIdx, completeIdx, "the final message precedes the terminal event")
}

func TestLegacyApprovalRequestAnsweredPerPolicy(t *testing.T) {
	for _, tc := range []struct {
		name        string
		autoApprove bool
		decision    string
	}{
		{"auto-approve accepts", true, "accept"},
		{"default declines", false, "decline"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, sessions := newTestBridge(t)
			b.agentCfg.AutoApprove = tc.autoApprove
			startTestTurn(b, sessions, "t1")

			var wire bytes.Buffer
			b.mu.Lock()
			b.client = codex.NewClient(&wire, strings.NewReader(""), logger.Default())
			b.mu.Unlock()

			events, cancel := b.Subscribe()
			defer cancel()

			b.handleServerRequest(float64(9), codex.LegacyExecApprovalRequest,
				json.RawMessage(`{"turn_id":"t1","command":["rm","-rf","build"]}`))

			var resp struct {
				ID     float64                 `json:"id"`
				Result *codex.ApprovalResponse `json:"result"`
				Error  *codex.Error            `json:"error"`
			}
			require.NoError(t, json.Unmarshal(wire.Bytes(), &resp))
			assert.Equal(t, float64(9), resp.ID)
			require.Nil(t, resp.Error, "legacy approvals must not be refused as unknown methods")
			require.NotNil(t, resp.Result)
			assert.Equal(t, tc.decision, resp.Result.Decision)

			got := collectEvents(events)
			require.Equal(t, 1, countEvents(got, EventAssistantActivity))
			for _, ev := range got {
				if ev.Type == EventAssistantActivity {
					assert.Equal(t, "t1", ev.TurnID)
					assert.Equal(t, ActivityCommand, ev.Activity.Kind)
				}
			}
		})
	}
}

func TestConnectHandshakeFailureStopsProcess(t *testing.T) {
	b, _ := newTestBridge(t)
	b.cfg.RequestTimeout = 1

	// An agent that starts but never answers initialize.
	b.proc = process.NewManager(process.Config{Command: []string{"sleep", "30"}}, logger.Default())

	err := b.Connect(context.Background())
	require.Error(t, err)

	// The subprocess must die with the failed handshake: its stdout pipe
	// still has the dead client's reader parked on it, and a retried Connect
	// needs a fresh pipe.
	assert.Equal(t, process.StatusStopped, b.proc.Status())
	assert.Equal(t, StatusError, b.Status())

	b.mu.RLock()
	assert.Nil(t, b.client)
	b.mu.RUnlock()
}
