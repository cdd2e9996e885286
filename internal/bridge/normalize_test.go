package bridge

import (
	"encoding/json"
	"testing"

	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/pkg/codex"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(logger.Default())
}

func TestNormalizeModernDelta(t *testing.T) {
	n := newTestNormalizer()

	params := json.RawMessage(`{"turnId":"t1","delta":"Hello"}`)
	got, ok := n.Normalize(codex.NotifyItemAgentMessageDelta, params, "")
	if !ok {
		t.Fatal("expected classification")
	}
	if got.Source != SourceModern || got.Kind != KindDelta {
		t.Errorf("got source=%s kind=%s, want modern delta", got.Source, got.Kind)
	}
	if got.TurnID != "t1" || got.Text != "Hello" {
		t.Errorf("got turn=%q text=%q", got.TurnID, got.Text)
	}
}

func TestNormalizeLegacyEnvelope(t *testing.T) {
	n := newTestNormalizer()

	params := json.RawMessage(`{"msg":{"type":"agent_message_delta","payload":{"turn_id":"t9","delta":"chunk"}}}`)
	got, ok := n.Normalize("codex/event/agent_message_delta", params, "")
	if !ok {
		t.Fatal("expected classification")
	}
	if got.Source != SourceLegacy || got.Kind != KindDelta {
		t.Errorf("got source=%s kind=%s, want legacy delta", got.Source, got.Kind)
	}
	if got.TurnID != "t9" || got.Text != "chunk" {
		t.Errorf("got turn=%q text=%q", got.TurnID, got.Text)
	}
}

func TestNormalizeTurnIDResolution(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		params   string
		active   string
		expected string
	}{
		{
			name:     "explicit turnId wins",
			method:   codex.NotifyItemAgentMessageDelta,
			params:   `{"turnId":"explicit","turn":{"id":"nested"},"delta":"x"}`,
			active:   "active",
			expected: "explicit",
		},
		{
			name:     "nested turn.id next",
			method:   codex.NotifyTurnCompleted,
			params:   `{"turn":{"id":"nested"}}`,
			active:   "active",
			expected: "nested",
		},
		{
			name:     "legacy turn_id from envelope payload",
			method:   "codex/event/task_complete",
			params:   `{"msg":{"type":"task_complete","payload":{"turn_id":"legacy"}}}`,
			active:   "active",
			expected: "legacy",
		},
		{
			name:     "active turn as last resort",
			method:   codex.NotifyItemAgentMessageDelta,
			params:   `{"delta":"x"}`,
			active:   "fallback",
			expected: "fallback",
		},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.Normalize(tt.method, json.RawMessage(tt.params), tt.active)
			if !ok {
				t.Fatal("expected classification")
			}
			if got.TurnID != tt.expected {
				t.Errorf("turn id = %q, want %q", got.TurnID, tt.expected)
			}
		})
	}
}

func TestNormalizeItemCompleted(t *testing.T) {
	n := newTestNormalizer()

	t.Run("assistant message becomes pending final", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","item":{"type":"agentMessage","role":"assistant","text":"final text"}}`)
		got, ok := n.Normalize(codex.NotifyItemCompleted, params, "")
		if !ok || got.Kind != KindPendingFinal || got.Text != "final text" {
			t.Fatalf("got %+v, want pending final with text", got)
		}
	})

	t.Run("command item becomes activity", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","item":{"type":"commandExecution","command":"go vet ./..."}}`)
		got, ok := n.Normalize(codex.NotifyItemCompleted, params, "")
		if !ok || got.Kind != KindActivity {
			t.Fatalf("got %+v, want activity", got)
		}
		if got.Activity.Kind != ActivityCommand || got.Activity.Summary != "go vet ./..." {
			t.Errorf("activity = %+v", got.Activity)
		}
	})

	t.Run("reasoning item becomes reasoning", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","item":{"type":"reasoning","text":"thinking"}}`)
		got, ok := n.Normalize(codex.NotifyItemCompleted, params, "")
		if !ok || got.Kind != KindReasoning || got.Text != "thinking" {
			t.Fatalf("got %+v, want reasoning", got)
		}
	})

	t.Run("user message item is dropped", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","item":{"type":"userMessage","text":"hi"}}`)
		if _, ok := n.Normalize(codex.NotifyItemCompleted, params, ""); ok {
			t.Error("user message items should not classify")
		}
	})
}

func TestNormalizeTerminals(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		params  string
		outcome Outcome
		errMsg  string
	}{
		{
			name:    "modern completed",
			method:  codex.NotifyTurnCompleted,
			params:  `{"turn":{"id":"t1"}}`,
			outcome: OutcomeCompleted,
		},
		{
			name:    "modern completed with success false downgrades to failed",
			method:  codex.NotifyTurnCompleted,
			params:  `{"turnId":"t1","success":false,"error":{"message":"boom"}}`,
			outcome: OutcomeFailed,
			errMsg:  "boom",
		},
		{
			name:    "modern failed",
			method:  codex.NotifyTurnFailed,
			params:  `{"turnId":"t1","error":"exploded"}`,
			outcome: OutcomeFailed,
			errMsg:  "exploded",
		},
		{
			name:    "legacy task_complete",
			method:  "codex/event/task_complete",
			params:  `{"msg":{"type":"task_complete","payload":{"turn_id":"t1","last_agent_message":"done"}}}`,
			outcome: OutcomeCompleted,
		},
		{
			name:    "legacy task_error",
			method:  "codex/event/task_error",
			params:  `{"msg":{"type":"task_error","payload":{"turn_id":"t1","message":"legacy boom"}}}`,
			outcome: OutcomeFailed,
			errMsg:  "legacy boom",
		},
		{
			name:    "legacy interrupted",
			method:  "codex/event/task_interrupted",
			params:  `{"msg":{"type":"task_interrupted","payload":{"turn_id":"t1"}}}`,
			outcome: OutcomeInterrupted,
		},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.Normalize(tt.method, json.RawMessage(tt.params), "")
			if !ok {
				t.Fatal("expected classification")
			}
			if got.Kind != KindTerminal {
				t.Fatalf("kind = %s, want terminal", got.Kind)
			}
			if got.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", got.Outcome, tt.outcome)
			}
			if got.ErrMsg != tt.errMsg {
				t.Errorf("errMsg = %q, want %q", got.ErrMsg, tt.errMsg)
			}
		})
	}
}

func TestNormalizeTokenHeuristics(t *testing.T) {
	n := newTestNormalizer()

	t.Run("reasoning delta by token", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","delta":"because"}`)
		got, ok := n.Normalize(codex.NotifyItemReasoningTextDelta, params, "")
		if !ok || got.Kind != KindReasoning || got.Text != "because" {
			t.Fatalf("got %+v, want reasoning", got)
		}
	})

	t.Run("legacy exec event becomes command activity", func(t *testing.T) {
		params := json.RawMessage(`{"msg":{"type":"exec_command_begin","payload":{"turn_id":"t1","command":["ls","-la"]}}}`)
		got, ok := n.Normalize("codex/event/exec_command_begin", params, "")
		if !ok || got.Kind != KindActivity {
			t.Fatalf("got %+v, want activity", got)
		}
		if got.Activity.Kind != ActivityCommand || got.Activity.Summary != "ls -la" {
			t.Errorf("activity = %+v", got.Activity)
		}
	})

	t.Run("web search becomes search activity", func(t *testing.T) {
		params := json.RawMessage(`{"msg":{"type":"web_search_begin","payload":{"turn_id":"t1","query":"golang context"}}}`)
		got, ok := n.Normalize("codex/event/web_search_begin", params, "")
		if !ok || got.Activity == nil || got.Activity.Kind != ActivitySearch {
			t.Fatalf("got %+v, want search activity", got)
		}
		if got.Activity.Summary != "golang context" {
			t.Errorf("summary = %q", got.Activity.Summary)
		}
	})

	t.Run("summary falls back to method name", func(t *testing.T) {
		params := json.RawMessage(`{"msg":{"type":"mcp_tool_call_begin","payload":{"turn_id":"t1"}}}`)
		got, ok := n.Normalize("codex/event/mcp_tool_call_begin", params, "")
		if !ok || got.Activity == nil {
			t.Fatal("expected activity")
		}
		if got.Activity.Summary != "codex/event/mcp_tool_call_begin" {
			t.Errorf("summary = %q, want raw method fallback", got.Activity.Summary)
		}
	})

	t.Run("plan update becomes tool activity", func(t *testing.T) {
		params := json.RawMessage(`{"turnId":"t1","plan":[{"step":"read files"}]}`)
		got, ok := n.Normalize("turn/plan/updated", params, "")
		if !ok || got.Activity == nil || got.Activity.Kind != ActivityTool {
			t.Fatalf("got %+v, want tool activity", got)
		}
	})

	t.Run("unknown method is dropped", func(t *testing.T) {
		if _, ok := n.Normalize("thread/started", json.RawMessage(`{}`), "t1"); ok {
			t.Error("unclassifiable methods should be dropped")
		}
	})
}
