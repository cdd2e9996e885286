package bridge

import (
	"encoding/json"
	"strings"

	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/pkg/codex"
)

// Source identifies which wire schema produced a notification. A turn's
// streaming buffer is claimed by the first source that writes to it.
type Source string

const (
	SourceModern Source = "modern"
	SourceLegacy Source = "legacy"
)

// Kind is the normalized classification of a notification.
type Kind string

const (
	KindDelta        Kind = "delta"
	KindPendingFinal Kind = "pending-final"
	KindTerminal     Kind = "terminal"
	KindReasoning    Kind = "reasoning"
	KindActivity     Kind = "activity"
)

// Outcome is the terminal reason of a turn.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeCancelled   Outcome = "cancelled"
)

// Notification is the canonical tuple extracted from either wire schema.
// Downstream turn logic never sees raw methods or payloads.
type Notification struct {
	Method   string
	Source   Source
	Kind     Kind
	TurnID   string
	Text     string
	Outcome  Outcome
	ErrMsg   string
	Activity *Activity
}

// classifyCtx carries the unwrapped notification through the rule table.
type classifyCtx struct {
	method    string // raw wire method
	eventType string // method for modern, msg.type for legacy
	source    Source
	payload   map[string]any
}

// rule pairs a predicate with a classifier. Rules are evaluated
// top-to-bottom; the first match wins. New wire methods are supported by
// adding rules or candidate fields, without touching turn logic.
type rule struct {
	match    func(c *classifyCtx) bool
	classify func(c *classifyCtx, n *Notification) bool
}

// Normalizer classifies raw notifications from either protocol generation
// into canonical Notifications.
type Normalizer struct {
	logger *logger.Logger
	rules  []rule
}

// NewNormalizer creates a Normalizer with the built-in rule table.
func NewNormalizer(log *logger.Logger) *Normalizer {
	n := &Normalizer{logger: log}
	n.rules = []rule{
		{matchEvent(codex.NotifyItemAgentMessageDelta), classifyModernDelta},
		{matchEvent(codex.LegacyAgentMessageDelta, codex.LegacyAgentMessageContentDelta), classifyLegacyDelta},
		{matchEvent(codex.NotifyItemCompleted), classifyModernItemCompleted},
		{matchEvent(codex.LegacyAgentMessage), classifyLegacyPendingFinal},
		{matchEvent(codex.NotifyTurnCompleted, codex.LegacyTaskComplete), classifyTerminalSuccess},
		{matchEvent(codex.NotifyTurnFailed, codex.LegacyTaskFailed, codex.LegacyTaskError), classifyTerminal(OutcomeFailed)},
		{matchEvent(codex.NotifyTurnInterrupted, codex.LegacyTaskInterrupted), classifyTerminal(OutcomeInterrupted)},
		{matchEvent(codex.NotifyTurnCancelled, codex.LegacyTaskCancelled), classifyTerminal(OutcomeCancelled)},
		{matchToken("reason", "thought"), classifyReasoning},
		{matchToken("command", "exec"), classifyActivity(ActivityCommand)},
		{matchToken("file", "patch", "diff"), classifyActivity(ActivityFile)},
		{matchToken("search", "web"), classifyActivity(ActivitySearch)},
		{matchToken("tool", "mcp", "plan"), classifyActivity(ActivityTool)},
	}
	return n
}

// Normalize classifies one notification. It returns false when the
// notification carries nothing the bridge consumes.
func (n *Normalizer) Normalize(method string, params json.RawMessage, activeTurnID string) (*Notification, bool) {
	c := &classifyCtx{method: method, eventType: method, source: SourceModern}

	if strings.HasPrefix(method, codex.LegacyEventPrefix) {
		c.source = SourceLegacy
		c.eventType = strings.TrimPrefix(method, codex.LegacyEventPrefix)

		var env codex.LegacyEnvelope
		if err := json.Unmarshal(params, &env); err == nil && env.Msg != nil {
			if env.Msg.Type != "" {
				c.eventType = env.Msg.Type
			}
			c.payload = decodeObject(env.Msg.Payload)
		}
	} else {
		c.payload = decodeObject(params)
	}

	out := &Notification{
		Method: method,
		Source: c.source,
		TurnID: extractTurnID(c.payload, activeTurnID),
	}

	for _, r := range n.rules {
		if r.match(c) {
			if r.classify(c, out) {
				return out, true
			}
			return nil, false
		}
	}
	return nil, false
}

func decodeObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// extractTurnID resolves the turn id across schema variants: explicit
// turnId, nested turn.id (modern), snake_case turn_id (legacy), then the
// bridge's active turn as last resort.
func extractTurnID(payload map[string]any, activeTurnID string) string {
	if payload != nil {
		if id := stringField(payload, "turnId"); id != "" {
			return id
		}
		if turn, ok := payload["turn"].(map[string]any); ok {
			if id := stringField(turn, "id"); id != "" {
				return id
			}
		}
		if id := stringField(payload, "turn_id"); id != "" {
			return id
		}
	}
	return activeTurnID
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

// firstString returns the first non-empty string among the named fields.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringField(m, k); v != "" {
			return v
		}
	}
	return ""
}

// normalizeToken lowercases a method/event name and strips separators so
// token matching is insensitive to camelCase vs snake_case vs slashes.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchEvent(types ...string) func(c *classifyCtx) bool {
	return func(c *classifyCtx) bool {
		for _, t := range types {
			if c.eventType == t {
				return true
			}
		}
		return false
	}
}

func matchToken(tokens ...string) func(c *classifyCtx) bool {
	return func(c *classifyCtx) bool {
		norm := normalizeToken(c.eventType)
		for _, t := range tokens {
			if strings.Contains(norm, t) {
				return true
			}
		}
		return false
	}
}

func classifyModernDelta(c *classifyCtx, n *Notification) bool {
	n.Kind = KindDelta
	n.Text = firstString(c.payload, "delta", "text")
	return n.Text != ""
}

func classifyLegacyDelta(c *classifyCtx, n *Notification) bool {
	n.Kind = KindDelta
	n.Text = firstString(c.payload, "delta", "text", "content")
	return n.Text != ""
}

// classifyModernItemCompleted handles item/completed, which fires for every
// item type. Assistant-authored messages become pending finals; command,
// file and tool items become activities; reasoning items become reasoning
// fragments; the rest is dropped.
func classifyModernItemCompleted(c *classifyCtx, n *Notification) bool {
	item, _ := c.payload["item"].(map[string]any)
	if item == nil {
		return false
	}
	itemType := stringField(item, "type")
	role := stringField(item, "role")

	switch {
	case itemType == "agentMessage" || role == "assistant":
		n.Kind = KindPendingFinal
		n.Text = firstString(item, "text", "content", "message")
		return n.Text != ""
	case itemType == "reasoning":
		n.Kind = KindReasoning
		n.Text = firstString(item, "text", "summary", "content")
		return n.Text != ""
	case itemType == "commandExecution":
		n.Kind = KindActivity
		n.Activity = &Activity{Kind: ActivityCommand, Method: c.method, Summary: activitySummary(item, c.method)}
		return true
	case itemType == "fileChange":
		n.Kind = KindActivity
		n.Activity = &Activity{Kind: ActivityFile, Method: c.method, Summary: activitySummary(item, c.method)}
		return true
	case itemType == "mcpToolCall":
		n.Kind = KindActivity
		n.Activity = &Activity{Kind: ActivityTool, Method: c.method, Summary: activitySummary(item, c.method)}
		return true
	}
	return false
}

func classifyLegacyPendingFinal(c *classifyCtx, n *Notification) bool {
	n.Kind = KindPendingFinal
	n.Text = firstString(c.payload, "message", "text", "content", "last_agent_message")
	return n.Text != ""
}

// classifyTerminalSuccess handles turn/completed and task_complete. The
// modern variant carries an explicit success flag; a false flag downgrades
// the outcome to failed.
func classifyTerminalSuccess(c *classifyCtx, n *Notification) bool {
	n.Kind = KindTerminal
	n.Outcome = OutcomeCompleted
	n.Text = firstString(c.payload, "last_agent_message", "lastAgentMessage")

	if success, ok := c.payload["success"].(bool); ok && !success {
		n.Outcome = OutcomeFailed
		n.ErrMsg = extractErrorMessage(c.payload)
	}
	return true
}

func classifyTerminal(outcome Outcome) func(c *classifyCtx, n *Notification) bool {
	return func(c *classifyCtx, n *Notification) bool {
		n.Kind = KindTerminal
		n.Outcome = outcome
		n.ErrMsg = extractErrorMessage(c.payload)
		return true
	}
}

// extractErrorMessage digs the failure text out of the payload, tolerating
// both a plain string error field and a nested {message} object.
func extractErrorMessage(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	switch v := payload["error"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case map[string]any:
		if s := firstString(v, "message", "type"); s != "" {
			return s
		}
	}
	return firstString(payload, "message", "reason")
}

func classifyReasoning(c *classifyCtx, n *Notification) bool {
	n.Kind = KindReasoning
	n.Text = firstString(c.payload, "delta", "text", "content", "summary", "message")
	return n.Text != ""
}

func classifyActivity(kind ActivityKind) func(c *classifyCtx, n *Notification) bool {
	return func(c *classifyCtx, n *Notification) bool {
		n.Kind = KindActivity
		n.Activity = &Activity{
			Kind:    kind,
			Method:  c.method,
			Summary: activitySummary(c.payload, c.method),
		}
		return true
	}
}

// activitySummary picks a human-readable label from the payload, falling
// back to the raw method name.
func activitySummary(payload map[string]any, method string) string {
	if s := firstString(payload,
		"summary", "command", "path", "filePath", "file_path",
		"query", "tool", "name", "message"); s != "" {
		return s
	}
	// Legacy exec events carry command as an argv array.
	if argv, ok := payload["command"].([]any); ok {
		parts := make([]string, 0, len(argv))
		for _, a := range argv {
			if s, ok := a.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return method
}
