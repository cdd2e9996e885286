package main

import (
	"strings"
	"time"

	"github.com/juncture-dev/juncture/pkg/codex"
)

// Scenarios are selected by prompt prefix so tests can drive specific wire
// behaviors deterministically.

const streamDelay = 20 * time.Millisecond

func (a *agent) runScenario(turnID, prompt string) {
	switch {
	case strings.HasPrefix(prompt, "legacy:"):
		a.scenarioLegacy(turnID, strings.TrimPrefix(prompt, "legacy:"))
	case strings.HasPrefix(prompt, "dup:"):
		a.scenarioDuplicateTerminal(turnID, strings.TrimPrefix(prompt, "dup:"))
	case strings.HasPrefix(prompt, "fail:"):
		a.scenarioFailure(turnID, strings.TrimPrefix(prompt, "fail:"))
	case strings.HasPrefix(prompt, "approve:"):
		a.scenarioApproval(turnID, strings.TrimPrefix(prompt, "approve:"))
	case strings.HasPrefix(prompt, "slow:"):
		a.scenarioModern(turnID, strings.TrimPrefix(prompt, "slow:"), 500*time.Millisecond)
	default:
		a.scenarioModern(turnID, prompt, streamDelay)
	}
}

// scenarioModern streams a reply through the modern item/turn schema:
// deltas, a reasoning item, a completed agentMessage item, then
// turn/completed.
func (a *agent) scenarioModern(turnID, prompt string, delay time.Duration) {
	reply := "You said: " + strings.TrimSpace(prompt)

	a.notify(codex.NotifyItemCompleted, map[string]any{
		"turnId": turnID,
		"item":   map[string]any{"type": "reasoning", "text": "Considering the request."},
	})

	for _, chunk := range chunked(reply, 2) {
		a.notify(codex.NotifyItemAgentMessageDelta, map[string]any{
			"turnId": turnID,
			"delta":  chunk,
		})
		time.Sleep(delay)
	}

	a.notify(codex.NotifyItemCompleted, map[string]any{
		"turnId": turnID,
		"item":   map[string]any{"type": "agentMessage", "role": "assistant", "text": reply},
	})
	a.notify(codex.NotifyTurnCompleted, map[string]any{
		"turn": map[string]any{"id": turnID, "status": "completed"},
	})
}

// scenarioLegacy streams the same conversation through codex/event/*
// envelopes, including a duplicated delta to exercise client-side merge.
func (a *agent) scenarioLegacy(turnID, prompt string) {
	reply := "Echo: " + strings.TrimSpace(prompt)

	chunks := chunked(reply, 2)
	for i, chunk := range chunks {
		a.legacyEvent(codex.LegacyAgentMessageDelta, map[string]any{
			"turn_id": turnID,
			"delta":   chunk,
		})
		// Re-deliver the first chunk once, as flaky transports do.
		if i == 0 {
			a.legacyEvent(codex.LegacyAgentMessageDelta, map[string]any{
				"turn_id": turnID,
				"delta":   chunk,
			})
		}
		time.Sleep(streamDelay)
	}

	a.legacyEvent(codex.LegacyAgentMessage, map[string]any{
		"turn_id": turnID,
		"message": reply,
	})
	a.legacyEvent(codex.LegacyTaskComplete, map[string]any{
		"turn_id":            turnID,
		"last_agent_message": reply,
	})
}

// scenarioDuplicateTerminal completes a turn and then repeats the terminal
// event through both schemas.
func (a *agent) scenarioDuplicateTerminal(turnID, prompt string) {
	a.scenarioModern(turnID, prompt, streamDelay)
	a.notify(codex.NotifyTurnCompleted, map[string]any{
		"turn": map[string]any{"id": turnID, "status": "completed"},
	})
	a.legacyEvent(codex.LegacyTaskComplete, map[string]any{"turn_id": turnID})
}

func (a *agent) scenarioFailure(turnID, prompt string) {
	a.notify(codex.NotifyItemAgentMessageDelta, map[string]any{
		"turnId": turnID,
		"delta":  "Starting on it",
	})
	time.Sleep(streamDelay)
	a.notify(codex.NotifyTurnFailed, map[string]any{
		"turnId": turnID,
		"error":  map[string]any{"message": "simulated failure: " + strings.TrimSpace(prompt)},
	})
}

// scenarioApproval asks for command approval before answering. A declined
// approval fails the turn.
func (a *agent) scenarioApproval(turnID, prompt string) {
	decision := a.request(codex.RequestCmdExecApproval, map[string]any{
		"turnId":  turnID,
		"command": strings.TrimSpace(prompt),
	})
	if decision != "accept" {
		a.notify(codex.NotifyTurnFailed, map[string]any{
			"turnId": turnID,
			"error":  map[string]any{"message": "command declined"},
		})
		return
	}

	a.notify(codex.NotifyItemCompleted, map[string]any{
		"turnId": turnID,
		"item":   map[string]any{"type": "commandExecution", "command": strings.TrimSpace(prompt), "status": "completed"},
	})
	a.scenarioModern(turnID, "ran "+prompt, streamDelay)
}

func (a *agent) legacyEvent(eventType string, payload map[string]any) {
	a.notify(codex.LegacyEventPrefix+eventType, map[string]any{
		"msg": map[string]any{"type": eventType, "payload": payload},
	})
}

// chunked splits a reply into delta-sized pieces on word boundaries, the
// way real token streams arrive.
func chunked(s string, words int) []string {
	parts := strings.SplitAfter(s, " ")
	var out []string
	for len(parts) > words {
		out = append(out, strings.Join(parts[:words], ""))
		parts = parts[words:]
	}
	if rest := strings.Join(parts, ""); rest != "" {
		out = append(out, rest)
	}
	return out
}
