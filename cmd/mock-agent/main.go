// Package main implements a mock agent binary that speaks the Codex
// app-server protocol over stdin/stdout. It generates simulated turn
// streams, in both the modern item/turn schema and the legacy
// codex/event/* envelope, for rapid feature testing and e2e tests.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/juncture-dev/juncture/pkg/codex"
)

type agent struct {
	mu      sync.Mutex
	enc     *json.Encoder
	turnSeq atomic.Int64
	reqSeq  atomic.Int64

	// pending approvals keyed by request id, answered when the client
	// responds.
	approvals map[int64]chan string
}

func main() {
	a := &agent{
		enc:       json.NewEncoder(os.Stdout),
		approvals: map[int64]chan string{},
	}

	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg struct {
			ID     json.RawMessage `json:"id,omitempty"`
			Method string          `json:"method,omitempty"`
			Params json.RawMessage `json:"params,omitempty"`
			Result json.RawMessage `json:"result,omitempty"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		switch {
		case msg.Method != "" && len(msg.ID) > 0:
			a.handleRequest(msg.ID, msg.Method, msg.Params)
		case msg.Method != "":
			// Notifications (initialized) need no reply.
		case len(msg.ID) > 0:
			a.handleResponse(msg.ID, msg.Result)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: scanner error: %v\n", err)
		os.Exit(1)
	}
}

func (a *agent) handleRequest(id json.RawMessage, method string, params json.RawMessage) {
	switch method {
	case codex.MethodInitialize:
		a.respond(id, map[string]any{"userAgent": "mock-agent/1.0"}, nil)

	case codex.MethodThreadStart, codex.MethodThreadResume:
		var p codex.ThreadResumeParams
		_ = json.Unmarshal(params, &p)
		threadID := p.ThreadID
		if threadID == "" {
			threadID = fmt.Sprintf("thread-%d", os.Getpid())
		}
		a.respond(id, map[string]any{"thread": map[string]any{"id": threadID}}, nil)

	case codex.MethodTurnStart:
		var p codex.TurnStartParams
		_ = json.Unmarshal(params, &p)
		turnID := fmt.Sprintf("turn-%d", a.turnSeq.Add(1))
		a.respond(id, map[string]any{"turn": map[string]any{"id": turnID, "status": "inProgress"}}, nil)

		prompt := ""
		if len(p.Input) > 0 {
			prompt = p.Input[0].Text
		}
		go a.runScenario(turnID, prompt)

	case codex.MethodTurnInterrupt:
		var p codex.TurnInterruptParams
		_ = json.Unmarshal(params, &p)
		a.respond(id, map[string]any{}, nil)
		a.notify(codex.NotifyTurnInterrupted, map[string]any{"turnId": p.TurnID})

	case codex.MethodModelList:
		a.respond(id, map[string]any{"models": []map[string]any{
			{"id": "gpt-5-codex", "displayName": "GPT-5 Codex", "isDefault": true},
			{"id": "gpt-5", "displayName": "GPT-5"},
		}}, nil)

	default:
		a.respond(id, nil, &codex.Error{Code: codex.MethodNotFound, Message: "method not found: " + method})
	}
}

// handleResponse resolves a pending approval request.
func (a *agent) handleResponse(id json.RawMessage, result json.RawMessage) {
	var numericID int64
	if err := json.Unmarshal(id, &numericID); err != nil {
		return
	}

	a.mu.Lock()
	ch := a.approvals[numericID]
	delete(a.approvals, numericID)
	a.mu.Unlock()
	if ch == nil {
		return
	}

	var resp codex.ApprovalResponse
	_ = json.Unmarshal(result, &resp)
	ch <- resp.Decision
}

func (a *agent) respond(id json.RawMessage, result any, rpcErr *codex.Error) {
	msg := map[string]any{"id": id}
	if rpcErr != nil {
		msg["error"] = rpcErr
	} else {
		msg["result"] = result
	}
	a.write(msg)
}

func (a *agent) notify(method string, params any) {
	a.write(map[string]any{"method": method, "params": params})
}

// request sends a server-initiated request and waits for the client's
// decision.
func (a *agent) request(method string, params any) string {
	id := a.reqSeq.Add(1) + 100000
	ch := make(chan string, 1)
	a.mu.Lock()
	a.approvals[id] = ch
	a.mu.Unlock()

	a.write(map[string]any{"id": id, "method": method, "params": params})
	return <-ch
}

func (a *agent) write(msg map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(msg)
}
