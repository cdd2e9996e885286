// Package bridge turns the raw JSON-RPC stdio channel to the agent
// subprocess into a stable session API: it normalizes both notification
// schema generations, absorbs duplicate and partial streaming delivery,
// guarantees at most one terminal outcome per turn, and survives agent
// crashes with automatic reconnect.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/internal/bridge/process"
	"github.com/juncture-dev/juncture/internal/common/config"
	"github.com/juncture-dev/juncture/internal/common/constants"
	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/internal/common/stringutil"
	"github.com/juncture-dev/juncture/internal/session"
	"github.com/juncture-dev/juncture/internal/tracing"
	"github.com/juncture-dev/juncture/pkg/codex"
)

const eventBufferSize = 256

// Bridge owns the agent subprocess, the RPC client on its stdio, and the
// per-turn streaming state. All methods are safe for concurrent use.
type Bridge struct {
	cfg      config.BridgeConfig
	agentCfg config.AgentConfig
	logger   *logger.Logger

	sessions *session.Manager
	proc     *process.Manager
	norm     *Normalizer

	status atomic.Value // Status

	mu            sync.RWMutex
	client        *codex.Client
	everConnected bool
	reconnecting  bool
	closing       bool
	turns         map[string]*turnBuffer
	activeTurnID  string
	turnStarting  bool
	finalized     *finalizedSet
	modelCache    []codex.Model

	subMu       sync.RWMutex
	subscribers map[int]chan Event
	nextSubID   int

	shutdownCh chan struct{}
}

// New wires a Bridge from configuration. The agent subprocess is not
// started until Connect.
func New(cfg *config.Config, sessions *session.Manager, log *logger.Logger) *Bridge {
	b := &Bridge{
		cfg:         cfg.Bridge,
		agentCfg:    cfg.Agent,
		logger:      log,
		sessions:    sessions,
		norm:        NewNormalizer(log),
		turns:       map[string]*turnBuffer{},
		finalized:   newFinalizedSet(finalizedCap),
		subscribers: map[int]chan Event{},
		shutdownCh:  make(chan struct{}),
	}
	b.status.Store(StatusDisconnected)

	b.proc = process.NewManager(process.Config{
		Command:           cfg.Agent.Command,
		WorkDir:           cfg.Agent.WorkDir,
		Env:               cfg.Agent.Env,
		StderrBufferLines: cfg.Agent.StderrBufferLines,
	}, log)
	b.proc.SetExitHandler(b.handleProcessExit)

	return b
}

// Status reports the current connection state.
func (b *Bridge) Status() Status {
	return b.status.Load().(Status)
}

func (b *Bridge) setStatus(s Status) {
	if b.status.Swap(s) == s {
		return
	}
	b.emit(Event{Type: EventStatus, Status: s})
}

// Connect starts the agent subprocess (if not already running) and
// performs the initialize handshake. It is safe to call again after a
// failed attempt or a disconnect.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return fmt.Errorf("bridge is shutting down")
	}
	if b.client != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.setStatus(StatusConnecting)

	if err := b.proc.Start(); err != nil {
		b.setStatus(StatusError)
		return fmt.Errorf("start agent: %w", err)
	}

	client := codex.NewClient(b.proc.Stdin(), b.proc.Stdout(), b.logger)
	client.SetNotificationHandler(b.handleNotification)
	client.SetRequestHandler(b.handleServerRequest)
	client.SetParseErrorHandler(func(line []byte, err error) {
		snippet := stringutil.TruncateString(string(line), 200)
		b.logger.WithError(err).Warn("dropping malformed agent message", zap.String("line", snippet))
	})
	client.Start(context.Background())

	initCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeoutDuration())
	defer cancel()

	resp, err := client.Call(initCtx, codex.MethodInitialize, &codex.InitializeParams{
		ClientInfo: &codex.ClientInfo{Name: "juncture", Version: "1.0.0"},
	})
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		b.abortHandshake(client)
		return fmt.Errorf("initialize handshake: %w", err)
	}
	if err := client.Notify(codex.MethodInitialized, nil); err != nil {
		b.abortHandshake(client)
		return fmt.Errorf("initialized notification: %w", err)
	}

	var info codex.InitializeResult
	if err := json.Unmarshal(resp.Result, &info); err == nil && info.UserAgent != "" {
		b.logger.Info("agent initialized", zap.String("userAgent", info.UserAgent))
	}

	b.mu.Lock()
	b.client = client
	b.everConnected = true
	b.mu.Unlock()

	b.setStatus(StatusConnected)
	return nil
}

// abortHandshake tears down a client whose initialize exchange failed. The
// subprocess is stopped as well: the client's read loop is parked in a Scan
// on the process stdout, and only closing that pipe gets it off the stream.
// A retried Connect then spawns a fresh process instead of layering a second
// reader over the same pipe.
func (b *Bridge) abortHandshake(client *codex.Client) {
	client.Stop()
	if err := b.proc.Stop(); err != nil {
		b.logger.WithError(err).Warn("stopping agent after failed handshake")
	}
	b.setStatus(StatusError)
}

// Disconnect stops the agent subprocess and releases the RPC client.
// In-flight turns are failed.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		client.Stop()
	}
	err := b.proc.Stop()
	b.failInFlightTurns("agent disconnected")
	b.setStatus(StatusDisconnected)
	return err
}

// Close shuts the bridge down for good: no reconnects are scheduled after
// this returns.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	b.mu.Unlock()

	close(b.shutdownCh)
	return b.Disconnect()
}

// SendPrompt appends the prompt to the session's history, opens (or
// resumes) the agent thread, and starts a turn. The prompt is persisted
// before anything touches the wire, so a failed send never loses input.
// Only one turn may be in flight at a time.
func (b *Bridge) SendPrompt(ctx context.Context, sessionID, text, modelOverride string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty prompt")
	}

	sess, err := b.resolveSession(sessionID)
	if err != nil {
		return "", err
	}

	if err := b.claimTurnSlot(); err != nil {
		return "", err
	}

	if err := b.sessions.AppendUser(sess.ID, text); err != nil {
		b.releaseTurnSlot()
		return "", err
	}
	b.emit(Event{Type: EventHistory, SessionID: sess.ID})

	turnID, err := b.startTurn(ctx, sess, text, modelOverride, "")
	if err != nil {
		b.releaseTurnSlot()
		return "", err
	}
	return turnID, nil
}

// Regenerate re-runs the prompt behind an earlier assistant turn. The new
// attempt joins the same attempt group, so the UI can present alternatives
// while exactly one stays active.
func (b *Bridge) Regenerate(ctx context.Context, sessionID, turnID string) (string, error) {
	// Unlike SendPrompt, regenerate never creates a session: there must be
	// history to regenerate from.
	var sess *session.Session
	if sessionID != "" {
		var err error
		if sess, err = b.sessions.Get(sessionID); err != nil {
			return "", err
		}
	} else if sess = b.sessions.Active(); sess == nil {
		return "", ErrNoActiveSession
	}

	if err := b.claimTurnSlot(); err != nil {
		return "", err
	}

	// History is read through the manager: the codex read loop appends
	// finalized attempts to the same slice under the manager's lock.
	groupID, err := b.sessions.LatestAssistantGroup(sess.ID, turnID)
	if err != nil {
		b.releaseTurnSlot()
		return "", err
	}
	if groupID == "" {
		b.releaseTurnSlot()
		return "", fmt.Errorf("no assistant turn to regenerate")
	}
	prompt := b.sessions.LastUserText(sess.ID)
	if prompt == "" {
		b.releaseTurnSlot()
		return "", fmt.Errorf("no prompt to regenerate from")
	}

	newTurnID, err := b.startTurn(ctx, sess, prompt, "", groupID)
	if err != nil {
		b.releaseTurnSlot()
		return "", err
	}
	return newTurnID, nil
}

// resolveSession returns the addressed session, the active one, or a
// freshly created session when none exists yet.
func (b *Bridge) resolveSession(sessionID string) (*session.Session, error) {
	if sessionID != "" {
		return b.sessions.Get(sessionID)
	}
	if sess := b.sessions.Active(); sess != nil {
		return sess, nil
	}
	sess := b.sessions.Create("", b.agentCfg.WorkDir)
	b.emit(Event{Type: EventHistory, SessionID: sess.ID})
	return sess, nil
}

// Busy reports whether a turn is in flight or mid-start.
func (b *Bridge) Busy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.activeTurnID != "" || b.turnStarting
}

// claimTurnSlot reserves the single active-turn slot. The reservation and
// the busy check share one critical section: two concurrent prompts can
// never both pass, even though the turn/start round trip that follows takes
// real wall time. A successful startTurn converts the claim into the active
// turn; on any error after a claim the caller must releaseTurnSlot.
func (b *Bridge) claimTurnSlot() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeTurnID != "" || b.turnStarting {
		return ErrTurnInProgress
	}
	b.turnStarting = true
	return nil
}

func (b *Bridge) releaseTurnSlot() {
	b.mu.Lock()
	b.turnStarting = false
	b.mu.Unlock()
}

// startTurn opens the thread and issues turn/start. Callers hold the turn
// slot from claimTurnSlot; success converts it into the active turn, while
// errors leave release to the caller. The turn buffer is created only after
// the RPC succeeds, so a failed start leaves no streaming state behind.
func (b *Bridge) startTurn(ctx context.Context, sess *session.Session, prompt, modelOverride, attemptGroupID string) (string, error) {
	if b.currentClient() == nil {
		return "", ErrNotConnected
	}

	model := b.resolveModel(ctx, sess.ProjectPath, modelOverride)

	prevThreadID := b.sessions.ThreadID(sess.ID)
	threadID, model, err := b.openThread(ctx, prevThreadID, sess.ProjectPath, model)
	if err != nil {
		b.sessions.SetLastError(sess.ID, err.Error())
		return "", fmt.Errorf("open thread: %w", err)
	}
	if threadID != prevThreadID {
		if err := b.sessions.SetThreadID(sess.ID, threadID); err != nil {
			return "", err
		}
	}

	raw, err := b.requestWithRetry(ctx, codex.MethodTurnStart, &codex.TurnStartParams{
		ThreadID: threadID,
		Model:    model,
		Input:    []codex.UserInput{{Type: "text", Text: prompt}},
	})
	if err != nil {
		b.sessions.SetLastError(sess.ID, err.Error())
		return "", fmt.Errorf("start turn: %w", err)
	}

	var result codex.TurnStartResult
	turnID := ""
	if err := json.Unmarshal(raw, &result); err == nil && result.Turn != nil {
		turnID = result.Turn.ID
	}
	if turnID == "" {
		turnID = uuid.New().String()
	}
	if attemptGroupID == "" {
		attemptGroupID = uuid.New().String()
	}

	buf := newTurnBuffer(turnID, sess.ID, attemptGroupID)
	// The turn outlives the triggering request, so its span is rooted in a
	// fresh context and closed by finalizeTurn.
	_, buf.span = tracing.TraceTurn(context.Background(), sess.ID, turnID, model)

	b.mu.Lock()
	b.turns[turnID] = buf
	b.activeTurnID = turnID
	b.turnStarting = false
	b.mu.Unlock()

	b.logger.WithSessionID(sess.ID).WithTurnID(turnID).
		Info("turn started", zap.String("model", model))
	b.emit(Event{Type: EventTurnStart, SessionID: sess.ID, TurnID: turnID})
	return turnID, nil
}

// CancelTurn interrupts the in-flight turn. The cancellation is recorded
// locally first: even if the agent races a turn/completed past the
// interrupt, the turn finalizes as cancelled.
func (b *Bridge) CancelTurn(ctx context.Context) error {
	b.mu.Lock()
	turnID := b.activeTurnID
	if turnID == "" {
		b.mu.Unlock()
		return fmt.Errorf("no turn in flight")
	}
	var sessionID string
	if buf := b.turns[turnID]; buf != nil {
		buf.cancelled = true
		sessionID = buf.sessionID
	}
	b.mu.Unlock()

	threadID := b.sessions.ThreadID(sessionID)

	interruptCtx, cancel := context.WithTimeout(ctx, constants.InterruptAckTimeout)
	defer cancel()
	_, err := b.requestWithRetry(interruptCtx, codex.MethodTurnInterrupt, &codex.TurnInterruptParams{
		ThreadID: threadID,
		TurnID:   turnID,
	})
	if err != nil {
		// The local mark already decides the outcome; the wire failure is
		// informational.
		b.logger.WithTurnID(turnID).WithError(err).Warn("turn/interrupt failed")
	}
	return nil
}

// handleNotification normalizes one agent notification and routes it into
// the owning turn buffer.
func (b *Bridge) handleNotification(method string, params json.RawMessage) {
	if method == codex.NotifyError {
		var ep codex.ErrorParams
		_ = json.Unmarshal(params, &ep)
		b.logger.Error("agent reported error", zap.String("message", ep.Message))
		b.emit(Event{Type: EventError, Error: ep.Message})
		return
	}

	b.mu.RLock()
	active := b.activeTurnID
	b.mu.RUnlock()

	n, ok := b.norm.Normalize(method, params, active)
	if !ok {
		return
	}
	if n.TurnID == "" {
		b.logger.Debug("dropping notification without a turn", zap.String("method", method))
		return
	}

	if n.Kind == KindTerminal {
		b.finalizeTurn(n.TurnID, n.Outcome, n.Text, n.ErrMsg)
		return
	}

	b.mu.Lock()
	buf := b.turns[n.TurnID]
	if buf == nil {
		b.mu.Unlock()
		return
	}
	sessionID := buf.sessionID

	var ev *Event
	switch n.Kind {
	case KindDelta:
		if buf.applyDelta(n.Source, n.Text) {
			ev = &Event{Type: EventAssistantDelta, SessionID: sessionID, TurnID: n.TurnID, Text: buf.draft}
		}
	case KindPendingFinal:
		if buf.applyPendingFinal(n.Source, n.Text) {
			ev = &Event{Type: EventAssistantDelta, SessionID: sessionID, TurnID: n.TurnID, Text: buf.pendingFinal}
		}
	case KindReasoning:
		if buf.applyReasoning(n.Method, n.Text) {
			ev = &Event{Type: EventAssistantReasoning, SessionID: sessionID, TurnID: n.TurnID, Text: n.Text}
		}
	case KindActivity:
		if buf.applyActivity(n.Activity, time.Now()) {
			ev = &Event{Type: EventAssistantActivity, SessionID: sessionID, TurnID: n.TurnID, Activity: n.Activity}
		}
	}
	b.mu.Unlock()

	if ev != nil {
		b.emit(*ev)
	}
}

// finalizeTurn applies exactly one terminal outcome to a turn. Duplicate
// terminals for an already finalized id are dropped, and a local
// cancellation beats a racing completed.
func (b *Bridge) finalizeTurn(turnID string, outcome Outcome, terminalText, errMsg string) {
	b.mu.Lock()
	if b.finalized.contains(turnID) {
		b.mu.Unlock()
		// First terminal wins; a later one with a different outcome is an
		// upstream ordering ambiguity worth surfacing.
		b.logger.WithTurnID(turnID).Warn("dropping duplicate terminal event",
			zap.String("late_outcome", string(outcome)))
		return
	}
	buf := b.turns[turnID]
	if buf == nil {
		// Terminal for a turn this bridge never started. Remember it so a
		// duplicate does not resurface, but there is nothing to persist.
		b.finalized.add(turnID)
		b.mu.Unlock()
		return
	}

	// Finalized is marked before any side effect so a crash mid-finalize
	// can never double-apply.
	b.finalized.add(turnID)
	delete(b.turns, turnID)
	if b.activeTurnID == turnID {
		b.activeTurnID = ""
	}

	if buf.cancelled && outcome == OutcomeCompleted {
		b.logger.WithTurnID(turnID).Info("local cancel beats completed terminal")
		outcome = OutcomeCancelled
	}

	text := buf.finalText(terminalText)
	reasoning := buf.reasoningText()
	sessionID := buf.sessionID
	attemptGroupID := buf.attemptGroupID
	b.mu.Unlock()

	if buf.span != nil {
		buf.span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome == OutcomeFailed {
			buf.span.SetStatus(codes.Error, errMsg)
		}
		buf.span.End()
	}

	var msg *session.HistoryMessage
	if text != "" {
		var err error
		msg, err = b.sessions.AppendAssistantAttempt(sessionID, turnID, attemptGroupID, text, reasoning)
		if err != nil {
			b.logger.WithTurnID(turnID).WithError(err).Error("persist assistant message failed")
		}
	}
	if msg != nil {
		// The resolved full text, distinct from the terminal outcome that
		// follows: consumers replace their streamed draft with this.
		b.emit(Event{Type: EventAssistantFinal, SessionID: sessionID, TurnID: turnID, Text: text, Message: msg})
	}

	switch outcome {
	case OutcomeCompleted:
		b.sessions.SetLastError(sessionID, "")
		b.emit(Event{Type: EventTurnComplete, SessionID: sessionID, TurnID: turnID, Outcome: string(outcome), Message: msg})
	case OutcomeCancelled, OutcomeInterrupted:
		b.emit(Event{Type: EventTurnCancelled, SessionID: sessionID, TurnID: turnID, Outcome: string(outcome), Message: msg})
	case OutcomeFailed:
		if errMsg == "" {
			errMsg = "turn failed"
		}
		b.sessions.SetLastError(sessionID, errMsg)
		b.emit(Event{Type: EventError, SessionID: sessionID, TurnID: turnID, Outcome: string(outcome), Error: errMsg, Message: msg})
	}

	b.logger.WithSessionID(sessionID).WithTurnID(turnID).
		Info("turn finalized", zap.String("outcome", string(outcome)))
}

// handleServerRequest answers requests the agent initiates: command and
// file-change approvals, in both the modern methods and the legacy
// exec_approval_request form. Unknown methods get a method-not-found error
// so the agent does not hang on a missing response.
func (b *Bridge) handleServerRequest(id interface{}, method string, params json.RawMessage) {
	client := b.currentClient()
	if client == nil {
		return
	}

	switch method {
	case codex.RequestCmdExecApproval, codex.RequestFileChangeApproval, codex.LegacyExecApprovalRequest:
		decision := "decline"
		if b.agentCfg.AutoApprove {
			decision = "accept"
		}

		kind := ActivityCommand
		if method == codex.RequestFileChangeApproval {
			kind = ActivityFile
		}
		payload := decodeObject(params)
		b.mu.RLock()
		turnID := extractTurnID(payload, b.activeTurnID)
		var sessionID string
		if buf := b.turns[turnID]; buf != nil {
			sessionID = buf.sessionID
		}
		b.mu.RUnlock()

		b.logger.WithTurnID(turnID).Info("answering approval request",
			zap.String("method", method), zap.String("decision", decision))
		b.emit(Event{
			Type: EventAssistantActivity, SessionID: sessionID, TurnID: turnID,
			Activity: &Activity{Kind: kind, Method: method, Summary: "approval: " + decision},
		})

		if err := client.SendResponse(id, &codex.ApprovalResponse{Decision: decision}, nil); err != nil {
			b.logger.WithError(err).Warn("approval response failed")
		}
	default:
		b.logger.Warn("unhandled agent request", zap.String("method", method))
		if err := client.SendResponse(id, nil, &codex.Error{Code: codex.MethodNotFound, Message: "method not found"}); err != nil {
			b.logger.WithError(err).Warn("error response failed")
		}
	}
}

// handleProcessExit runs when the agent subprocess dies without Stop being
// called. In-flight turns fail with stderr context, transient state is
// cleared, and a reconnect is scheduled if the agent had ever connected.
func (b *Bridge) handleProcessExit(exitErr error) {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client != nil {
		client.Stop()
	}

	reason := "agent exited unexpectedly"
	if exitErr != nil {
		reason = exitErr.Error()
	}
	if stderr := b.proc.RecentStderr(); len(stderr) > 0 {
		tail := stderr
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		reason = reason + ": " + strings.Join(tail, " | ")
	}

	b.logger.Error("agent process exited", zap.String("reason", reason))
	b.failInFlightTurns(reason)
	b.setStatus(StatusError)
	b.scheduleReconnect()
}

// failInFlightTurns finalizes every live turn buffer as failed with the
// given reason.
func (b *Bridge) failInFlightTurns(reason string) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.turns))
	for id := range b.turns {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.finalizeTurn(id, OutcomeFailed, "", reason)
	}
}

// Subscribe registers an event channel. The returned cancel func must be
// called to release it. Slow consumers lose events rather than blocking
// the bridge.
func (b *Bridge) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBufferSize)
	b.subMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.subMu.Unlock()

	cancel := func() {
		b.subMu.Lock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.subMu.Unlock()
	}
	return ch, cancel
}

func (b *Bridge) emit(ev Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
