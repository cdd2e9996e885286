package bridge

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// activityBurstWindow coalesces repeated activities of the same kind and
// method arriving in a tight burst into a single event.
const activityBurstWindow = 250 * time.Millisecond

// finalizedCap bounds the set of turn ids remembered as finalized. Oldest
// entries are evicted first; the agent never reuses ids across that span.
const finalizedCap = 500

// turnBuffer accumulates streamed state for one in-flight turn. It is
// created only after turn/start succeeds on the wire, so a failed start
// leaves no residue.
type turnBuffer struct {
	id             string
	sessionID      string
	attemptGroupID string

	// source is claimed by the first delta or pending final that arrives;
	// once claimed, events from the other schema generation are dropped.
	source Source

	draft        string
	pendingFinal string

	reasoning     []string
	reasoningSeen map[string]struct{}

	activitySeen map[string]struct{}
	activityLast map[string]time.Time

	cancelled bool

	// span covers the whole turn, from turn/start to the terminal outcome.
	span trace.Span
}

func newTurnBuffer(turnID, sessionID, attemptGroupID string) *turnBuffer {
	return &turnBuffer{
		id:             turnID,
		sessionID:      sessionID,
		attemptGroupID: attemptGroupID,
		reasoningSeen:  map[string]struct{}{},
		activitySeen:   map[string]struct{}{},
		activityLast:   map[string]time.Time{},
	}
}

// claim records which schema generation is streaming this turn. It returns
// false when the buffer is already owned by the other generation.
func (t *turnBuffer) claim(src Source) bool {
	if t.source == "" {
		t.source = src
	}
	return t.source == src
}

// applyDelta merges one streamed text chunk into the draft. Chunks from the
// unclaimed schema generation are ignored.
func (t *turnBuffer) applyDelta(src Source, chunk string) bool {
	if !t.claim(src) {
		return false
	}
	merged := mergeStreamText(t.draft, chunk)
	if merged == t.draft {
		return false
	}
	t.draft = merged
	return true
}

// applyPendingFinal snapshots a complete message candidate. The snapshot
// only grows: a shorter duplicate never shrinks an earlier, fuller one.
func (t *turnBuffer) applyPendingFinal(src Source, text string) bool {
	if !t.claim(src) {
		return false
	}
	if len(text) <= len(t.pendingFinal) {
		return false
	}
	t.pendingFinal = text
	return true
}

// applyReasoning appends a reasoning fragment unless an identical fragment
// from the same method was already seen.
func (t *turnBuffer) applyReasoning(method, text string) bool {
	key := method + "::" + text
	if _, dup := t.reasoningSeen[key]; dup {
		return false
	}
	t.reasoningSeen[key] = struct{}{}
	t.reasoning = append(t.reasoning, text)
	return true
}

// applyActivity dedupes exact repeats for the turn's lifetime and
// coalesces same-kind/same-method bursts inside activityBurstWindow.
func (t *turnBuffer) applyActivity(a *Activity, now time.Time) bool {
	exact := fmt.Sprintf("%s|%s|%s", a.Kind, a.Method, a.Summary)
	if _, dup := t.activitySeen[exact]; dup {
		return false
	}
	burst := fmt.Sprintf("%s|%s", a.Kind, a.Method)
	if last, ok := t.activityLast[burst]; ok && now.Sub(last) < activityBurstWindow {
		t.activityLast[burst] = now
		return false
	}
	t.activitySeen[exact] = struct{}{}
	t.activityLast[burst] = now
	return true
}

// finalText resolves the message to persist at finalization: explicit text
// on the terminal event wins, then the pending final snapshot, then the
// accumulated draft.
func (t *turnBuffer) finalText(terminal string) string {
	if terminal != "" {
		return terminal
	}
	if t.pendingFinal != "" {
		return t.pendingFinal
	}
	return t.draft
}

// reasoningText joins accumulated reasoning fragments for persistence.
func (t *turnBuffer) reasoningText() string {
	out := ""
	for i, r := range t.reasoning {
		if i > 0 {
			out += "\n\n"
		}
		out += r
	}
	return out
}

// finalizedSet is a bounded FIFO set of turn ids that have already been
// finalized. Membership makes late terminal duplicates no-ops.
type finalizedSet struct {
	ids   map[string]struct{}
	order []string
	cap   int
}

func newFinalizedSet(capacity int) *finalizedSet {
	return &finalizedSet{ids: map[string]struct{}{}, cap: capacity}
}

func (f *finalizedSet) contains(id string) bool {
	_, ok := f.ids[id]
	return ok
}

func (f *finalizedSet) add(id string) {
	if _, ok := f.ids[id]; ok {
		return
	}
	f.ids[id] = struct{}{}
	f.order = append(f.order, id)
	for len(f.order) > f.cap {
		evicted := f.order[0]
		f.order = f.order[1:]
		delete(f.ids, evicted)
	}
}
