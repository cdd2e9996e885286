package session

import (
	"fmt"
	"time"

	"sync"

	"github.com/juncture-dev/juncture/internal/common/logger"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when a session id does not resolve.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Manager holds the session collection, the active session pointer, and the
// project-to-model defaults. Every state-affecting operation schedules a
// coalesced persistence write through the Store.
type Manager struct {
	logger *logger.Logger
	store  *Store

	mu            sync.RWMutex
	sessions      []*Session
	activeID      string
	activeProfile string
	projectModels map[string]string
}

// NewManager creates a Manager backed by the given store, loading any prior
// persisted state.
func NewManager(store *Store, log *logger.Logger) *Manager {
	st := store.Load()
	m := &Manager{
		logger:        log.WithFields(zap.String("component", "session-manager")),
		store:         store,
		sessions:      st.Sessions,
		activeID:      st.ActiveSessionID,
		activeProfile: st.ActiveProfile,
		projectModels: st.ProjectModels,
	}

	// The persisted active pointer may reference a deleted session.
	if m.activeID != "" && m.findLocked(m.activeID) == nil {
		m.activeID = ""
	}
	return m
}

// persistLocked schedules a write of the current state. Callers must hold mu.
func (m *Manager) persistLocked() {
	m.store.Save(&State{
		ActiveSessionID: m.activeID,
		ActiveProfile:   m.activeProfile,
		ProjectModels:   m.projectModels,
		Sessions:        m.sessions,
	})
}

func (m *Manager) findLocked(id string) *Session {
	for _, s := range m.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// List returns the sessions in creation order. Archived sessions are
// included only when includeArchived is set.
func (m *Manager) List(includeArchived bool) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Archived && !includeArchived {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.findLocked(id); s != nil {
		return s, nil
	}
	return nil, ErrSessionNotFound
}

// Active returns the active session, or nil when none is selected.
func (m *Manager) Active() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID == "" {
		return nil
	}
	return m.findLocked(m.activeID)
}

// ActiveID returns the active session id ("" when none).
func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// Create adds a new session and makes it active.
func (m *Manager) Create(title, projectPath string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := NewSession(title, projectPath)
	m.sessions = append(m.sessions, s)
	m.activeID = s.ID
	m.persistLocked()

	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("project_path", projectPath))
	return s
}

// Select makes the given session active. Callers are responsible for
// checking that no turn is in flight first.
func (m *Manager) Select(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	m.activeID = id
	m.persistLocked()
	return s, nil
}

// Rename sets the session title.
func (m *Manager) Rename(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return ErrSessionNotFound
	}
	s.Title = title
	s.UpdatedAt = time.Now().UTC()
	m.persistLocked()
	return nil
}

// SetArchived flips the archived flag.
func (m *Manager) SetArchived(id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return ErrSessionNotFound
	}
	s.Archived = archived
	s.UpdatedAt = time.Now().UTC()
	m.persistLocked()
	return nil
}

// Delete removes a session. Deleting the active session clears the active
// pointer.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, s := range m.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSessionNotFound
	}

	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	if m.activeID == id {
		m.activeID = ""
	}
	m.persistLocked()

	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// ThreadID returns the remote thread handle of a session ("" when unset or
// the session is unknown).
func (m *Manager) ThreadID(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.findLocked(id); s != nil {
		return s.ThreadID
	}
	return ""
}

// LatestAssistantGroup returns the attempt-group id of a session's most
// recent assistant message, constrained to the given turn id when turnID is
// not empty. The result is "" when no assistant message matches.
func (m *Manager) LatestAssistantGroup(id, turnID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.findLocked(id)
	if s == nil {
		return "", ErrSessionNotFound
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		msg := &s.History[i]
		if msg.Role == RoleAssistant && (turnID == "" || msg.TurnID == turnID) {
			return msg.AttemptGroupID, nil
		}
	}
	return "", nil
}

// LastUserText returns the most recent user prompt of a session ("" when
// there is none or the session is unknown).
func (m *Manager) LastUserText(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.findLocked(id); s != nil {
		return s.LastUserText()
	}
	return ""
}

// SetThreadID records the remote thread handle for a session.
func (m *Manager) SetThreadID(id, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return ErrSessionNotFound
	}
	s.ThreadID = threadID
	m.persistLocked()
	return nil
}

// SetLastError records (or clears, with "") the session's last turn failure.
func (m *Manager) SetLastError(id, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return
	}
	s.LastError = msg
	m.persistLocked()
}

// AppendUser appends a user message to a session.
func (m *Manager) AppendUser(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return ErrSessionNotFound
	}
	s.AppendUser(text)
	m.persistLocked()
	return nil
}

// AppendAssistantAttempt commits a finalized assistant answer, handling the
// attempt-group bookkeeping, and returns the appended message.
func (m *Manager) AppendAssistantAttempt(id, turnID, attemptGroupID, text, reasoningText string) (*HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(id)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	msg := s.AppendAssistantAttempt(turnID, attemptGroupID, text, reasoningText)
	m.persistLocked()
	return msg, nil
}

// ProjectModel returns the remembered model for a project path ("" if none).
func (m *Manager) ProjectModel(projectPath string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectModels[projectPath]
}

// SetProjectModel remembers the model default for a project path.
func (m *Manager) SetProjectModel(projectPath, model string) {
	if projectPath == "" || model == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectModels[projectPath] = model
	m.persistLocked()
}

// ActiveProfile returns the persisted profile name.
func (m *Manager) ActiveProfile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeProfile
}

// SetActiveProfile persists the profile name.
func (m *Manager) SetActiveProfile(profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeProfile = profile
	m.persistLocked()
}

// Flush forces a synchronous persistence write. Used on shutdown.
func (m *Manager) Flush() {
	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
	m.store.Close()
}
