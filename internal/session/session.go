// Package session owns the conversation sessions: the ordered history of
// each session, the active-session pointer, project model defaults, and
// durable serialization to disk.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/juncture-dev/juncture/internal/common/stringutil"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// HistoryMessage is an immutable record once appended to a session history.
// Assistant messages additionally carry turn/attempt identity so regenerated
// answers can be grouped and toggled.
type HistoryMessage struct {
	Role          Role      `json:"role"`
	Text          string    `json:"text"`
	ReasoningText string    `json:"reasoningText,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`

	// Assistant-only fields.
	TurnID          string `json:"turnId,omitempty"`
	AttemptGroupID  string `json:"attemptGroupId,omitempty"`
	AttemptIndex    int    `json:"attemptIndex,omitempty"`
	IsActiveAttempt bool   `json:"isActiveAttempt,omitempty"`
}

// Session is a named, ordered history plus the remote thread handle.
type Session struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	ProjectPath string           `json:"projectPath,omitempty"`
	ThreadID    string           `json:"threadId,omitempty"`
	Archived    bool             `json:"archived"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	History     []HistoryMessage `json:"history"`

	// LastError reflects the most recent turn failure, cleared on success.
	LastError string `json:"lastError,omitempty"`
}

// NewSession creates an empty session for the given project path.
func NewSession(title, projectPath string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.New().String(),
		Title:       title,
		ProjectPath: projectPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendUser appends a user message and derives a title from the first
// prompt when the session is still untitled.
func (s *Session) AppendUser(text string) {
	s.History = append(s.History, HistoryMessage{
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if s.Title == "" {
		s.Title = deriveTitle(text)
	}
	s.UpdatedAt = time.Now().UTC()
}

// AppendSystem appends a system message.
func (s *Session) AppendSystem(text string) {
	s.History = append(s.History, HistoryMessage{
		Role:      RoleSystem,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// AppendAssistantAttempt appends an assistant message for the given attempt
// group. Prior attempts in the group are deactivated and the new message
// gets the next 1-based attempt index.
func (s *Session) AppendAssistantAttempt(turnID, attemptGroupID, text, reasoningText string) *HistoryMessage {
	maxIndex := 0
	for i := range s.History {
		m := &s.History[i]
		if m.Role == RoleAssistant && m.AttemptGroupID == attemptGroupID {
			m.IsActiveAttempt = false
			if m.AttemptIndex > maxIndex {
				maxIndex = m.AttemptIndex
			}
		}
	}

	s.History = append(s.History, HistoryMessage{
		Role:            RoleAssistant,
		Text:            text,
		ReasoningText:   reasoningText,
		CreatedAt:       time.Now().UTC(),
		TurnID:          turnID,
		AttemptGroupID:  attemptGroupID,
		AttemptIndex:    maxIndex + 1,
		IsActiveAttempt: true,
	})
	s.UpdatedAt = time.Now().UTC()
	return &s.History[len(s.History)-1]
}

// ActiveAttempt returns the active assistant message of an attempt group,
// or nil when the group is unknown.
func (s *Session) ActiveAttempt(attemptGroupID string) *HistoryMessage {
	for i := range s.History {
		m := &s.History[i]
		if m.Role == RoleAssistant && m.AttemptGroupID == attemptGroupID && m.IsActiveAttempt {
			return m
		}
	}
	return nil
}

// LastUserText returns the text of the most recent user message, or "".
func (s *Session) LastUserText() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleUser {
			return s.History[i].Text
		}
	}
	return ""
}

const titleRuneLimit = 60

// deriveTitle truncates the first prompt line to a displayable title.
func deriveTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	return stringutil.TruncateRunes(line, titleRuneLimit)
}
