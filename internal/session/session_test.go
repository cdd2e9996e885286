package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendUserDerivesTitle(t *testing.T) {
	s := NewSession("", "/work/project")

	s.AppendUser("Fix the login bug\nIt happens when the token expires.")
	assert.Equal(t, "Fix the login bug", s.Title)

	// Title is derived once; later prompts leave it alone.
	s.AppendUser("Another prompt")
	assert.Equal(t, "Fix the login bug", s.Title)
}

func TestDeriveTitleTruncation(t *testing.T) {
	long := strings.Repeat("word ", 30)
	s := NewSession("", "")
	s.AppendUser(long)

	runes := []rune(s.Title)
	assert.LessOrEqual(t, len(runes), titleRuneLimit)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestAppendAssistantAttemptOrdering(t *testing.T) {
	s := NewSession("", "")
	s.AppendUser("prompt")

	first := s.AppendAssistantAttempt("t1", "g1", "first answer", "")
	assert.Equal(t, 1, first.AttemptIndex)
	assert.True(t, first.IsActiveAttempt)

	second := s.AppendAssistantAttempt("t2", "g1", "second answer", "some reasoning")
	assert.Equal(t, 2, second.AttemptIndex)
	assert.True(t, second.IsActiveAttempt)

	// The earlier attempt in the group is deactivated in place.
	active := s.ActiveAttempt("g1")
	require.NotNil(t, active)
	assert.Equal(t, "second answer", active.Text)

	deactivated := 0
	for _, m := range s.History {
		if m.Role == RoleAssistant && !m.IsActiveAttempt {
			deactivated++
		}
	}
	assert.Equal(t, 1, deactivated)

	// A different group starts its own numbering.
	other := s.AppendAssistantAttempt("t3", "g2", "unrelated", "")
	assert.Equal(t, 1, other.AttemptIndex)
	assert.NotNil(t, s.ActiveAttempt("g1"), "other groups keep their active attempt")
}

func TestLastUserText(t *testing.T) {
	s := NewSession("", "")
	assert.Empty(t, s.LastUserText())

	s.AppendUser("first")
	s.AppendAssistantAttempt("t1", "g1", "answer", "")
	s.AppendUser("second")

	assert.Equal(t, "second", s.LastUserText())
}
