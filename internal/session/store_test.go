package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juncture-dev/juncture/internal/common/logger"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "sessions.json")
	s := NewStore(path, logger.Default())
	t.Cleanup(s.Close)
	return s, path
}

func TestStoreRoundTrip(t *testing.T) {
	s, path := newTestStore(t)

	sess := NewSession("my session", "/work")
	sess.AppendUser("hello")
	sess.AppendAssistantAttempt("t1", "g1", "hi there", "")

	s.Save(&State{
		ActiveSessionID: sess.ID,
		ProjectModels:   map[string]string{"/work": "gpt-5"},
		Sessions:        []*Session{sess},
	})
	s.Close()

	loaded := NewStore(path, logger.Default()).Load()
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, sess.ID, loaded.ActiveSessionID)
	assert.Equal(t, "gpt-5", loaded.ProjectModels["/work"])

	got := loaded.Sessions[0]
	assert.Equal(t, "my session", got.Title)
	require.Len(t, got.History, 2)
	assert.Equal(t, RoleUser, got.History[0].Role)
	assert.Equal(t, RoleAssistant, got.History[1].Role)
	assert.Equal(t, 1, got.History[1].AttemptIndex)
	assert.True(t, got.History[1].IsActiveAttempt)
}

func TestStoreLoadMissingFile(t *testing.T) {
	s, _ := newTestStore(t)

	st := s.Load()
	require.NotNil(t, st)
	assert.Equal(t, StateVersion, st.Version)
	assert.Empty(t, st.Sessions)
	assert.NotNil(t, st.ProjectModels)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	s, path := newTestStore(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	st := s.Load()
	require.NotNil(t, st)
	assert.Empty(t, st.Sessions, "corrupt state starts fresh")
}

func TestStoreLoadVersionMismatch(t *testing.T) {
	s, path := newTestStore(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"sessions":[{"id":"old"}]}`), 0644))

	st := s.Load()
	assert.Empty(t, st.Sessions, "old versions are not migrated")
}

func TestStoreCoalescesWrites(t *testing.T) {
	s, path := newTestStore(t)

	// Burst of saves; the last snapshot must win.
	for i := 0; i < 50; i++ {
		sess := NewSession("iteration", "")
		s.Save(&State{Sessions: []*Session{sess}, ActiveSessionID: sess.ID})
	}
	final := NewSession("final", "")
	s.Save(&State{Sessions: []*Session{final}, ActiveSessionID: final.ID})
	s.Close()

	loaded := NewStore(path, logger.Default()).Load()
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, "final", loaded.Sessions[0].Title)
	assert.Equal(t, final.ID, loaded.ActiveSessionID)
}
