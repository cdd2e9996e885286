package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/juncture-dev/juncture/internal/common/logger"
	"go.uber.org/zap"
)

// StateVersion is bumped whenever the on-disk layout changes incompatibly.
// A loaded file with a different version is treated as absent state.
const StateVersion = 3

// State is the versioned JSON document persisted to disk.
type State struct {
	Version         int               `json:"version"`
	ActiveSessionID string            `json:"activeSessionId,omitempty"`
	ActiveProfile   string            `json:"activeProfile,omitempty"`
	ProjectModels   map[string]string `json:"projectModels,omitempty"`
	Sessions        []*Session        `json:"sessions"`
}

// Store persists State snapshots to a single file. Writes are asynchronous
// and coalesced: only the most recent snapshot is flushed, and write errors
// are logged rather than returned, so persistence never blocks turn
// processing.
type Store struct {
	path   string
	logger *logger.Logger

	mu     sync.Mutex
	latest []byte

	// flushMu serializes snapshot takes with their writes so a racing
	// flush cannot land an older snapshot on top of a newer one.
	flushMu sync.Mutex

	kick    chan struct{}
	done    chan struct{}
	closing sync.Once
}

// NewStore creates a store writing to path and starts its flush goroutine.
func NewStore(path string, log *logger.Logger) *Store {
	s := &Store{
		path:   path,
		logger: log.WithFields(zap.String("component", "session-store")),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Load reads the persisted state. A missing, unreadable, or
// version-mismatched file yields an empty state, never an error.
func (s *Store) Load() *State {
	empty := &State{Version: StateVersion, ProjectModels: map[string]string{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read state file, starting fresh", zap.Error(err))
		}
		return empty
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("failed to parse state file, starting fresh", zap.Error(err))
		return empty
	}
	if st.Version != StateVersion {
		s.logger.Warn("state file version mismatch, starting fresh",
			zap.Int("found", st.Version),
			zap.Int("want", StateVersion))
		return empty
	}
	if st.ProjectModels == nil {
		st.ProjectModels = map[string]string{}
	}
	return &st
}

// Save schedules an asynchronous write of the given state. The snapshot is
// marshaled synchronously (so later mutations don't leak in) but flushed in
// the background; the last scheduled write wins.
func (s *Store) Save(st *State) {
	st.Version = StateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal state", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.latest = data
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Close flushes any pending snapshot and stops the flush goroutine.
func (s *Store) Close() {
	s.closing.Do(func() {
		close(s.done)
	})
	s.flush()
}

func (s *Store) flushLoop() {
	for {
		select {
		case <-s.kick:
			s.flush()
		case <-s.done:
			return
		}
	}
}

func (s *Store) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	data := s.latest
	s.latest = nil
	s.mu.Unlock()

	if data == nil {
		return
	}

	if err := s.writeFile(data); err != nil {
		s.logger.Error("failed to persist state", zap.Error(err))
	}
}

// writeFile writes atomically via a temp file and rename.
func (s *Store) writeFile(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
