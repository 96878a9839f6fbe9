package retrieval

import (
	"sync"

	"github.com/google/uuid"
)

// Sessions tracks the per-session active tool set with a monotonic
// expansion guarantee: once a tool has been shown to a session it is
// never hidden again for that session's lifetime, so the client can
// keep calling tools it has already seen.
type Sessions struct {
	anchors []string

	mu     sync.Mutex
	active map[string]map[string]struct{}
}

// NewSessions constructs session state seeded with anchor tools that
// every session starts with.
func NewSessions(anchors []string) *Sessions {
	return &Sessions{
		anchors: append([]string(nil), anchors...),
		active:  make(map[string]map[string]struct{}),
	}
}

// GetOrCreate returns the active tool set for sessionID, creating it
// with the anchor tools on first sight. An empty sessionID gets a
// fresh random one.
func (s *Sessions) GetOrCreate(sessionID string) (string, map[string]struct{}) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.active[sessionID]
	if !ok {
		set = make(map[string]struct{}, len(s.anchors))
		for _, anchor := range s.anchors {
			set[anchor] = struct{}{}
		}
		s.active[sessionID] = set
	}
	return sessionID, cloneSet(set)
}

// Add expands the session's active set and returns the names that were
// actually new. Unknown sessions are ignored.
func (s *Sessions) Add(sessionID string, names []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.active[sessionID]
	if !ok {
		return nil
	}
	var added []string
	for _, name := range names {
		if _, present := set[name]; !present {
			set[name] = struct{}{}
			added = append(added, name)
		}
	}
	return added
}

// Drop removes the session's state.
func (s *Sessions) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
