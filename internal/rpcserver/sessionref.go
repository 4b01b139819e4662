package rpcserver

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// SessionRefCapacity bounds the override map; inserts beyond it prune
	// the least recently used entry.
	SessionRefCapacity = 4096

	// SessionRefTTL expires overrides that haven't been touched in 12h.
	SessionRefTTL = 12 * time.Hour
)

// SessionRefs is the process-global per-session ref override map: keyed by
// (scope, project, workspace), TTL 12h, capacity 4096 with LRU pruning on
// insert. Overrides are intentionally not persisted across restarts.
type SessionRefs struct {
	cache *expirable.LRU[string, string]
}

func NewSessionRefs() *SessionRefs {
	return &SessionRefs{cache: expirable.NewLRU[string, string](SessionRefCapacity, nil, SessionRefTTL)}
}

func sessionKey(scope, projectID, workspace string) string {
	return scope + "\x00" + projectID + "\x00" + workspace
}

func (s *SessionRefs) Set(scope, projectID, workspace, ref string) {
	s.cache.Add(sessionKey(scope, projectID, workspace), ref)
}

func (s *SessionRefs) Get(scope, projectID, workspace string) (string, bool) {
	return s.cache.Get(sessionKey(scope, projectID, workspace))
}

func (s *SessionRefs) Clear(scope, projectID, workspace string) {
	s.cache.Remove(sessionKey(scope, projectID, workspace))
}

func (s *SessionRefs) Len() int { return s.cache.Len() }
