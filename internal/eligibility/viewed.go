package eligibility

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// ViewedSet tracks which donors' social profiles were opened, per session.
// It lives with the caller's session and is never persisted.
type ViewedSet struct {
	mu   sync.RWMutex
	seen map[viewKey]struct{}
}

type viewKey struct {
	session string
	donor   uuid.UUID
}

// NewViewedSet creates an empty set.
func NewViewedSet() *ViewedSet {
	return &ViewedSet{seen: make(map[viewKey]struct{})}
}

// MarkViewed records that session opened donor's social profile.
func (v *ViewedSet) MarkViewed(session string, donor uuid.UUID) {
	v.mu.Lock()
	v.seen[viewKey{session, donor}] = struct{}{}
	v.mu.Unlock()
}

// HasViewed reports whether session opened donor's social profile.
func (v *ViewedSet) HasViewed(session string, donor uuid.UUID) bool {
	v.mu.RLock()
	_, ok := v.seen[viewKey{session, donor}]
	v.mu.RUnlock()
	return ok
}
