package core

import "github.com/dkeye/rtcsignal/internal/domain"

// SessionStore is the registry of signaling sessions keyed by (SessionID, Role).
// Returned sessions are copies; mutation goes through Transition or Update.
type SessionStore interface {
	// Create fails with domain.ErrDuplicateSession while a non-terminal
	// session with the same key exists. Terminal tombstones are replaced.
	Create(key domain.SessionKey) (domain.Session, error)
	// GetOrCreate creates the session when no entry exists. created reports
	// which happened; a tombstone is returned unchanged.
	GetOrCreate(key domain.SessionKey) (sess domain.Session, created bool, err error)
	// Get fails with domain.ErrNotFound.
	Get(key domain.SessionKey) (domain.Session, error)
	// Transition fails with domain.ErrInvalidTransition and leaves state untouched.
	Transition(key domain.SessionKey, to domain.State) error
	// Update runs fn under the session's own lock. If fn errors nothing is kept.
	Update(key domain.SessionKey, fn func(*domain.Session) error) (domain.Session, error)
	Remove(key domain.SessionKey)
	// RemoveIf removes the session only if keep reports false for its current value.
	RemoveIf(key domain.SessionKey, keep func(domain.Session) bool) bool
	List() []domain.Session
	Len() int
}
