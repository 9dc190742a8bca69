package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	mu      sync.Mutex
	session domain.Session
}

// Store is the in-memory core.SessionStore. The map lock is only held for
// lookup, insert and delete; every session is serialized by its own entry
// lock so distinct sessions never block each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[domain.SessionKey]*sessionEntry
	now      func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[domain.SessionKey]*sessionEntry),
		now:      now,
	}
}

func (s *Store) Create(key domain.SessionKey) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[key]; ok {
		e.mu.Lock()
		st := e.session.State
		e.mu.Unlock()
		if !st.Terminal() {
			return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrDuplicateSession, key)
		}
		log.Info().Str("module", "app.store").Str("sid", key.String()).Str("state", string(st)).Msg("replacing terminated session")
	}
	sess := domain.NewSession(key, s.now().UTC())
	s.sessions[key] = &sessionEntry{session: *sess}
	log.Info().Str("module", "app.store").Str("sid", key.String()).Msg("created session")
	return *sess, nil
}

// GetOrCreate returns the session under key, creating it when absent.
// Terminal tombstones are returned as they are, never revived.
func (s *Store) GetOrCreate(key domain.SessionKey) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[key]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.session, false, nil
	}
	sess := domain.NewSession(key, s.now().UTC())
	s.sessions[key] = &sessionEntry{session: *sess}
	log.Debug().Str("module", "app.store").Str("sid", key.String()).Msg("created session on first use")
	return *sess, true, nil
}

func (s *Store) entry(key domain.SessionKey) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return e, nil
}

func (s *Store) Get(key domain.SessionKey) (domain.Session, error) {
	e, err := s.entry(key)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

func (s *Store) Update(key domain.SessionKey, fn func(*domain.Session) error) (domain.Session, error) {
	e, err := s.entry(key)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.session
	if err := fn(&next); err != nil {
		return e.session, err
	}
	next.Touch(s.now().UTC())
	e.session = next
	return next, nil
}

func (s *Store) Transition(key domain.SessionKey, to domain.State) error {
	_, err := s.Update(key, func(sess *domain.Session) error {
		if !domain.CanTransition(sess.State, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, sess.State, to)
		}
		sess.State = to
		return nil
	})
	if err == nil {
		log.Info().Str("module", "app.store").Str("sid", key.String()).Str("state", string(to)).Msg("transition")
	}
	return err
}

func (s *Store) Remove(key domain.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return
	}
	delete(s.sessions, key)
	log.Info().Str("module", "app.store").Str("sid", key.String()).Msg("removed session")
}

func (s *Store) List() []domain.Session {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session)
		e.mu.Unlock()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Touch(key domain.SessionKey) error {
	_, err := s.Update(key, func(*domain.Session) error { return nil })
	return err
}

func (s *Store) RemoveIf(key domain.SessionKey, keep func(domain.Session) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	if !ok {
		return false
	}
	e.mu.Lock()
	cur := e.session
	e.mu.Unlock()
	if keep(cur) {
		return false
	}
	delete(s.sessions, key)
	log.Info().Str("module", "app.store").Str("sid", key.String()).Str("state", string(cur.State)).Msg("removed session")
	return true
}
