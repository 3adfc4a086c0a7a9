package tokenstore

import "sync"

// Store holds the current access token in memory only. The token is
// never written to disk or any other persistent storage; losing the
// process loses the token, which is intended.
type Store struct {
	mu    sync.RWMutex
	token string
}

func New() *Store {
	return &Store{}
}

func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
