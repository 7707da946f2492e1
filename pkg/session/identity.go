package session

// Identity holds opaque platform tokens describing the OS session the
// agent started in and the one it currently runs in. The session stores
// them for teardown and never interprets them.
type Identity struct {
	OriginalSessionID string
	CurrentSessionID  string
	OriginalStation   string
	CurrentStation    string
	OriginalDesktop   string
	CurrentDesktop    string
}

// Identity returns the stored platform tokens.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetIdentity replaces the stored platform tokens.
func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}
