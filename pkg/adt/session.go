package adt

import (
	"net/http"
	"sync"
)

// SessionState is a portable snapshot of one connection's session artifacts.
// Cookies holds the rendered Cookie header value and is authoritative for
// restore (it preserves pair order); CookieMap is the same data as a plain
// map for collaborators that want to inspect individual cookies.
type SessionState struct {
	Cookies   string            `json:"cookies" yaml:"cookies"`
	CSRFToken string            `json:"csrfToken" yaml:"csrfToken"`
	CookieMap map[string]string `json:"cookieMap" yaml:"cookieMap"`
}

// session is the mutable per-connection state: one cookie jar, one cached
// CSRF token, the session id and the current session mode. A single mutex
// guards all of it so header assembly always observes a consistent set and
// concurrent response ingestion never tears (last write per cookie name
// wins).
type session struct {
	mu   sync.Mutex
	jar  *cookieJar
	csrf string
	id   string
	mode SessionType
}

func newSession(id string, mode SessionType) *session {
	return &session{
		jar:  newCookieJar(),
		id:   id,
		mode: mode,
	}
}

func (s *session) csrfToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrf
}

func (s *session) setCSRFToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrf = token
}

// ingestCookies merges Set-Cookie headers from a response into the jar.
func (s *session) ingestCookies(headers http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar.ingest(headers)
}

func (s *session) cookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.render()
}

func (s *session) cookieCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.len()
}

func (s *session) cookieNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.names()
}

func (s *session) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *session) sessionMode() SessionType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *session) setMode(mode SessionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// reset drops the CSRF token and all cookies. Session id and mode survive;
// calling reset on an already-empty session is a no-op.
func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrf = ""
	s.jar.clear()
}

// export captures the current session artifacts, nil when the session holds
// nothing worth exporting.
func (s *session) export() *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csrf == "" && s.jar.len() == 0 {
		return nil
	}
	return &SessionState{
		Cookies:   s.jar.render(),
		CSRFToken: s.csrf,
		CookieMap: s.jar.snapshot(),
	}
}

// restore replaces the session artifacts from a snapshot. The rendered
// Cookies string is authoritative so the reproduced Cookie header is
// byte-identical to the exporting connection's; a nil snapshot clears.
func (s *session) restore(state *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == nil {
		s.csrf = ""
		s.jar.clear()
		return
	}
	s.csrf = state.CSRFToken
	if state.Cookies != "" {
		s.jar.restore(state.Cookies)
		return
	}
	s.jar.clear()
	for name, value := range state.CookieMap {
		s.jar.set(name, value)
	}
}
