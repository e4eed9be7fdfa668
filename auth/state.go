package auth

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/warp/quotebook/quote"
)

// State is the device's signed-in session.
type State struct {
	storage quote.Storage

	mu      sync.RWMutex
	session *Session
	subs    map[int]func(string)
	nextSub int
}

// NewState loads any persisted session from storage.
func NewState(storage quote.Storage) *State {
	s := &State{storage: storage, subs: make(map[int]func(string))}

	raw, ok, err := storage.Get(quote.KeySession)
	if err != nil {
		log.Printf("[Auth] reading session failed: %v", err)
		return s
	}
	if !ok {
		return s
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.Token == "" {
		log.Printf("[Auth] ignoring malformed session: %v", err)
		return s
	}
	s.session = &sess
	return s
}

// CurrentUser implements quote.Identity.
func (s *State) CurrentUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.UserID, true
}

// Session returns the current session, if any.
func (s *State) Session() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// Token returns the bearer token, or "".
func (s *State) Token() string {
	sess, _ := s.Session()
	return sess.Token
}

// SignIn stores sess and notifies subscribers.
func (s *State) SignIn(sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.storage.Set(quote.KeySession, string(b)); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()

	s.notify(sess.UserID)
	return nil
}

// SignOut forgets the session and notifies subscribers with "".
func (s *State) SignOut() error {
	err := s.storage.Remove(quote.KeySession)

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.notify("")
	return err
}

// Subscribe implements quote.AuthSubscriber. fn is called immediately
// with the current user, then on every change.
func (s *State) Subscribe(fn func(userID string)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	uid := ""
	if s.session != nil {
		uid = s.session.UserID
	}
	s.mu.Unlock()

	fn(uid)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *State) notify(userID string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(userID)
	}
}
