package session

import (
	"sync"

	"livechat/internal/models"
)

// Session is the signed-in user's profile plus the conversation partner
// currently selected in the page. It is owned by whoever created it and
// passed explicitly to the components that read it.
type Session struct {
	mu        sync.RWMutex
	user      *models.User
	partnerID string
}

func New() *Session {
	return &Session{}
}

// User returns a copy of the signed-in profile, or nil.
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := s.user.Public()
	return &u
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Session) LoggedIn() bool {
	return s.UserID() != ""
}

// SelectedPartner returns the selected partner id, or "" when none is.
func (s *Session) SelectedPartner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partnerID
}

// Login replaces the profile. A partner selected under another account is
// dropped.
func (s *Session) Login(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil && s.user.ID != user.ID {
		s.partnerID = ""
	}
	u := user.Public()
	s.user = &u
}

// Logout clears the profile and the selected partner together.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.partnerID = ""
}

// SelectPartner records the selected partner; "" clears the selection.
// Selecting yourself or selecting while signed out is ignored.
func (s *Session) SelectPartner(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || id == s.user.ID {
		return false
	}
	s.partnerID = id
	return true
}
