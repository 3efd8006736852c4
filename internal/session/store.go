package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"livechat/internal/models"
)

const (
	cookieName = "livechat-session"
	keyUserID  = "user_id"
	keyPartner = "partner_id"
	maxAge     = 30 * 24 * 60 * 60
)

// UserLoader resolves the persisted user id back to a profile.
type UserLoader interface {
	GetUser(id string) (*models.User, error)
}

// Store persists sessions in a signed cookie so they survive page reloads
// on the same browser.
type Store struct {
	cookies *sessions.CookieStore
	users   UserLoader
}

func NewStore(secret string, users UserLoader, secure bool) *Store {
	cookies := sessions.NewCookieStore([]byte(secret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Store{cookies: cookies, users: users}
}

// Load restores the session carried by r. A missing, tampered or stale
// cookie yields an empty session rather than an error.
func (st *Store) Load(r *http.Request) *Session {
	s := New()
	raw, err := st.cookies.Get(r, cookieName)
	if err != nil {
		return s
	}
	userID, _ := raw.Values[keyUserID].(string)
	if userID == "" {
		return s
	}
	user, err := st.users.GetUser(userID)
	if err != nil {
		return s
	}
	s.Login(*user)
	if partnerID, ok := raw.Values[keyPartner].(string); ok {
		s.SelectPartner(partnerID)
	}
	return s
}

// Save writes s back to the response. A signed-out session deletes the
// cookie.
func (st *Store) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	raw, _ := st.cookies.Get(r, cookieName)
	userID := s.UserID()
	if userID == "" {
		raw.Values = map[interface{}]interface{}{}
		raw.Options.MaxAge = -1
	} else {
		raw.Values[keyUserID] = userID
		raw.Values[keyPartner] = s.SelectedPartner()
		raw.Options.MaxAge = maxAge
	}
	if err := raw.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
