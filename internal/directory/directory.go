// Package directory derives a user's contact list from the conversations
// they take part in and looks up new contacts by email.
package directory

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"livechat/internal/docstore"
	"livechat/internal/models"
)

// Backend is the part of the document store the directory reads.
type Backend interface {
	WatchMembership(userID string, fn docstore.MembershipFunc) docstore.CancelFunc
	GetUser(id string) (*models.User, error)
	GetUsers(ids []string) ([]*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	StartConversation(a, b string) (string, error)
}

// ContactsFunc receives the full contact list after every change.
type ContactsFunc func(contacts []models.User, err error)

type Directory struct {
	backend Backend
	logger  *log.Logger
}

func New(backend Backend, logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.New(os.Stdout, "[DIRECTORY] ", log.LstdFlags|log.Lshortfile)
	}
	return &Directory{backend: backend, logger: logger}
}

// Watch delivers userID's contacts now and again whenever the set of shared
// conversations, or a partner's profile, changes.
func (d *Directory) Watch(userID string, fn ContactsFunc) docstore.CancelFunc {
	return d.backend.WatchMembership(userID, func(convs []*models.Conversation, err error) {
		if err != nil {
			d.logger.Printf("Contact list for %s unavailable: %v", userID, err)
			fn([]models.User{}, err)
			return
		}
		contacts, err := d.resolve(userID, convs)
		if err != nil {
			d.logger.Printf("Failed to load contacts for %s: %v", userID, err)
			fn([]models.User{}, err)
			return
		}
		fn(contacts, nil)
	})
}

// Contacts is the point-in-time variant of Watch.
func (d *Directory) Contacts(userID string, convs []*models.Conversation) ([]models.User, error) {
	return d.resolve(userID, convs)
}

func (d *Directory) resolve(userID string, convs []*models.Conversation) ([]models.User, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, conv := range convs {
		if !conv.HasParticipant(userID) {
			continue
		}
		partner := conv.Partner(userID)
		if partner == "" || seen[partner] {
			continue
		}
		seen[partner] = true
		ids = append(ids, partner)
	}

	contacts := []models.User{}
	if len(ids) == 0 {
		return contacts, nil
	}
	users, err := d.backend.GetUsers(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact profiles: %w", err)
	}
	for _, u := range users {
		contacts = append(contacts, u.Public())
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})
	return contacts, nil
}

// FindByEmail resolves an exact email to a profile that is not already a
// contact and is not the current user. It returns nil when there is no such
// profile.
func (d *Directory) FindByEmail(currentUserID, email string, contacts []models.User) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	user, err := d.backend.FindUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", email, err)
	}
	if user == nil || user.ID == currentUserID {
		return nil, nil
	}
	for _, c := range contacts {
		if c.ID == user.ID {
			return nil, nil
		}
	}
	found := user.Public()
	return &found, nil
}

// StartChat makes sure the conversation with partnerID exists and returns
// its id. Existing messages are kept.
func (d *Directory) StartChat(currentUserID, partnerID string) (string, error) {
	if currentUserID == "" || partnerID == "" {
		return "", fmt.Errorf("start chat: missing participant")
	}
	if _, err := d.backend.GetUser(partnerID); err != nil {
		return "", fmt.Errorf("start chat with %s: %w", partnerID, err)
	}
	id, err := d.backend.StartConversation(currentUserID, partnerID)
	if err != nil {
		return "", fmt.Errorf("start chat with %s: %w", partnerID, err)
	}
	return id, nil
}

// Filter returns the contacts whose display name contains term, ignoring
// case. An empty term returns every contact.
func Filter(contacts []models.User, term string) []models.User {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return contacts
	}
	out := []models.User{}
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), term) {
			out = append(out, c)
		}
	}
	return out
}
