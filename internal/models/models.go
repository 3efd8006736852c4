package models

import (
	"sort"
	"strings"
	"time"
)

// ConversationIDSeparator joins the two sorted participant ids.
const ConversationIDSeparator = "_"

type User struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Photo     *string   `json:"photo" db:"photo"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Public returns a copy of the profile without the password hash.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Conversation is the shared record between exactly two participants.
// Typing is empty when nobody is composing.
type Conversation struct {
	ID           string    `json:"id" db:"id"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
	Typing       string    `json:"typing,omitempty" db:"typing"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Partner returns the participant that is not userID.
func (c *Conversation) Partner(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Seq            int64     `json:"seq" db:"seq"`
	SenderID       string    `json:"sender_id" db:"sender_id"`
	Text           string    `json:"text" db:"text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ConversationID derives the conversation address from the two participant
// ids. Both parties compute the same value without a lookup.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ConversationIDSeparator)
}

// Request/Response structures
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type StartConversationRequest struct {
	PartnerID string `json:"partner_id"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type SelectPartnerRequest struct {
	PartnerID string `json:"partner_id"`
}

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
