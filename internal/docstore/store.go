// Package docstore is the document store the chat components talk to. It
// wraps the SQLite tables with write-then-publish semantics and offers live
// reads that deliver a full snapshot after every change.
package docstore

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livechat/internal/db"
	"livechat/internal/models"
)

type ConversationFunc func(conv *models.Conversation, err error)

type MembershipFunc func(convs []*models.Conversation, err error)

// CancelFunc stops a watch. It never blocks; a callback that is already
// running finishes, but no new one starts.
type CancelFunc func()

type Store struct {
	db     *db.DB
	broker Broker
	logger *log.Logger
	now    func() time.Time
}

func NewStore(database *db.DB, broker Broker) *Store {
	return &Store{
		db:     database,
		broker: broker,
		logger: log.New(os.Stdout, "[DOCSTORE] ", log.LstdFlags|log.Lshortfile),
		now:    time.Now,
	}
}

// Users

func (s *Store) CreateUser(user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return s.db.CreateUser(user)
}

func (s *Store) GetUser(id string) (*models.User, error) {
	return s.db.GetUserByID(id)
}

// FindUserByEmail returns nil without an error when nobody owns email.
func (s *Store) FindUserByEmail(email string) (*models.User, error) {
	user, err := s.db.GetUserByEmail(email)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, nil
	}
	return user, err
}

func (s *Store) GetUsers(ids []string) ([]*models.User, error) {
	return s.db.GetUsersByIDs(ids)
}

// UpdateProfile stores the new name and photo and tells every conversation
// partner's contact list to re-derive.
func (s *Store) UpdateProfile(id, name string, photo *string) (*models.User, error) {
	user, err := s.db.UpdateUserProfile(id, name, photo)
	if err != nil {
		return nil, err
	}
	convs, err := s.db.GetUserConversations(id)
	if err != nil {
		s.logger.Printf("Profile %s updated but partners were not notified: %v", id, err)
		return user, nil
	}
	for _, conv := range convs {
		s.publish(MembershipTopic(conv.Partner(id)))
	}
	return user, nil
}

// Conversations

// StartConversation creates the record for the pair if needed and returns
// its id. Existing messages are kept.
func (s *Store) StartConversation(a, b string) (string, error) {
	id, err := s.db.EnsureConversation(a, b)
	if err != nil {
		return "", err
	}
	s.publish(ConversationTopic(id), MembershipTopic(a), MembershipTopic(b))
	return id, nil
}

// AppendMessage adds a message from senderID to the conversation with
// recipientID, creating the record when it does not exist yet.
func (s *Store) AppendMessage(senderID, recipientID, text string) (*models.Message, error) {
	msg, err := s.db.AppendMessage(senderID, recipientID, &models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.publish(ConversationTopic(msg.ConversationID), MembershipTopic(senderID), MembershipTopic(recipientID))
	return msg, nil
}

func (s *Store) SetTyping(conversationID, userID string) error {
	if err := s.db.SetTyping(conversationID, userID); err != nil {
		return err
	}
	s.publish(ConversationTopic(conversationID))
	return nil
}

func (s *Store) ClearTyping(conversationID, userID string) error {
	cleared, err := s.db.ClearTyping(conversationID, userID)
	if err != nil {
		return err
	}
	if cleared {
		s.publish(ConversationTopic(conversationID))
	}
	return nil
}

func (s *Store) GetConversation(id string) (*models.Conversation, error) {
	return s.db.GetConversation(id)
}

func (s *Store) UserConversations(userID string) ([]*models.Conversation, error) {
	return s.db.GetUserConversations(userID)
}

// Live reads

// WatchConversation delivers the conversation record now and again after
// every change. A record that does not exist yet is delivered as nil.
func (s *Store) WatchConversation(id string, fn ConversationFunc) CancelFunc {
	return s.watch(ConversationTopic(id), func(stopped *atomic.Bool, subErr error) {
		var (
			conv *models.Conversation
			err  = subErr
		)
		if err == nil {
			conv, err = s.db.GetConversation(id)
		}
		if !stopped.Load() {
			fn(conv, err)
		}
	})
}

// WatchMembership delivers every conversation that lists userID, now and
// again whenever that set or its participants change.
func (s *Store) WatchMembership(userID string, fn MembershipFunc) CancelFunc {
	return s.watch(MembershipTopic(userID), func(stopped *atomic.Bool, subErr error) {
		var (
			convs []*models.Conversation
			err   = subErr
		)
		if err == nil {
			convs, err = s.db.GetUserConversations(userID)
		}
		if !stopped.Load() {
			fn(convs, err)
		}
	})
}

// watch subscribes before the first read so no change between the read and
// the subscription is lost. Snapshots are delivered from one goroutine, in
// notification order.
func (s *Store) watch(topic string, deliver func(stopped *atomic.Bool, subErr error)) CancelFunc {
	stopped := &atomic.Bool{}
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stopped.Store(true)
			close(done)
		})
	}

	sub, err := s.broker.Subscribe(topic)
	if err != nil {
		s.logger.Printf("Subscribe %s failed: %v", topic, err)
	}

	go func() {
		if err != nil {
			deliver(stopped, fmt.Errorf("subscribe %s: %w", topic, err))
			return
		}
		defer sub.Close()
		for {
			deliver(stopped, nil)
			select {
			case <-done:
				return
			case <-sub.C():
			}
		}
	}()

	return cancel
}

func (s *Store) publish(topics ...string) {
	for _, topic := range topics {
		if err := s.broker.Publish(topic); err != nil {
			s.logger.Printf("Publish %s failed: %v", topic, err)
		}
	}
}

// Close releases the broker. The database is owned by the caller.
func (s *Store) Close() error {
	if err := s.broker.Close(); err != nil {
		return fmt.Errorf("failed to close broker: %w", err)
	}
	return nil
}
