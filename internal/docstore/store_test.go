package docstore

import (
	"path/filepath"
	"testing"
	"time"

	"livechat/internal/db"
	"livechat/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	store := NewStore(database, NewMemoryBroker())
	t.Cleanup(func() {
		store.Close()
		database.Close()
	})
	return store
}

type convEvent struct {
	conv *models.Conversation
	err  error
}

func waitConv(t *testing.T, ch <-chan convEvent, match func(*models.Conversation) bool) *models.Conversation {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.err != nil {
				t.Fatalf("watch error: %v", ev.err)
			}
			if match(ev.conv) {
				return ev.conv
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func TestWatchConversationDeliversSnapshots(t *testing.T) {
	store := newTestStore(t)
	events := make(chan convEvent, 16)

	cancel := store.WatchConversation("u1_u2", func(conv *models.Conversation, err error) {
		events <- convEvent{conv, err}
	})
	defer cancel()

	waitConv(t, events, func(c *models.Conversation) bool { return c == nil })

	if _, err := store.AppendMessage("u1", "u2", "hi"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	conv := waitConv(t, events, func(c *models.Conversation) bool { return c != nil && len(c.Messages) == 1 })
	if conv.Messages[0].Text != "hi" || conv.Messages[0].SenderID != "u1" {
		t.Errorf("unexpected message %+v", conv.Messages[0])
	}

	if err := store.SetTyping("u1_u2", "u2"); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	waitConv(t, events, func(c *models.Conversation) bool { return c != nil && c.Typing == "u2" })
}

func TestCancelStopsDelivery(t *testing.T) {
	store := newTestStore(t)
	events := make(chan convEvent, 16)

	cancel := store.WatchConversation("u1_u2", func(conv *models.Conversation, err error) {
		events <- convEvent{conv, err}
	})
	waitConv(t, events, func(c *models.Conversation) bool { return c == nil })
	cancel()
	cancel()

	store.AppendMessage("u1", "u2", "after cancel")
	select {
	case ev := <-events:
		t.Fatalf("received a snapshot after cancel: %+v", ev.conv)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchMembership(t *testing.T) {
	store := newTestStore(t)
	type memEvent struct {
		convs []*models.Conversation
		err   error
	}
	events := make(chan memEvent, 16)

	cancel := store.WatchMembership("u1", func(convs []*models.Conversation, err error) {
		events <- memEvent{convs, err}
	})
	defer cancel()

	wait := func(n int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.err != nil {
					t.Fatalf("watch error: %v", ev.err)
				}
				if len(ev.convs) == n {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %d conversations", n)
			}
		}
	}

	wait(0)
	if _, err := store.StartConversation("u2", "u1"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	wait(1)
	store.AppendMessage("u3", "u1", "hey")
	wait(2)
}

func TestFindUserByEmailMissing(t *testing.T) {
	store := newTestStore(t)
	user, err := store.FindUserByEmail("nobody@x.com")
	if err != nil || user != nil {
		t.Fatalf("expected nil, nil; got %v, %v", user, err)
	}

	created, err := store.CreateUser(&models.User{Name: "A", Email: "a@x.com", Password: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("CreateUser did not assign an id")
	}
	found, err := store.FindUserByEmail("a@x.com")
	if err != nil || found == nil || found.ID != created.ID {
		t.Fatalf("FindUserByEmail = %v, %v", found, err)
	}
}

func TestMemoryBrokerCoalesces(t *testing.T) {
	b := NewMemoryBroker()
	sub, err := b.Subscribe("t")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := b.Publish("t"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	<-sub.C()
	select {
	case <-sub.C():
		t.Fatalf("expected pending notifications to coalesce")
	default:
	}

	sub.Close()
	b.Publish("t")
	select {
	case <-sub.C():
		t.Fatalf("closed subscription was notified")
	default:
	}

	b.Close()
	if err := b.Publish("t"); err != ErrBrokerClosed {
		t.Errorf("Publish after Close = %v", err)
	}
}
