package directory

import (
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livechat/internal/db"
	"livechat/internal/docstore"
	"livechat/internal/models"
)

var quietLogger = log.New(io.Discard, "", 0)

func newTestDirectory(t *testing.T) (*Directory, *docstore.Store) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	store := docstore.NewStore(database, docstore.NewMemoryBroker())
	t.Cleanup(func() {
		store.Close()
		database.Close()
	})
	for _, u := range []models.User{
		{ID: "u1", Name: "Ann", Email: "ann@example.com", Password: "x"},
		{ID: "u2", Name: "bob", Email: "bob@example.com", Password: "x"},
		{ID: "u3", Name: "Cleo", Email: "cleo@example.com", Password: "x"},
	} {
		u := u
		if _, err := store.CreateUser(&u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return New(store, quietLogger), store
}

func TestWatchRederivesContacts(t *testing.T) {
	dir, store := newTestDirectory(t)

	var mu sync.Mutex
	var latest []models.User
	cancel := dir.Watch("u1", func(contacts []models.User, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
		}
		mu.Lock()
		latest = contacts
		mu.Unlock()
	})
	defer cancel()

	names := func() []string {
		mu.Lock()
		defer mu.Unlock()
		var out []string
		for _, c := range latest {
			out = append(out, c.Name)
		}
		return out
	}
	waitFor := func(want int) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if len(names()) == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("contacts = %v, want %d entries", names(), want)
	}

	if _, err := store.AppendMessage("u3", "u1", "hey"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	waitFor(1)
	if _, err := store.StartConversation("u1", "u2"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	waitFor(2)

	got := names()
	if got[0] != "bob" || got[1] != "Cleo" {
		t.Errorf("contacts not sorted by name: %v", got)
	}

	mu.Lock()
	for _, c := range latest {
		if c.Password != "" {
			t.Errorf("contact %s carries a password hash", c.ID)
		}
	}
	mu.Unlock()
}

func TestFindByEmail(t *testing.T) {
	dir, _ := newTestDirectory(t)
	contacts := []models.User{{ID: "u2", Name: "bob", Email: "bob@example.com"}}

	found, err := dir.FindByEmail("u1", "cleo@example.com", contacts)
	if err != nil || found == nil || found.ID != "u3" {
		t.Fatalf("FindByEmail(cleo) = %+v, %v", found, err)
	}

	tests := []struct {
		name  string
		email string
	}{
		{"existing contact", "bob@example.com"},
		{"own address", "ann@example.com"},
		{"unknown", "nobody@example.com"},
		{"blank", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := dir.FindByEmail("u1", tt.email, contacts)
			if err != nil {
				t.Fatalf("FindByEmail: %v", err)
			}
			if found != nil {
				t.Errorf("expected no new contact, got %+v", found)
			}
		})
	}
}

func TestStartChatKeepsMessages(t *testing.T) {
	dir, store := newTestDirectory(t)
	if _, err := store.AppendMessage("u1", "u2", "first"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	id, err := dir.StartChat("u2", "u1")
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if id != "u1_u2" {
		t.Errorf("conversation id = %q", id)
	}
	conv, err := store.GetConversation(id)
	if err != nil || conv == nil || len(conv.Messages) != 1 {
		t.Errorf("StartChat lost messages: %+v, %v", conv, err)
	}

	if _, err := dir.StartChat("u1", "ghost"); err == nil {
		t.Errorf("started a chat with an unknown user")
	}
}

func TestFilter(t *testing.T) {
	contacts := []models.User{{ID: "1", Name: "Alice"}, {ID: "2", Name: "Malik"}, {ID: "3", Name: "Bob"}}
	if got := Filter(contacts, "LI"); len(got) != 2 {
		t.Errorf("Filter(LI) = %v", got)
	}
	if got := Filter(contacts, ""); len(got) != 3 {
		t.Errorf("empty term filtered contacts: %v", got)
	}
	if got := Filter(contacts, "zed"); got == nil || len(got) != 0 {
		t.Errorf("Filter(zed) = %#v", got)
	}
}

// countingBackend wraps the store and counts email lookups.
type countingBackend struct {
	Backend
	lookups atomic.Int32
}

func (c *countingBackend) FindUserByEmail(email string) (*models.User, error) {
	c.lookups.Add(1)
	return c.Backend.FindUserByEmail(email)
}

func TestSearcherLooksUpOncePerDebounce(t *testing.T) {
	_, store := newTestDirectory(t)
	backend := &countingBackend{Backend: store}
	dir := New(backend, quietLogger)

	results := make(chan SearchResult, 4)
	s := NewSearcher(dir, models.User{ID: "u1", Email: "ann@example.com"}, 30*time.Millisecond,
		func() []models.User { return nil },
		func(r SearchResult) { results <- r })
	defer s.Stop()

	for _, term := range []string{"a", "a@", "a@b", "a@b.c", "cleo@example.com"} {
		s.Search(term)
	}

	select {
	case r := <-results:
		if r.Found == nil || r.Found.ID != "u3" {
			t.Errorf("search result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no search result")
	}
	time.Sleep(60 * time.Millisecond)
	if n := backend.lookups.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
	if len(results) != 0 {
		t.Errorf("superseded keystrokes produced results")
	}
}

func TestSearcherSkipsOwnEmailAndKnownContacts(t *testing.T) {
	_, store := newTestDirectory(t)
	backend := &countingBackend{Backend: store}
	dir := New(backend, quietLogger)
	contacts := []models.User{{ID: "u2", Name: "bob", Email: "bob@example.com"}}

	results := make(chan SearchResult, 4)
	s := NewSearcher(dir, models.User{ID: "u1", Email: "ann@example.com"}, 10*time.Millisecond,
		func() []models.User { return contacts },
		func(r SearchResult) { results <- r })
	defer s.Stop()

	for _, term := range []string{"ann@example.com", "bob@example.com", "bo"} {
		s.Search(term)
		select {
		case r := <-results:
			if r.Found != nil {
				t.Errorf("%s surfaced %+v as new", term, r.Found)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no result for %s", term)
		}
	}
	if n := backend.lookups.Load(); n != 0 {
		t.Errorf("lookups = %d, want 0", n)
	}
}
