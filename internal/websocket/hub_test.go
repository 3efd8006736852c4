package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/db"
	"livechat/internal/directory"
	"livechat/internal/docstore"
	"livechat/internal/models"
)

type testEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type harness struct {
	t      *testing.T
	store  *docstore.Store
	hub    *Hub
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "ws.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	store := docstore.NewStore(database, docstore.NewMemoryBroker())
	for _, u := range []models.User{
		{ID: "u1", Name: "Ann", Email: "ann@example.com", Password: "x"},
		{ID: "u2", Name: "Bob", Email: "bob@example.com", Password: "x"},
	} {
		u := u
		if _, err := store.CreateUser(&u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	dir := directory.New(store, log.New(io.Discard, "", 0))
	hub := NewHub(store, dir, Options{TypingIdle: time.Hour, SearchDebounce: 10 * time.Millisecond, Location: time.UTC})
	hub.logger.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := store.GetUser(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, *user, r.URL.Query().Get("partner"))
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
		store.Close()
		database.Close()
	})
	return &harness{t: t, store: store, hub: hub, server: server}
}

func (h *harness) dial(userID, partnerID string) *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?user=" + userID + "&partner=" + partnerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("Dial: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"type": eventType, "payload": payload}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

// await reads events until one of eventType satisfies match.
func await(t *testing.T, conn *websocket.Conn, eventType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var ev testEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if ev.Type == eventType && match(ev.Payload) {
			return ev.Payload
		}
	}
}

type matcher func(json.RawMessage) bool

// awaitAll reads events until every named condition has been met, in any
// order. Keys are event types.
func awaitAll(t *testing.T, conn *websocket.Conn, conds map[string]matcher) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	got := make(map[string]json.RawMessage, len(conds))
	for len(got) < len(conds) {
		var ev testEvent
		if err := conn.ReadJSON(&ev); err != nil {
			var missing []string
			for name := range conds {
				if _, ok := got[name]; !ok {
					missing = append(missing, name)
				}
			}
			t.Fatalf("waiting for %v: %v", missing, err)
		}
		match, ok := conds[ev.Type]
		if _, seen := got[ev.Type]; ok && !seen && match(ev.Payload) {
			got[ev.Type] = ev.Payload
		}
	}
	return got
}

func contactSelected(userID string) matcher {
	return func(raw json.RawMessage) bool {
		var p ContactsPayload
		json.Unmarshal(raw, &p)
		return len(p.Contacts) == 1 && p.Contacts[0].UserID == userID && p.Contacts[0].Selected
	}
}

func conversationWith(n int) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p ConversationPayload
		json.Unmarshal(raw, &p)
		return p.State == "active" && len(p.Messages) == n
	}
}

func TestMessageReachesPartner(t *testing.T) {
	h := newHarness(t)
	// The typing marker lives on an existing record.
	if _, err := h.store.StartConversation("u1", "u2"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	ann := h.dial("u1", "u2")
	bob := h.dial("u2", "")

	await(t, ann, EventConversation, conversationWith(0))
	sendEvent(t, bob, EventSelect, map[string]string{"partner_id": "u1"})
	awaitAll(t, bob, map[string]matcher{
		EventConversation: conversationWith(0),
		EventContacts:     contactSelected("u1"),
	})

	sendEvent(t, ann, EventDraft, map[string]string{"text": "  hi "})
	raw := await(t, bob, EventConversation, func(raw json.RawMessage) bool {
		var p ConversationPayload
		json.Unmarshal(raw, &p)
		return p.Header != nil && p.Header.Caption == "typing..."
	})
	var typing ConversationPayload
	json.Unmarshal(raw, &typing)
	if typing.Header.Name != "Ann" {
		t.Errorf("header shows %q", typing.Header.Name)
	}

	sendEvent(t, ann, EventSend, nil)
	raw = await(t, bob, EventConversation, conversationWith(1))
	var got ConversationPayload
	json.Unmarshal(raw, &got)
	if got.ConversationID != "u1_u2" || got.Messages[0].Text != "hi" || got.Messages[0].Outgoing {
		t.Errorf("bob sees %+v", got)
	}

	raw = await(t, ann, EventConversation, func(raw json.RawMessage) bool {
		var p ConversationPayload
		json.Unmarshal(raw, &p)
		return len(p.Messages) == 1 && p.Draft == ""
	})
	json.Unmarshal(raw, &got)
	if !got.Messages[0].Outgoing {
		t.Errorf("ann sees %+v", got)
	}

}

func TestEmptySendProducesNotice(t *testing.T) {
	h := newHarness(t)
	ann := h.dial("u1", "u2")
	sendEvent(t, ann, EventSend, nil)
	await(t, ann, EventNotice, func(raw json.RawMessage) bool {
		var p NoticePayload
		json.Unmarshal(raw, &p)
		return p.Message != ""
	})
}

func TestSearchAndStartChat(t *testing.T) {
	h := newHarness(t)
	ann := h.dial("u1", "")

	sendEvent(t, ann, EventSearch, map[string]string{"term": "bob@example.com"})
	raw := await(t, ann, EventSearchResult, func(json.RawMessage) bool { return true })
	var result SearchResultPayload
	json.Unmarshal(raw, &result)
	if result.Found == nil || result.Found.UserID != "u2" {
		t.Fatalf("search result = %+v", result)
	}

	sendEvent(t, ann, EventStartChat, map[string]string{"user_id": "u2"})
	awaitAll(t, ann, map[string]matcher{
		EventConversation: func(raw json.RawMessage) bool {
			var p ConversationPayload
			json.Unmarshal(raw, &p)
			return p.PartnerID == "u2" && p.State == "active"
		},
		EventContacts: contactSelected("u2"),
	})
}

func TestPresence(t *testing.T) {
	h := newHarness(t)
	ann := h.dial("u1", "u2")
	await(t, ann, EventConversation, conversationWith(0))

	bob := h.dial("u2", "")
	await(t, ann, EventPresence, func(raw json.RawMessage) bool {
		var p PresencePayload
		json.Unmarshal(raw, &p)
		return p.UserID == "u2" && p.Online
	})
	if !h.hub.IsOnline("u2") {
		t.Errorf("u2 not reported online")
	}

	bob.Close()
	await(t, ann, EventPresence, func(raw json.RawMessage) bool {
		var p PresencePayload
		json.Unmarshal(raw, &p)
		return p.UserID == "u2" && !p.Online
	})
}

func (h *harness) clientOf(userID string) *Client {
	h.t.Helper()
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	for c := range h.hub.userMap[userID] {
		return c
	}
	h.t.Fatalf("no client for %s", userID)
	return nil
}

func TestFailedSelectKeepsSelection(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.StartConversation("u1", "u2"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	ann := h.dial("u1", "u2")
	await(t, ann, EventConversation, conversationWith(0))

	sendEvent(t, ann, EventSelect, map[string]string{"partner_id": "u1"})
	await(t, ann, EventNotice, func(json.RawMessage) bool { return true })

	c := h.clientOf("u1")
	if got := c.selectedID(); got != "u2" {
		t.Errorf("selection after failed select = %q, want u2", got)
	}
	if snap := c.view.Snapshot(); snap.PartnerID != "u2" || snap.State.String() != "active" {
		t.Errorf("view after failed select = %s with %q", snap.State, snap.PartnerID)
	}
}
