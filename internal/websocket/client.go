package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/conversation"
	"livechat/internal/directory"
	"livechat/internal/docstore"
	"livechat/internal/models"
	"livechat/internal/view"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8 << 10
)

// Inbound event types.
const (
	EventSelect    = "select"
	EventDraft     = "draft"
	EventSend      = "send"
	EventSearch    = "search"
	EventStartChat = "start_chat"
)

// Outbound event types.
const (
	EventConversation = "conversation"
	EventContacts     = "contacts"
	EventSearchResult = "search_result"
	EventNotice       = "notice"
	EventPresence     = "presence"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ConversationPayload struct {
	State          string                  `json:"state"`
	PartnerID      string                  `json:"partner_id"`
	ConversationID string                  `json:"conversation_id"`
	Header         *view.ProfileHeaderView `json:"header,omitempty"`
	Messages       []view.BubbleView       `json:"messages"`
	Draft          string                  `json:"draft"`
	Error          string                  `json:"error,omitempty"`
}

type ContactsPayload struct {
	Contacts []view.ContactRowView `json:"contacts"`
}

type SearchResultPayload struct {
	Term    string                `json:"term"`
	Matches []view.ContactRowView `json:"matches"`
	Found   *view.ContactRowView  `json:"found,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type NoticePayload struct {
	Message string `json:"message"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Client is one open chat page. It owns the page's conversation view, its
// live contact list and its search box.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	user models.User

	view     *conversation.View
	searcher *directory.Searcher

	mu             sync.Mutex
	partner        *models.User
	// pending is the profile being selected; it feeds the header until
	// Select returns.
	pending        *models.User
	contacts       []models.User
	cancelContacts docstore.CancelFunc
	closed         bool
}

func newClient(hub *Hub, conn *websocket.Conn, user models.User) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		user: user.Public(),
	}
	c.view = conversation.NewView(hub.backend, user.ID, conversation.Options{
		TypingIdle: hub.opts.TypingIdle,
		OnChange:   c.pushConversation,
	})
	c.searcher = directory.NewSearcher(hub.directory, c.user, hub.opts.SearchDebounce, c.currentContacts, c.pushSearchResult)
	return c
}

func (c *Client) userID() string {
	return c.user.ID
}

func (c *Client) start() {
	cancel := c.hub.directory.Watch(c.userID(), c.contactsChanged)
	c.mu.Lock()
	c.cancelContacts = cancel
	c.mu.Unlock()
	c.pushConversation(c.view.Snapshot())
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("error: %v", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Printf("error unmarshaling message: %v", err)
			c.notice("Invalid message format")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg inboundMessage) {
	switch msg.Type {
	case EventSelect:
		var p struct {
			PartnerID string `json:"partner_id"`
		}
		if !c.decode(msg, &p) {
			return
		}
		c.selectPartner(p.PartnerID)

	case EventDraft:
		var p struct {
			Text string `json:"text"`
		}
		if !c.decode(msg, &p) {
			return
		}
		c.view.SetDraft(p.Text)

	case EventSend:
		if _, err := c.view.Send(); err != nil {
			switch {
			case errors.Is(err, conversation.ErrEmptyMessage):
				c.notice("Type a message first")
			case errors.Is(err, conversation.ErrNoPartner):
				c.notice("Select a contact first")
			default:
				c.notice("Message could not be sent, please try again")
			}
		}

	case EventSearch:
		var p struct {
			Term string `json:"term"`
		}
		if !c.decode(msg, &p) {
			return
		}
		c.searcher.Search(p.Term)

	case EventStartChat:
		var p struct {
			UserID string `json:"user_id"`
		}
		if !c.decode(msg, &p) {
			return
		}
		if _, err := c.hub.directory.StartChat(c.userID(), p.UserID); err != nil {
			c.hub.logger.Printf("Failed to start chat for %s: %v", c.userID(), err)
			c.notice("Could not start the conversation")
			return
		}
		c.selectPartner(p.UserID)

	default:
		c.notice("Unknown event: " + msg.Type)
	}
}

func (c *Client) decode(msg inboundMessage, v interface{}) bool {
	if len(msg.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.hub.logger.Printf("Bad %s payload from %s: %v", msg.Type, c.userID(), err)
		c.notice("Invalid message format")
		return false
	}
	return true
}

// selectPartner resolves the partner's profile before switching the view so
// the header is ready with the first snapshot.
func (c *Client) selectPartner(partnerID string) {
	var partner *models.User
	if partnerID != "" {
		p, err := c.hub.backend.GetUser(partnerID)
		if err != nil {
			c.hub.logger.Printf("Cannot select %s for %s: %v", partnerID, c.userID(), err)
			c.notice("That contact does not exist")
			return
		}
		public := p.Public()
		partner = &public
	}

	c.mu.Lock()
	c.pending = partner
	c.mu.Unlock()

	err := c.view.Select(partnerID)

	c.mu.Lock()
	c.pending = nil
	if err == nil {
		c.partner = partner
	}
	c.mu.Unlock()

	if err != nil {
		c.hub.logger.Printf("Select %s failed for %s: %v", partnerID, c.userID(), err)
		c.notice("Could not open the conversation")
		return
	}
	c.pushContacts()
}

// pushConversation runs under the view lock and must not call the view.
func (c *Client) pushConversation(snap conversation.Snapshot) {
	payload := ConversationPayload{
		State:          snap.State.String(),
		PartnerID:      snap.PartnerID,
		ConversationID: snap.ConversationID,
		Messages:       view.Bubbles(snap.Messages, c.userID(), c.hub.opts.Location),
		Draft:          snap.Draft,
	}
	if snap.Err != nil {
		payload.Error = "Messages are unavailable right now"
	}

	c.mu.Lock()
	partner := c.partner
	if c.pending != nil {
		partner = c.pending
	}
	c.mu.Unlock()
	if partner != nil && partner.ID == snap.PartnerID {
		header := view.ProfileHeader(*partner, c.hub.IsOnline(partner.ID), snap.PartnerTyping)
		payload.Header = &header
	}
	c.emit(EventConversation, payload)
}

func (c *Client) contactsChanged(contacts []models.User, err error) {
	if err != nil {
		c.notice("Contacts are unavailable right now")
	}
	c.mu.Lock()
	c.contacts = contacts
	if c.partner != nil {
		for _, u := range contacts {
			if u.ID == c.partner.ID {
				updated := u
				c.partner = &updated
			}
		}
	}
	c.mu.Unlock()
	c.pushContacts()
	// A partner's profile may have changed.
	c.pushConversation(c.view.Snapshot())
}

func (c *Client) currentContacts() []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.User, len(c.contacts))
	copy(out, c.contacts)
	return out
}

func (c *Client) selectedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partner == nil {
		return ""
	}
	return c.partner.ID
}

func (c *Client) pushContacts() {
	c.emit(EventContacts, ContactsPayload{Contacts: view.ContactRows(c.currentContacts(), c.selectedID())})
}

func (c *Client) pushSearchResult(r directory.SearchResult) {
	payload := SearchResultPayload{
		Term:    r.Term,
		Matches: view.ContactRows(r.Matches, c.selectedID()),
	}
	if r.Found != nil {
		row := view.ContactRow(*r.Found, "")
		payload.Found = &row
	}
	if r.Err != nil {
		payload.Error = "Search failed, please try again"
	}
	c.emit(EventSearchResult, payload)
}

func (c *Client) presenceChanged(userID string, online bool) {
	c.emit(EventPresence, PresencePayload{UserID: userID, Online: online})
	if userID == c.selectedID() {
		c.pushConversation(c.view.Snapshot())
	}
}

func (c *Client) notice(message string) {
	c.emit(EventNotice, NoticePayload{Message: message})
}

// emit queues an event for the write pump. A page that cannot keep up loses
// the event; the next snapshot supersedes it.
func (c *Client) emit(eventType string, payload interface{}) {
	data, err := json.Marshal(models.WebSocketMessage{Type: eventType, Payload: payload})
	if err != nil {
		c.hub.logger.Printf("Failed to marshal %s event: %v", eventType, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Printf("Send buffer full for %s, dropping %s event", c.userID(), eventType)
	}
}

func (c *Client) shutdown() {
	c.searcher.Stop()
	c.view.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelContacts != nil {
		c.cancelContacts()
		c.cancelContacts = nil
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
