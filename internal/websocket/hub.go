package websocket

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/conversation"
	"livechat/internal/directory"
	"livechat/internal/models"
)

// Backend is what a connected page needs from the document store.
type Backend interface {
	conversation.Backend
	GetUser(id string) (*models.User, error)
}

type Options struct {
	TypingIdle     time.Duration
	SearchDebounce time.Duration
	// Location formats message times; nil means local time.
	Location *time.Location
}

// Hub tracks connected pages per user and tells every page when a user
// comes online or goes offline.
type Hub struct {
	clients    map[*Client]bool
	userMap    map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
	done       chan struct{}

	backend   Backend
	directory *directory.Directory
	opts      Options
}

func NewHub(backend Backend, dir *directory.Directory, opts Options) *Hub {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		userMap:    make(map[string]map[*Client]bool),
		logger:     log.New(os.Stdout, "[WEBSOCKET] ", log.LstdFlags|log.Lshortfile),
		done:       make(chan struct{}),
		backend:    backend,
		directory:  dir,
		opts:       opts,
	}
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Println("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Println("WebSocket hub stopped")
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			conns, ok := h.userMap[client.userID()]
			if !ok {
				conns = make(map[*Client]bool)
				h.userMap[client.userID()] = conns
			}
			conns[client] = true
			cameOnline := len(conns) == 1
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Printf("Client connected: %s (ID: %s), total clients: %d",
				client.user.Email, client.userID(), total)
			if cameOnline {
				h.announce(client.userID(), true)
			}

		case client := <-h.Unregister:
			h.mu.Lock()
			wentOffline := false
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				conns := h.userMap[client.userID()]
				delete(conns, client)
				if len(conns) == 0 {
					delete(h.userMap, client.userID())
					wentOffline = true
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Printf("Client disconnected: %s (ID: %s), remaining clients: %d",
				client.user.Email, client.userID(), total)
			if wentOffline {
				h.announce(client.userID(), false)
			}
		}
	}
}

// announce runs without the hub lock; clients may call IsOnline while
// handling it.
func (h *Hub) announce(userID string, online bool) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.presenceChanged(userID, online)
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userMap[userID]) > 0
}

// ClientCount returns the number of connected pages.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve attaches a freshly upgraded connection for user and blocks until it
// closes. partnerID, when set, is opened right away.
func (h *Hub) Serve(conn *websocket.Conn, user models.User, partnerID string) {
	client := newClient(h, conn, user)
	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	client.start()
	if partnerID != "" {
		client.selectPartner(partnerID)
	}

	go client.WritePump()
	client.ReadPump()
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
