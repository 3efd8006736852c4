// Package conversation keeps one live view of the conversation between the
// signed-in user and the selected partner: it follows the shared record
// through a subscription, composes and sends messages, and broadcasts the
// typing marker.
package conversation

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"livechat/internal/docstore"
	"livechat/internal/models"
)

// DefaultTypingIdle is how long the typing marker survives without input.
const DefaultTypingIdle = 2 * time.Second

type State int

const (
	StateIdle State = iota
	StateLoading
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn-down"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoPartner    = errors.New("no conversation partner selected")
	ErrNoUser       = errors.New("no signed-in user")
	ErrClosed       = errors.New("conversation view closed")
)

// Backend is the part of the document store a view reads and writes.
type Backend interface {
	WatchConversation(id string, fn docstore.ConversationFunc) docstore.CancelFunc
	AppendMessage(senderID, recipientID, text string) (*models.Message, error)
	SetTyping(conversationID, userID string) error
	ClearTyping(conversationID, userID string) error
}

// Snapshot is an immutable copy of the view state handed to observers.
type Snapshot struct {
	State          State
	UserID         string
	PartnerID      string
	ConversationID string
	Messages       []models.Message
	PartnerTyping  bool
	Draft          string
	Err            error
}

type Options struct {
	TypingIdle time.Duration
	Logger     *log.Logger
	// OnChange is called after every state change, with the view lock held.
	// It must not call back into the view.
	OnChange func(Snapshot)
}

type View struct {
	backend    Backend
	userID     string
	typingIdle time.Duration
	logger     *log.Logger
	onChange   func(Snapshot)

	mu             sync.Mutex
	state          State
	partnerID      string
	conversationID string
	messages       []models.Message
	partnerTyping  bool
	draft          string
	err            error
	closed         bool

	// generation identifies the current subscription; callbacks carrying an
	// older value are dropped.
	generation uint64
	cancel     docstore.CancelFunc

	typingTimer *time.Timer
	typingSeq   uint64
}

func NewView(backend Backend, userID string, opts Options) *View {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[CONVERSATION] ", log.LstdFlags|log.Lshortfile)
	}
	return &View{
		backend:    backend,
		userID:     userID,
		typingIdle: opts.TypingIdle,
		logger:     opts.Logger,
		onChange:   opts.OnChange,
		state:      StateIdle,
	}
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	messages := make([]models.Message, len(v.messages))
	copy(messages, v.messages)
	return Snapshot{
		State:          v.state,
		UserID:         v.userID,
		PartnerID:      v.partnerID,
		ConversationID: v.conversationID,
		Messages:       messages,
		PartnerTyping:  v.partnerTyping,
		Draft:          v.draft,
		Err:            v.err,
	}
}

func (v *View) emitLocked() {
	if v.onChange != nil {
		v.onChange(v.snapshotLocked())
	}
}

// Select switches the view to partnerID; "" returns it to idle. The old
// subscription and typing timer are cancelled before the new subscription
// opens.
func (v *View) Select(partnerID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}
	if v.userID == "" {
		return ErrNoUser
	}
	if partnerID == v.userID {
		return fmt.Errorf("cannot open a conversation with yourself")
	}
	if partnerID == v.partnerID && v.state != StateTornDown {
		return nil
	}

	v.teardownLocked()
	v.draft = ""
	v.err = nil

	if partnerID == "" {
		v.state = StateIdle
		v.emitLocked()
		return nil
	}

	v.partnerID = partnerID
	v.conversationID = models.ConversationID(v.userID, partnerID)
	v.state = StateLoading
	v.emitLocked()

	gen := v.generation
	conversationID := v.conversationID
	v.cancel = v.backend.WatchConversation(conversationID, func(conv *models.Conversation, err error) {
		v.apply(gen, conv, err)
	})
	return nil
}

// teardownLocked cancels the subscription and typing timer and invalidates
// every callback still in flight.
func (v *View) teardownLocked() {
	v.generation++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.stopTypingTimerLocked()
	if v.state == StateLoading || v.state == StateActive {
		v.state = StateTornDown
	}
	v.partnerID = ""
	v.conversationID = ""
	v.messages = nil
	v.partnerTyping = false
}

// apply installs a snapshot delivered by the subscription of generation gen.
func (v *View) apply(gen uint64, conv *models.Conversation, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.generation || v.closed {
		return
	}

	v.state = StateActive
	if err != nil {
		v.logger.Printf("Subscription to %s failed: %v", v.conversationID, err)
		v.messages = []models.Message{}
		v.partnerTyping = false
		v.err = err
		v.emitLocked()
		return
	}

	v.err = nil
	if conv == nil || !conv.HasParticipant(v.userID) {
		v.messages = []models.Message{}
		v.partnerTyping = false
	} else {
		v.messages = conv.Messages
		if v.messages == nil {
			v.messages = []models.Message{}
		}
		v.partnerTyping = conv.Typing != "" && conv.Typing == v.partnerID
	}
	v.emitLocked()
}

// SetDraft records the text being composed and announces that the user is
// typing. The marker is cleared after the idle period unless more input
// arrives first.
func (v *View) SetDraft(text string) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.draft = text
	conversationID := v.conversationID
	v.emitLocked()

	if conversationID == "" || v.userID == "" {
		v.mu.Unlock()
		return
	}

	v.stopTypingTimerLocked()
	seq := v.typingSeq
	v.typingTimer = time.AfterFunc(v.typingIdle, func() {
		v.typingExpired(seq, conversationID)
	})
	v.mu.Unlock()

	if err := v.backend.SetTyping(conversationID, v.userID); err != nil {
		v.logger.Printf("Failed to set typing marker on %s: %v", conversationID, err)
	}
}

func (v *View) stopTypingTimerLocked() {
	v.typingSeq++
	if v.typingTimer != nil {
		v.typingTimer.Stop()
		v.typingTimer = nil
	}
}

func (v *View) typingExpired(seq uint64, conversationID string) {
	v.mu.Lock()
	current := seq == v.typingSeq
	if current {
		v.typingTimer = nil
	}
	v.mu.Unlock()
	if !current {
		return
	}
	if err := v.backend.ClearTyping(conversationID, v.userID); err != nil {
		v.logger.Printf("Failed to clear typing marker on %s: %v", conversationID, err)
	}
}

// Send appends the trimmed draft to the conversation. The draft is cleared
// only after the append succeeded; on failure it is kept so the user can
// retry.
func (v *View) Send() (*models.Message, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	draft := v.draft
	text := strings.TrimSpace(draft)
	partnerID := v.partnerID
	conversationID := v.conversationID
	gen := v.generation
	v.mu.Unlock()

	switch {
	case text == "":
		return nil, ErrEmptyMessage
	case partnerID == "":
		return nil, ErrNoPartner
	case v.userID == "":
		return nil, ErrNoUser
	}

	msg, err := v.backend.AppendMessage(v.userID, partnerID, text)
	if err != nil {
		v.logger.Printf("Failed to send message to %s: %v", conversationID, err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	v.mu.Lock()
	// Edits made during the append keep their own idle timer running.
	stillTyping := gen == v.generation && v.draft != draft
	if gen == v.generation && v.draft == draft {
		v.draft = ""
		v.stopTypingTimerLocked()
		v.emitLocked()
	}
	v.mu.Unlock()

	if !stillTyping {
		if err := v.backend.ClearTyping(conversationID, v.userID); err != nil {
			v.logger.Printf("Failed to clear typing marker on %s: %v", conversationID, err)
		}
	}
	return msg, nil
}

// Close tears the view down for good.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.teardownLocked()
	v.state = StateTornDown
	v.closed = true
	v.emitLocked()
}
