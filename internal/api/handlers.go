package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"

	"livechat/internal/auth"
	"livechat/internal/config"
	"livechat/internal/directory"
	"livechat/internal/docstore"
	"livechat/internal/imaging"
	"livechat/internal/models"
	"livechat/internal/session"
	"livechat/internal/view"
	"livechat/internal/websocket"
)

const (
	authCookieName = "auth_token"
	authCookieAge  = 60 * 60 * 24 * 30
	maxUploadBytes = 10 << 20
)

type Handlers struct {
	store     *docstore.Store
	auth      *auth.Service
	sessions  *session.Store
	directory *directory.Directory
	hub       *websocket.Hub
	renderer  *view.PageRenderer
	cfg       *config.Config
	logger    *log.Logger
	upgrader  gorilla.Upgrader
}

func NewHandlers(cfg *config.Config, store *docstore.Store, authService *auth.Service, sessions *session.Store,
	dir *directory.Directory, hub *websocket.Hub, renderer *view.PageRenderer) *Handlers {
	h := &Handlers{
		store:     store,
		auth:      authService,
		sessions:  sessions,
		directory: dir,
		hub:       hub,
		renderer:  renderer,
		cfg:       cfg,
		logger:    log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile),
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts same-host pages and the configured frontend.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == h.cfg.AllowedOrigin {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Auth handlers

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	var photo *string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form")
			return
		}
		req = models.RegisterRequest{
			Name:     r.FormValue("name"),
			Email:    r.FormValue("email"),
			Password: r.FormValue("password"),
		}
		var err error
		if photo, err = h.photoFromForm(r); err != nil {
			h.logger.Printf("Photo upload rejected for %s: %v", req.Email, err)
			writeError(w, http.StatusBadRequest, photoFailure(err))
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.auth.SignUp(req.Email, req.Password, req.Name, photo)
	if err != nil {
		status, message := authFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.Printf("Sign-up failed for %s: %v", req.Email, err)
		}
		writeError(w, status, message)
		return
	}
	h.completeLogin(w, r, user, http.StatusCreated)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.auth.SignIn(req.Email, req.Password)
	if err != nil {
		status, message := authFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.Printf("Sign-in failed for %s: %v", req.Email, err)
		}
		writeError(w, status, message)
		return
	}
	h.completeLogin(w, r, user, http.StatusOK)
}

// completeLogin issues the bearer token and starts the browser session.
func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, err := h.startSession(w, r, user)
	if err != nil {
		h.logger.Printf("Failed to start session for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, status, models.LoginResponse{Token: token, User: user.Public()})
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user *models.User) (string, error) {
	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		return "", err
	}
	s := h.sessions.Load(r)
	s.Login(*user)
	if err := h.sessions.Save(w, r, s); err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   authCookieAge,
	})
	return token, nil
}

func (h *Handlers) endSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Load(r)
	s.Logout()
	if err := h.sessions.Save(w, r, s); err != nil {
		h.logger.Printf("Failed to clear session: %v", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	user, _ := h.identify(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "Email already registered"
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// User handlers

// HandleFindUser looks up a new contact by exact email. Known contacts and
// the caller are not returned.
func (h *Handlers) HandleFindUser(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if !directory.IsEmail(email) {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	contacts, err := h.contactsOf(user.ID)
	if err != nil {
		h.logger.Printf("Failed to load contacts for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to search users")
		return
	}
	found, err := h.directory.FindByEmail(user.ID, email, contacts)
	if err != nil {
		h.logger.Printf("Lookup of %s failed: %v", email, err)
		writeError(w, http.StatusInternalServerError, "Failed to search users")
		return
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "No new contact with that email")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handlers) contactsOf(userID string) ([]models.User, error) {
	convs, err := h.store.UserConversations(userID)
	if err != nil {
		return nil, err
	}
	return h.directory.Contacts(userID, convs)
}

func (h *Handlers) HandleContacts(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	contacts, err := h.contactsOf(user.ID)
	if err != nil {
		h.logger.Printf("Failed to load contacts for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch contacts")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

var errPhotoUpload = errors.New("invalid photo upload")

// photoFromForm compresses the optional "photo" file of a parsed multipart
// form. A missing file yields nil.
func (h *Handlers) photoFromForm(r *http.Request) (*string, error) {
	file, _, err := r.FormFile("photo")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", errPhotoUpload, err)
	}
	defer file.Close()

	ref, err := imaging.Process(file, imaging.Options{
		MaxBytes:     h.cfg.PhotoMaxBytes,
		MaxDimension: h.cfg.PhotoMaxDim,
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func photoFailure(err error) string {
	if errors.Is(err, errPhotoUpload) {
		return "Invalid photo upload"
	}
	return "The photo could not be processed"
}

// HandleUpdateProfile accepts a multipart form with an optional name and an
// optional photo. A photo that cannot be processed aborts the update and
// the stored photo is kept.
func (h *Handlers) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = user.Name
	}

	photo, err := h.photoFromForm(r)
	if err != nil {
		h.logger.Printf("Photo upload rejected for %s: %v", user.ID, err)
		writeError(w, http.StatusBadRequest, photoFailure(err))
		return
	}

	updated, err := h.store.UpdateProfile(user.ID, name, photo)
	if err != nil {
		h.logger.Printf("Profile update failed for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

// Conversation handlers

func (h *Handlers) HandleStartConversation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req models.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PartnerID == "" {
		writeError(w, http.StatusBadRequest, "partner_id is required")
		return
	}
	if req.PartnerID == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot start a conversation with yourself")
		return
	}

	id, err := h.directory.StartChat(user.ID, req.PartnerID)
	if err != nil {
		h.logger.Printf("Start conversation failed: %v", err)
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}

	s := sessionFrom(r)
	s.SelectPartner(req.PartnerID)
	if err := h.sessions.Save(w, r, s); err != nil {
		h.logger.Printf("Failed to save session: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}

func (h *Handlers) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	partnerID := mux.Vars(r)["partnerID"]

	conv, err := h.store.GetConversation(models.ConversationID(user.ID, partnerID))
	if err != nil {
		h.logger.Printf("Failed to fetch conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if conv == nil || !conv.HasParticipant(user.ID) {
		conv = &models.Conversation{
			ID:           models.ConversationID(user.ID, partnerID),
			Participants: []string{user.ID, partnerID},
		}
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	partnerID := mux.Vars(r)["partnerID"]

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Message is empty")
		return
	}
	if partnerID == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot message yourself")
		return
	}
	if _, err := h.store.GetUser(partnerID); err != nil {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}

	msg, err := h.store.AppendMessage(user.ID, partnerID, text)
	if err != nil {
		h.logger.Printf("Failed to save message: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	if err := h.store.ClearTyping(msg.ConversationID, user.ID); err != nil {
		h.logger.Printf("Failed to clear typing marker: %v", err)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleSelectPartner records the selected partner in the browser session.
func (h *Handlers) HandleSelectPartner(w http.ResponseWriter, r *http.Request) {
	var req models.SelectPartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s := sessionFrom(r)
	if !s.SelectPartner(req.PartnerID) {
		writeError(w, http.StatusBadRequest, "Invalid partner")
		return
	}
	if err := h.sessions.Save(w, r, s); err != nil {
		h.logger.Printf("Failed to save session: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebSocket handler
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.logger.Printf("WebSocket connection attempt from %s", r.RemoteAddr)
	user := userFrom(r)
	partnerID := sessionFrom(r).SelectedPartner()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Failed to upgrade connection: %v", err)
		return
	}
	h.logger.Printf("WebSocket authenticated for user: %s (ID: %s)", user.Email, user.ID)
	h.hub.Serve(conn, *user, partnerID)
}
