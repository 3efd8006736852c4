package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"livechat/internal/view"
)

// NewRouter wires every page and API route.
func (h *Handlers) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequest(h.logger))
	r.Use(h.WithCORS)

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", view.StaticHandler()))

	// Pages
	r.HandleFunc("/login", h.HandleLoginPage).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/signup", h.HandleSignupPage).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/logout", h.HandleLogoutPage).Methods(http.MethodPost)
	r.Handle("/chats", h.WithPageAuth(http.HandlerFunc(h.HandleChatsPage))).Methods(http.MethodGet)

	// Auth endpoints
	authAPI := r.PathPrefix("/api/auth").Subrouter()
	authAPI.HandleFunc("/register", h.HandleRegister).Methods(http.MethodPost)
	authAPI.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	authAPI.HandleFunc("/logout", h.HandleLogout).Methods(http.MethodPost)
	authAPI.HandleFunc("/verify", h.HandleVerify).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.WithAuth)
	api.HandleFunc("/users", h.HandleFindUser).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.HandleUpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/contacts", h.HandleContacts).Methods(http.MethodGet)
	api.HandleFunc("/conversations/start", h.HandleStartConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{partnerID}/messages", h.HandleGetMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{partnerID}/messages", h.HandleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/session/partner", h.HandleSelectPartner).Methods(http.MethodPut)

	r.Handle("/ws", h.WithAuth(http.HandlerFunc(h.HandleWebSocket)))

	// Anything else lands on the chats page.
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/chats", http.StatusFound)
	})
	return r
}
