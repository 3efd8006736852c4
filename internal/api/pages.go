package api

import (
	"errors"
	"net/http"

	"livechat/internal/view"
)

func (h *Handlers) render(w http.ResponseWriter, status int, page string, data view.PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.renderer.RenderTemplate(w, page, data); err != nil {
		h.logger.Printf("Failed to render %s: %v", page, err)
	}
}

func (h *Handlers) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if user, _ := h.identify(r); user != nil {
			http.Redirect(w, r, "/chats", http.StatusSeeOther)
			return
		}
		h.render(w, http.StatusOK, "login.html", view.PageData{Title: "Sign in"})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	user, err := h.auth.SignIn(email, r.FormValue("password"))
	if err != nil {
		status, message := authFailure(err)
		h.render(w, status, "login.html", view.PageData{Title: "Sign in", Notice: message, Email: email})
		return
	}
	if _, err := h.startSession(w, r, user); err != nil {
		h.logger.Printf("Failed to start session for %s: %v", user.ID, err)
		h.render(w, http.StatusInternalServerError, "login.html", view.PageData{Title: "Sign in", Notice: "Please try again"})
		return
	}
	http.Redirect(w, r, "/chats", http.StatusSeeOther)
}

func (h *Handlers) HandleSignupPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.render(w, http.StatusOK, "signup.html", view.PageData{Title: "Sign up"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	photo, err := h.photoFromForm(r)
	if err != nil {
		h.logger.Printf("Photo upload rejected for %s: %v", email, err)
		h.render(w, http.StatusBadRequest, "signup.html", view.PageData{Title: "Sign up", Notice: photoFailure(err), Email: email})
		return
	}
	user, err := h.auth.SignUp(email, r.FormValue("password"), r.FormValue("name"), photo)
	if err != nil {
		status, message := authFailure(err)
		h.render(w, status, "signup.html", view.PageData{Title: "Sign up", Notice: message, Email: email})
		return
	}
	if _, err := h.startSession(w, r, user); err != nil {
		h.logger.Printf("Failed to start session for %s: %v", user.ID, err)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/chats", http.StatusSeeOther)
}

func (h *Handlers) HandleLogoutPage(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handlers) HandleChatsPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "chats.html", view.ChatsPage(*userFrom(r)))
}
