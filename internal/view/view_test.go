package view

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"livechat/internal/models"
)

func TestProfileHeaderCaption(t *testing.T) {
	photo := "data:image/jpeg;base64,AAAA"
	tests := []struct {
		name    string
		user    models.User
		online  bool
		typing  bool
		caption string
		photo   string
	}{
		{"offline", models.User{ID: "u2", Name: "Bob"}, false, false, "", DefaultPhoto},
		{"online", models.User{ID: "u2", Name: "Bob", Photo: &photo}, true, false, "online", photo},
		{"typing wins", models.User{ID: "u2", Name: "Bob"}, true, true, "typing...", DefaultPhoto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ProfileHeader(tt.user, tt.online, tt.typing)
			if h.Caption != tt.caption || h.Photo != tt.photo || h.Name != "Bob" {
				t.Errorf("ProfileHeader = %+v", h)
			}
		})
	}

	if h := ProfileHeader(models.User{Email: "x@example.com"}, false, false); h.Name != "x@example.com" {
		t.Errorf("nameless profile shown as %q", h.Name)
	}
}

func TestContactRowSelection(t *testing.T) {
	users := []models.User{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	rows := ContactRows(users, "b")
	if rows[0].Selected || !rows[1].Selected {
		t.Errorf("selection = %v/%v", rows[0].Selected, rows[1].Selected)
	}
	if ContactRow(users[0], "").Selected {
		t.Errorf("row selected without a selection")
	}
}

func TestBubbleAlignment(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	out := Bubble(models.Message{ID: "m1", SenderID: "u1", Text: "hi", CreatedAt: at}, "u1", time.UTC)
	if !out.Outgoing || out.Align != "right" || out.Class != "bubble-outgoing" || out.Time != "09:05" {
		t.Errorf("outgoing bubble = %+v", out)
	}
	in := Bubble(models.Message{SenderID: "u2", Text: "yo", CreatedAt: at}, "u1", time.FixedZone("X", 2*3600))
	if in.Outgoing || in.Align != "left" || in.Time != "11:05" {
		t.Errorf("incoming bubble = %+v", in)
	}
	if got := Bubbles(nil, "u1", nil); got == nil || len(got) != 0 {
		t.Errorf("Bubbles(nil) = %#v", got)
	}
}

func TestRenderPages(t *testing.T) {
	pr, err := NewPageRenderer(Pages)
	if err != nil {
		t.Fatalf("NewPageRenderer: %v", err)
	}

	var buf bytes.Buffer
	if err := pr.RenderTemplate(&buf, "login.html", PageData{Title: "Sign in", Notice: "invalid email or password", Email: "a@b.com"}); err != nil {
		t.Fatalf("render login: %v", err)
	}
	for _, want := range []string{`action="/login"`, "invalid email or password", `value="a@b.com"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("login page lacks %q", want)
		}
	}

	buf.Reset()
	if err := pr.RenderTemplate(&buf, "chats.html", ChatsPage(models.User{ID: "u1", Name: "<Ann>"})); err != nil {
		t.Fatalf("render chats: %v", err)
	}
	if !strings.Contains(buf.String(), "&lt;Ann&gt;") || !strings.Contains(buf.String(), DefaultPhoto) {
		t.Errorf("chats page not rendered as expected")
	}

	if err := pr.RenderTemplate(&buf, "missing.html", nil); err == nil {
		t.Errorf("rendered an unknown page")
	}
}
