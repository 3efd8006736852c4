// Package view turns chat state into what the page displays. Nothing here
// touches the network or the database.
package view

import (
	"time"

	"livechat/internal/models"
)

// DefaultPhoto is shown for profiles without a photo.
const DefaultPhoto = "/static/default-avatar.svg"

const timeOfDay = "15:04"

type ProfileHeaderView struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Photo   string `json:"photo"`
	Caption string `json:"caption"`
}

type ContactRowView struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Photo    string `json:"photo"`
	Selected bool   `json:"selected"`
}

type BubbleView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Outgoing bool   `json:"outgoing"`
	Align    string `json:"align"`
	Class    string `json:"class"`
	Time     string `json:"time"`
}

func photoOf(u models.User) string {
	if u.Photo == nil || *u.Photo == "" {
		return DefaultPhoto
	}
	return *u.Photo
}

// ProfileHeader describes the partner at the top of the conversation pane.
// Typing takes precedence over presence.
func ProfileHeader(user models.User, online, typing bool) ProfileHeaderView {
	caption := ""
	switch {
	case typing:
		caption = "typing..."
	case online:
		caption = "online"
	}
	name := user.Name
	if name == "" {
		name = user.Email
	}
	return ProfileHeaderView{UserID: user.ID, Name: name, Photo: photoOf(user), Caption: caption}
}

func ContactRow(user models.User, selectedID string) ContactRowView {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	return ContactRowView{
		UserID:   user.ID,
		Name:     name,
		Email:    user.Email,
		Photo:    photoOf(user),
		Selected: selectedID != "" && user.ID == selectedID,
	}
}

func ContactRows(users []models.User, selectedID string) []ContactRowView {
	rows := make([]ContactRowView, 0, len(users))
	for _, u := range users {
		rows = append(rows, ContactRow(u, selectedID))
	}
	return rows
}

// Bubble lays out one message. Messages sent by currentUserID sit on the
// right; loc selects the zone the time is shown in, nil meaning local time.
func Bubble(msg models.Message, currentUserID string, loc *time.Location) BubbleView {
	if loc == nil {
		loc = time.Local
	}
	b := BubbleView{
		ID:   msg.ID,
		Text: msg.Text,
		Time: msg.CreatedAt.In(loc).Format(timeOfDay),
	}
	if msg.SenderID == currentUserID {
		b.Outgoing = true
		b.Align = "right"
		b.Class = "bubble-outgoing"
	} else {
		b.Align = "left"
		b.Class = "bubble-incoming"
	}
	return b
}

func Bubbles(msgs []models.Message, currentUserID string, loc *time.Location) []BubbleView {
	out := make([]BubbleView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Bubble(m, currentUserID, loc))
	}
	return out
}
