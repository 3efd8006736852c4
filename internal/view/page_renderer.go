package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"livechat/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Pages maps each page to the files it is parsed from; the first file holds
// the layout the rest plug into.
var Pages = map[string][]string{
	"login.html":  {"templates/layout.html", "templates/login.html"},
	"signup.html": {"templates/layout.html", "templates/signup.html"},
	"chats.html":  {"templates/layout.html", "templates/chats.html"},
}

// PageRenderer renders web pages through a set of templates
type PageRenderer struct {
	templates map[string]*template.Template
}

// NewPageRenderer parses every page of tmplMap from the embedded templates.
func NewPageRenderer(tmplMap map[string][]string) (*PageRenderer, error) {
	templates := make(map[string]*template.Template)
	for name, files := range tmplMap {
		t, err := template.New(name).ParseFS(templateFS, files...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		templates[name] = t
	}
	return &PageRenderer{templates: templates}, nil
}

// RenderTemplate renders the page with the given name. It returns an error if
// the page is unknown.
func (pr *PageRenderer) RenderTemplate(wr io.Writer, name string, data any) error {
	t, ok := pr.templates[name]
	if !ok {
		return fmt.Errorf("template is missing: %s", name)
	}
	return t.ExecuteTemplate(wr, "layout", data)
}

// StaticHandler serves the embedded stylesheet, script and images.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// PageData is what every page template receives.
type PageData struct {
	Title  string
	Notice string
	Email  string
	User   *models.User
	// Photo is the signed-in user's photo; data URLs produced by the
	// imaging package are trusted.
	Photo template.URL
}

// ChatsPage builds the data for the chats page of user.
func ChatsPage(user models.User) PageData {
	return PageData{Title: "Chats", User: &user, Photo: template.URL(photoOf(user))}
}
