package directory

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"livechat/internal/models"
)

const DefaultSearchDebounce = 500 * time.Millisecond

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func IsEmail(term string) bool {
	return emailPattern.MatchString(term)
}

// SearchResult is what the search box shows for Term: the contacts whose
// name matches, and a new contact found by email when there is one.
type SearchResult struct {
	Term    string
	Matches []models.User
	Found   *models.User
	Err     error
}

// Searcher debounces a search box. Every keystroke restarts the timer; when
// it fires, local contacts are filtered and, for an email that matches no
// contact, exactly one lookup is made.
type Searcher struct {
	dir      *Directory
	userID   string
	email    string
	debounce time.Duration
	contacts func() []models.User
	onResult func(SearchResult)

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
	done  bool
}

// NewSearcher builds a searcher for the signed-in user. contacts returns the
// current contact list; onResult is called from the timer goroutine.
func NewSearcher(dir *Directory, user models.User, debounce time.Duration, contacts func() []models.User, onResult func(SearchResult)) *Searcher {
	if debounce <= 0 {
		debounce = DefaultSearchDebounce
	}
	return &Searcher{
		dir:      dir,
		userID:   user.ID,
		email:    user.Email,
		debounce: debounce,
		contacts: contacts,
		onResult: onResult,
	}
}

// Search records the latest term.
func (s *Searcher) Search(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.stopLocked()
	seq := s.seq
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(seq, term) })
}

func (s *Searcher) stopLocked() {
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Searcher) fire(seq uint64, term string) {
	s.mu.Lock()
	if seq != s.seq || s.done {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	result := s.lookup(term)

	s.mu.Lock()
	current := seq == s.seq && !s.done
	s.mu.Unlock()
	if current {
		s.onResult(result)
	}
}

func (s *Searcher) lookup(term string) SearchResult {
	term = strings.TrimSpace(term)
	contacts := s.contacts()
	result := SearchResult{Term: term, Matches: Filter(contacts, term)}
	if !IsEmail(term) || strings.EqualFold(term, s.email) {
		return result
	}
	for _, c := range contacts {
		if strings.EqualFold(c.Email, term) {
			result.Matches = []models.User{c}
			return result
		}
	}
	result.Found, result.Err = s.dir.FindByEmail(s.userID, term, contacts)
	if result.Err != nil {
		s.dir.logger.Printf("Search for %s failed: %v", term, result.Err)
	}
	return result
}

// Stop cancels a pending search. Later calls to Search are ignored.
func (s *Searcher) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.done = true
}
