package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"livechat/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrSelfChat     = errors.New("a conversation needs two different participants")
)

type DB struct {
	*sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// A single connection serializes writers, so an append never races
	// another append for the next sequence number.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			photo TEXT,
			password TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			typing TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// User methods
func (db *DB) CreateUser(user *models.User) (*models.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := db.Exec(
		"INSERT INTO users (id, name, email, photo, password, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, nullString(user.Photo), user.Password, user.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

const userColumns = "id, name, email, photo, password, created_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		user  models.User
		photo sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &photo, &user.Password, &user.CreatedAt); err != nil {
		return nil, err
	}
	if photo.Valid {
		user.Photo = &photo.String
	}
	return &user, nil
}

func (db *DB) GetUserByID(id string) (*models.User, error) {
	user, err := scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

// GetUserByEmail is an exact-match point query.
func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	user, err := scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the profiles that exist among ids, ordered by name.
func (db *DB) GetUsersByIDs(ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := db.Query(
		"SELECT "+userColumns+" FROM users WHERE id IN ("+placeholders+") ORDER BY name COLLATE NOCASE, id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UpdateUserProfile changes the mutable profile fields. A nil photo keeps
// the stored one.
func (db *DB) UpdateUserProfile(id, name string, photo *string) (*models.User, error) {
	var err error
	if photo != nil {
		_, err = db.Exec("UPDATE users SET name = ?, photo = ? WHERE id = ?", name, *photo, id)
	} else {
		_, err = db.Exec("UPDATE users SET name = ? WHERE id = ?", name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return db.GetUserByID(id)
}

// Conversation methods

// EnsureConversation creates the record for the pair if it is missing. An
// existing record keeps its messages and typing marker.
func (db *DB) EnsureConversation(a, b string) (string, error) {
	if a == b {
		return "", ErrSelfChat
	}
	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := ensureConversation(tx, a, b)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func ensureConversation(tx *sql.Tx, a, b string) (string, error) {
	id := models.ConversationID(a, b)
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)", id, time.Now(),
	); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	for _, userID := range []string{a, b} {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)", id, userID,
		); err != nil {
			return "", fmt.Errorf("failed to add participant %s: %w", userID, err)
		}
	}
	return id, nil
}

// AppendMessage adds msg to the conversation between sender and recipient,
// creating the record first when it does not exist yet. Each message is its
// own row, so concurrent appends from both participants are all kept.
func (db *DB) AppendMessage(senderID, recipientID string, msg *models.Message) (*models.Message, error) {
	if senderID == recipientID {
		return nil, ErrSelfChat
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := ensureConversation(tx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	var seq int64
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?", id,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	msg.ConversationID = id
	msg.SenderID = senderID
	msg.Seq = seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, seq, sender_id, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Seq, msg.SenderID, msg.Text, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return msg, nil
}

// SetTyping overwrites the typing marker. Last writer wins.
func (db *DB) SetTyping(conversationID, userID string) error {
	if _, err := db.Exec("UPDATE conversations SET typing = ? WHERE id = ?", userID, conversationID); err != nil {
		return fmt.Errorf("failed to set typing marker: %w", err)
	}
	return nil
}

// ClearTyping removes the marker only while it still names userID.
func (db *DB) ClearTyping(conversationID, userID string) (bool, error) {
	result, err := db.Exec(
		"UPDATE conversations SET typing = NULL WHERE id = ? AND typing = ?", conversationID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear typing marker: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear typing marker: %w", err)
	}
	return n > 0, nil
}

// GetConversation returns the full record, or nil when it does not exist.
func (db *DB) GetConversation(id string) (*models.Conversation, error) {
	conv := &models.Conversation{ID: id}
	var typing sql.NullString
	err := db.QueryRow("SELECT typing, created_at FROM conversations WHERE id = ?", id).Scan(&typing, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	conv.Typing = typing.String

	if conv.Participants, err = db.participantIDs(id); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, conversation_id, seq, sender_id, text, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return conv, nil
}

// GetUserConversations is the membership query: every record whose
// participants contain userID. Messages are not loaded.
func (db *DB) GetUserConversations(userID string) ([]*models.Conversation, error) {
	rows, err := db.Query(`
		SELECT c.id, c.typing, c.created_at
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = ?
		ORDER BY c.created_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var typing sql.NullString
		if err := rows.Scan(&conv.ID, &typing, &conv.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Typing = typing.String
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	// The pool holds one connection; release it before the nested queries.
	rows.Close()

	for _, conv := range conversations {
		if conv.Participants, err = db.participantIDs(conv.ID); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (db *DB) participantIDs(conversationID string) ([]string, error) {
	rows, err := db.Query(
		"SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id", conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return ids, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
