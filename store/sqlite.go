package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"concierge/config"
)

// SQLiteStore is the durable Store backend for deployments that should
// survive a restart. Expired conversations are filtered out of every query
// and removed by a periodic sweep. Turn reservations stay in memory: they
// guard a single process's streaming loop, not the database.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration

	turnMu sync.Mutex
	inTurn map[string]bool

	stop chan struct{}
	once sync.Once
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	timestamp       INTEGER NOT NULL,
	tool_uses       TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		ttl:    ttl,
		inTurn: make(map[string]bool),
		stop:   make(chan struct{}),
	}

	go s.sweep()
	return s, nil
}

func (s *SQLiteStore) Create(userID string, role config.Role) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, user_id, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, string(conv.Role), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

func (s *SQLiteStore) Get(id, userID string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, role, created_at, updated_at FROM conversations
		 WHERE id = ? AND user_id = ? AND updated_at > ?`,
		id, userID, s.cutoff(),
	)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := s.loadMessages(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) ListForUser(userID string, roleFilter config.Role, limit int) ([]*Conversation, error) {
	query := `SELECT id, user_id, role, created_at, updated_at FROM conversations
	          WHERE user_id = ? AND updated_at > ?`
	args := []any{userID, s.cutoff()}
	if roleFilter != "" {
		query += ` AND role = ?`
		args = append(args, string(roleFilter))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if err := s.loadMessages(conv); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Append(id string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	var toolUses []byte
	if len(msg.ToolUses) > 0 {
		var err error
		toolUses, err = json.Marshal(msg.ToolUses)
		if err != nil {
			return fmt.Errorf("failed to encode tool uses: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(
		`SELECT 1 FROM conversations WHERE id = ? AND updated_at > ?`, id, s.cutoff(),
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, seq, role, content, timestamp, tool_uses)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)`,
		msg.ID, id, id, msg.Role, msg.Content, msg.Timestamp.UnixMilli(), toolUses,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now.UnixMilli(), id); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(id, userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BeginTurn(id string) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if s.inTurn[id] {
		return ErrTurnInProgress
	}
	s.inTurn[id] = true
	return nil
}

func (s *SQLiteStore) EndTurn(id string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	delete(s.inTurn, id)
}

func (s *SQLiteStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.db.Close()
}

func (s *SQLiteStore) cutoff() int64 {
	return time.Now().UTC().Add(-s.ttl).UnixMilli()
}

func (s *SQLiteStore) sweep() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := s.cutoff()
			if _, err := s.db.Exec(
				`DELETE FROM messages WHERE conversation_id IN
				 (SELECT id FROM conversations WHERE updated_at <= ?)`, cutoff,
			); err != nil {
				continue
			}
			s.db.Exec(`DELETE FROM conversations WHERE updated_at <= ?`, cutoff)
		}
	}
}

func (s *SQLiteStore) loadMessages(conv *Conversation) error {
	rows, err := s.db.Query(
		`SELECT id, role, content, timestamp, tool_uses FROM messages
		 WHERE conversation_id = ? ORDER BY seq`, conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var ts int64
		var toolUses sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &ts, &toolUses); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ts).UTC()
		if toolUses.Valid && toolUses.String != "" {
			if err := json.Unmarshal([]byte(toolUses.String), &msg.ToolUses); err != nil {
				return fmt.Errorf("failed to decode tool uses: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var role string
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.UserID, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Role = config.Role(role)
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &conv, nil
}
