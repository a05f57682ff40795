// Package history is the reference chat-persistence collaborator. The
// relay core treats chat as pass-through; this store keeps a copy of
// relayed messages so the portal can show recent conversation history
// when a consultation page reloads.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Message is one persisted chat message.
type Message struct {
	ID     int64  `json:"id"`
	RoomID string `json:"roomId"`
	Sender string `json:"sender"`
	Text   string `json:"message"`
	Time   string `json:"time"`
}

// Store persists chat messages in a local sqlite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	text TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	stored_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage records one relayed chat message. at is the client-supplied
// timestamp, kept as an opaque string; stored_at is our own clock.
func (s *Store) SaveMessage(roomID, sender, text, at string) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (room_id, sender, text, sent_at, stored_at) VALUES (?, ?, ?, ?, ?)`,
		roomID,
		sender,
		text,
		at,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentMessages returns up to limit messages for a room in
// chronological order. Unknown rooms yield an empty slice.
func (s *Store) RecentMessages(roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, room_id, sender, text, sent_at FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?`,
		roomID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Text, &m.Time); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Convert from DESC query order to chronological order.
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}
