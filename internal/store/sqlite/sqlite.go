package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/consultly/rtc-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	last_message    TEXT NOT NULL DEFAULT '',
	last_sender_key TEXT NOT NULL DEFAULT '',
	last_message_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id  TEXT NOT NULL,
	participant_id   TEXT NOT NULL,
	participant_type TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	avatar           TEXT NOT NULL DEFAULT '',
	unread           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, participant_id, participant_type)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_type     TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	recipient_id    TEXT NOT NULL,
	recipient_type  TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'text',
	media_url       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'sent',
	sent_at         DATETIME NOT NULL,
	delivered_at    DATETIME,
	read_at         DATETIME
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, id DESC);

CREATE TABLE IF NOT EXISTS calls (
	id             TEXT PRIMARY KEY,
	caller_id      TEXT NOT NULL,
	caller_type    TEXT NOT NULL,
	caller_name    TEXT NOT NULL DEFAULT '',
	recipient_id   TEXT NOT NULL,
	recipient_type TEXT NOT NULL,
	medium         TEXT NOT NULL,
	channel        TEXT NOT NULL,
	status         TEXT NOT NULL,
	end_reason     TEXT NOT NULL DEFAULT '',
	duration       INTEGER NOT NULL DEFAULT 0,
	initiated_at   DATETIME NOT NULL,
	ringing_at     DATETIME,
	accepted_at    DATETIME,
	connected_at   DATETIME,
	ended_at       DATETIME
);

CREATE TABLE IF NOT EXISTS stream_comments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id   TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_type TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	is_gift     BOOLEAN NOT NULL DEFAULT 0,
	gift_type   TEXT NOT NULL DEFAULT '',
	gift_value  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ConversationStore implementation ====

// CreateConversation durably creates a conversation with its initial
// participants in one transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?)`,
		conv.ID, conv.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants
				(conversation_id, participant_id, participant_type, name, avatar)
			 VALUES (?, ?, ?, ?, ?)`,
			conv.ID, p.ID, p.Type, p.Name, p.Avatar,
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// GetConversation retrieves a conversation with its participants.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	var lastAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, last_message, last_sender_key, last_message_at, created_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.LastMessage, &conv.LastSenderKey, &lastAt, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if lastAt.Valid {
		conv.LastMessageAt = lastAt.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id, participant_type, name, avatar
		 FROM conversation_participants WHERE conversation_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p store.ParticipantRef
		if err := rows.Scan(&p.ID, &p.Type, &p.Name, &p.Avatar); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		conv.Participants = append(conv.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return &conv, nil
}

// AddConversationParticipant adds a participant if absent.
func (s *SQLiteStore) AddConversationParticipant(ctx context.Context, convID string, p store.ParticipantRef) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_participants
			(conversation_id, participant_id, participant_type, name, avatar)
		 VALUES (?, ?, ?, ?, ?)`,
		convID, p.ID, p.Type, p.Name, p.Avatar)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// UpdateLastMessage updates the denormalized preview fields.
func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, convID, preview, senderKey string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message = ?, last_sender_key = ?, last_message_at = ?
		 WHERE id = ?`,
		preview, senderKey, at, convID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

// IncrementUnread bumps a participant's unread counter.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, convID, participantID, participantType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_participants SET unread = unread + 1
		 WHERE conversation_id = ? AND participant_id = ? AND participant_type = ?`,
		convID, participantID, participantType)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

// ResetUnread zeroes a participant's unread counter.
func (s *SQLiteStore) ResetUnread(ctx context.Context, convID, participantID, participantType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_participants SET unread = 0
		 WHERE conversation_id = ? AND participant_id = ? AND participant_type = ?`,
		convID, participantID, participantType)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and fills in its id.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = store.MessageSent
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
			(conversation_id, sender_id, sender_type, sender_name,
			 recipient_id, recipient_type, content, type, media_url, status, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.SenderID, msg.SenderType, msg.SenderName,
		msg.RecipientID, msg.RecipientType, msg.Content, msg.Type,
		msg.MediaURL, msg.Status, msg.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, sender_type, sender_name,
		        recipient_id, recipient_type, content, type, media_url,
		        status, sent_at, delivered_at, read_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ListMessages retrieves a page of messages newest-first.
func (s *SQLiteStore) ListMessages(ctx context.Context, convID string, limit, offset int) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, sender_type, sender_name,
		        recipient_id, recipient_type, content, type, media_url,
		        status, sent_at, delivered_at, read_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY id DESC
		 LIMIT ? OFFSET ?`,
		convID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// MarkMessageDelivered stamps the message delivered unless it has
// already progressed further.
func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, delivered_at = ?
		 WHERE id = ? AND status = ?`,
		store.MessageDelivered, at, id, store.MessageSent)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkMessageRead stamps the message read if not already read.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, read_at = ?
		 WHERE id = ? AND status != ?`,
		store.MessageRead, at, id, store.MessageRead)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var delivered, read sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderType, &msg.SenderName,
		&msg.RecipientID, &msg.RecipientType, &msg.Content, &msg.Type, &msg.MediaURL,
		&msg.Status, &msg.SentAt, &delivered, &read,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if delivered.Valid {
		msg.DeliveredAt = &delivered.Time
	}
	if read.Valid {
		msg.ReadAt = &read.Time
	}
	return &msg, nil
}

// ==== CallStore implementation ====

// CreateCall persists a new call record.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls
			(id, caller_id, caller_type, caller_name, recipient_id, recipient_type,
			 medium, channel, status, end_reason, duration, initiated_at,
			 ringing_at, accepted_at, connected_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.CallerID, call.CallerType, call.CallerName,
		call.RecipientID, call.RecipientType, call.Medium, call.Channel,
		call.Status, call.EndReason, call.Duration, call.InitiatedAt,
		call.RingingAt, call.AcceptedAt, call.ConnectedAt, call.EndedAt)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// GetCall retrieves a call by id.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.Call, error) {
	var call store.Call
	var ringing, accepted, connected, ended sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, caller_id, caller_type, caller_name, recipient_id, recipient_type,
		        medium, channel, status, end_reason, duration, initiated_at,
		        ringing_at, accepted_at, connected_at, ended_at
		 FROM calls WHERE id = ?`, id,
	).Scan(
		&call.ID, &call.CallerID, &call.CallerType, &call.CallerName,
		&call.RecipientID, &call.RecipientType, &call.Medium, &call.Channel,
		&call.Status, &call.EndReason, &call.Duration, &call.InitiatedAt,
		&ringing, &accepted, &connected, &ended,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	if ringing.Valid {
		call.RingingAt = &ringing.Time
	}
	if accepted.Valid {
		call.AcceptedAt = &accepted.Time
	}
	if connected.Valid {
		call.ConnectedAt = &connected.Time
	}
	if ended.Valid {
		call.EndedAt = &ended.Time
	}
	return &call, nil
}

// UpdateCall writes back the mutable call fields.
func (s *SQLiteStore) UpdateCall(ctx context.Context, call *store.Call) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls
		 SET status = ?, end_reason = ?, duration = ?,
		     ringing_at = ?, accepted_at = ?, connected_at = ?, ended_at = ?
		 WHERE id = ?`,
		call.Status, call.EndReason, call.Duration,
		call.RingingAt, call.AcceptedAt, call.ConnectedAt, call.EndedAt,
		call.ID)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	return nil
}

// ==== StreamStore implementation ====

// SaveStreamComment persists a comment or gift and fills in its id.
func (s *SQLiteStore) SaveStreamComment(ctx context.Context, c *store.StreamComment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_comments
			(stream_id, sender_id, sender_type, sender_name, body,
			 is_gift, gift_type, gift_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.StreamID, c.SenderID, c.SenderType, c.SenderName, c.Body,
		c.IsGift, c.GiftType, c.GiftValue, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stream comment: %w", err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements store.Store.
var _ store.Store = (*SQLiteStore)(nil)
