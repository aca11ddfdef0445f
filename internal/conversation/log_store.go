package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogEntry is one audited turn: what the patient wrote and what the bot
// answered. Append-only; the backoffice reads it, nothing mutates it.
type LogEntry struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	UserKey   string    `json:"user_key"`
	UserText  string    `json:"user_text"`
	BotReply  string    `json:"bot_reply"`
	Status    string    `json:"status"`
	Handoff   bool      `json:"handoff"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactRecord is a stored human-handoff request.
type ContactRecord struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	UserKey   string    `json:"user_key"`
	Text      string    `json:"text"`
	Urgent    bool      `json:"urgent"`
	CreatedAt time.Time `json:"created_at"`
}

// LogStore persists conversation_logs and contact_requests.
type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	if db == nil {
		panic("conversation: sql db required")
	}
	return &LogStore{db: db}
}

// AppendTurn writes one audit row for a processed inbound event.
func (s *LogStore) AppendTurn(ctx context.Context, e LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_logs (channel, user_key, user_text, bot_reply, status, handoff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		e.Channel, e.UserKey, e.UserText, e.BotReply, e.Status, e.Handoff)
	if err != nil {
		return fmt.Errorf("conversation: append turn: %w", err)
	}
	return nil
}

// RecordContactRequest stores an escalation for the staff queue.
func (s *LogStore) RecordContactRequest(ctx context.Context, r ContactRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_requests (channel, user_key, text, urgent, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		r.Channel, r.UserKey, r.Text, r.Urgent)
	if err != nil {
		return fmt.Errorf("conversation: record contact request: %w", err)
	}
	return nil
}

// RecentLogs lists the newest turns for the backoffice, optionally filtered
// by channel.
func (s *LogStore) RecentLogs(ctx context.Context, channel string, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, user_key, user_text, bot_reply, status, handoff, created_at
		FROM conversation_logs
		WHERE ($1 = '' OR channel = $1)
		ORDER BY created_at DESC
		LIMIT $2`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list logs: %w", err)
	}
	defer rows.Close()

	out := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Channel, &e.UserKey, &e.UserText, &e.BotReply, &e.Status, &e.Handoff, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PendingContactRequests lists open escalations, urgent first.
func (s *LogStore) PendingContactRequests(ctx context.Context, limit int) ([]ContactRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, user_key, text, urgent, created_at
		FROM contact_requests
		ORDER BY urgent DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list contact requests: %w", err)
	}
	defer rows.Close()

	out := []ContactRecord{}
	for rows.Next() {
		var r ContactRecord
		if err := rows.Scan(&r.ID, &r.Channel, &r.UserKey, &r.Text, &r.Urgent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan contact request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
