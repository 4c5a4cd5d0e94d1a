package store

import (
	"database/sql"
	"time"
)

const conversationColumns = `
	c.id, c.counterparty_id,
	COALESCE(NULLIF(c.display_name,''), NULLIF(ct.name,''), NULLIF(ct.profile_name,''), c.counterparty_id) AS display_name,
	c.status, c.unread_count, c.last_message_at, c.last_message_preview, c.service_window_expiry`

// UpsertConversation inserts or updates a conversation's identity fields.
// Counters, preview and window expiry are owned by the Record* operations
// and left untouched on conflict.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, counterparty_id, display_name, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counterparty_id = excluded.counterparty_id,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END,
			updated_at = excluded.updated_at`,
		c.ID, c.CounterpartyID, c.DisplayName, orDefault(c.Status, ConversationOpen), now)
	return err
}

// RecordInbound applies an inbound message's effect on its conversation:
// create on first contact, bump last-message fields, increment unread,
// extend the service window (never backdated) and reopen a closed or
// pending conversation.
func (db *DB) RecordInbound(id, counterpartyID string, ts int64, preview string, windowExpiry int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations
			(id, counterparty_id, status, unread_count, last_message_at, last_message_preview, service_window_expiry, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = ?,
			unread_count = conversations.unread_count + 1,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			service_window_expiry = MAX(COALESCE(conversations.service_window_expiry, 0), excluded.service_window_expiry),
			updated_at = excluded.updated_at`,
		id, counterpartyID, ConversationOpen, ts, preview, windowExpiry, now, ConversationOpen)
	return err
}

// RecordOutbound applies an outbound message's effect on its conversation:
// bump last-message fields only. The window is granted by inbound traffic
// exclusively.
func (db *DB) RecordOutbound(id string, ts int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			updated_at = ?
		WHERE id = ?`,
		ts, ts, preview, now, id)
	return err
}

// ListConversations returns conversations sorted by last message timestamp
// descending. Display names fall back through the contacts table to the raw
// counterparty id.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT`+conversationColumns+`
		FROM conversations c
		LEFT JOIN contacts ct ON c.counterparty_id = ct.counterparty_id
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT`+conversationColumns+`
		FROM conversations c
		LEFT JOIN contacts ct ON c.counterparty_id = ct.counterparty_id
		WHERE c.id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetConversationStatus sets the operator-facing status (open/pending/closed).
func (db *DB) SetConversationStatus(id, status string) error {
	_, err := db.Exec(`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	return err
}

// MarkConversationRead zeroes the unread counter.
func (db *DB) MarkConversationRead(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var expiry sql.NullInt64
	if err := row.Scan(&c.ID, &c.CounterpartyID, &c.DisplayName, &c.Status,
		&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &expiry); err != nil {
		return nil, err
	}
	if expiry.Valid {
		c.ServiceWindowExpiry = &expiry.Int64
	}
	return &c, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
