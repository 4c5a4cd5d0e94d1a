package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const messageColumns = `
	id, conversation_id, COALESCE(client_id, ''), COALESCE(external_id, ''),
	direction, message_type, body, content, status, timestamp,
	COALESCE(reply_to_external_id, ''), error_message`

// InsertOutbound inserts a new outbound message keyed by its client id.
// Every send, including a resend of a failed message, creates a new row;
// failed rows are never mutated back into flight.
func (db *DB) InsertOutbound(m *Message) error {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, client_id, direction, message_type, body, content, status, timestamp, reply_to_external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ClientID, DirectionOutbound, m.Type, m.Body, string(raw),
		m.Status, m.Timestamp, nullable(m.ReplyToExternalID), time.Now().UnixMilli())
	return err
}

// UpsertInbound inserts or updates an inbound message (idempotent on
// external_id). Re-delivered webhook payloads overwrite in place, never
// append twice.
func (db *DB) UpsertInbound(m *Message) error {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, external_id, direction, message_type, body, content, status, timestamp, reply_to_external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			body = excluded.body,
			content = excluded.content,
			message_type = excluded.message_type,
			reply_to_external_id = excluded.reply_to_external_id`,
		m.ConversationID, m.ExternalID, DirectionInbound, m.Type, m.Body, string(raw),
		m.Status, m.Timestamp, nullable(m.ReplyToExternalID), time.Now().UnixMilli())
	return err
}

// MarkSent records the gateway acknowledgment: assigns the provider id and
// advances the optimistic row to the given status.
func (db *DB) MarkSent(clientID, externalID, status string) error {
	_, err := db.Exec(`UPDATE messages SET external_id = ?, status = ? WHERE client_id = ?`,
		externalID, status, clientID)
	return err
}

// MarkSendFailed marks an outbound message failed with the provider's error.
func (db *DB) MarkSendFailed(clientID, status, errMsg string) error {
	_, err := db.Exec(`UPDATE messages SET status = ?, error_message = ? WHERE client_id = ?`,
		status, errMsg, clientID)
	return err
}

// SetStatusByExternalID stores a provider-reported status. Callers resolve
// rank/monotonicity first (see internal/sync); this is a plain write.
func (db *DB) SetStatusByExternalID(externalID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE external_id = ?`, status, externalID)
	return err
}

// GetMessageByExternalID returns a message by provider id, or nil when the
// message is not locally known.
func (db *DB) GetMessageByExternalID(externalID string) (*Message, error) {
	row := db.QueryRow(`SELECT`+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMessageByClientID returns an outbound message by its local key.
func (db *DB) GetMessageByClientID(clientID string) (*Message, error) {
	row := db.QueryRow(`SELECT`+messageColumns+` FROM messages WHERE client_id = ?`, clientID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first. Callers render oldest-first by reversing.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT`+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var raw string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.ClientID, &m.ExternalID,
		&m.Direction, &m.Type, &m.Body, &raw, &m.Status, &m.Timestamp,
		&m.ReplyToExternalID, &m.ErrorMessage); err != nil {
		return nil, err
	}
	if raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &m.Content); err != nil {
			return nil, fmt.Errorf("decode content for message %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
