package store

// SearchMessages performs a full-text search on message bodies across the
// whole store (the in-conversation incremental search lives in the inbox
// session; this backs the daemon-wide search endpoint).
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, COALESCE(m.client_id, ''), COALESCE(m.external_id, ''),
		       m.direction, m.message_type, m.body, m.content, m.status, m.timestamp,
		       COALESCE(m.reply_to_external_id, ''), m.error_message,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var raw string
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.ClientID, &r.Message.ExternalID,
			&r.Message.Direction, &r.Message.Type, &r.Message.Body, &raw,
			&r.Message.Status, &r.Message.Timestamp, &r.Message.ReplyToExternalID,
			&r.Message.ErrorMessage, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
