package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates a contact profile. Empty incoming fields
// never erase known names.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (counterparty_id, name, profile_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(counterparty_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			profile_name = CASE WHEN excluded.profile_name != '' THEN excluded.profile_name ELSE contacts.profile_name END,
			updated_at = excluded.updated_at`,
		c.CounterpartyID, c.Name, c.ProfileName, now)
	return err
}

// GetContact returns a contact by counterparty id, or nil when unknown.
func (db *DB) GetContact(counterpartyID string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT counterparty_id, name, profile_name FROM contacts WHERE counterparty_id = ?`,
		counterpartyID).Scan(&c.CounterpartyID, &c.Name, &c.ProfileName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
