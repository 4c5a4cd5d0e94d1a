// Package crm resolves counterparty identifiers to display names. The
// resolver is consulted read-only and is never required for correctness:
// every path falls back to the raw identifier.
package crm

import (
	"context"

	"github.com/ozmetal/inbox/internal/store"
)

// Resolver maps a counterparty identifier to a display name.
type Resolver interface {
	Resolve(ctx context.Context, counterpartyID string) string
}

// StoreResolver resolves names from the synced contacts table.
type StoreResolver struct {
	db *store.DB
}

// NewStoreResolver creates a resolver backed by the local store.
func NewStoreResolver(db *store.DB) *StoreResolver {
	return &StoreResolver{db: db}
}

// Resolve returns the CRM name, then the profile name, then the raw id.
func (r *StoreResolver) Resolve(_ context.Context, counterpartyID string) string {
	c, err := r.db.GetContact(counterpartyID)
	if err != nil || c == nil {
		return counterpartyID
	}
	if c.Name != "" {
		return c.Name
	}
	if c.ProfileName != "" {
		return c.ProfileName
	}
	return counterpartyID
}
