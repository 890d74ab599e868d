package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/identity"
)

func (t *Tx) FindMapping(ctx context.Context, source, externalID string) (*identity.Mapping, error) {
	m := identity.Mapping{Source: source, ExternalID: externalID}
	err := t.q.QueryRowContext(ctx,
		`SELECT canonical_id FROM identity_mappings WHERE source = $1 AND external_id = $2`,
		source, externalID,
	).Scan(&m.CanonicalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}
	return &m, nil
}

func (t *Tx) FindCanonicalBySymbol(ctx context.Context, symbol string) (*identity.CanonicalEntity, error) {
	var (
		e    identity.CanonicalEntity
		name sql.NullString
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT id, symbol, name, created_at FROM canonical_entities WHERE symbol = $1`,
		symbol,
	).Scan(&e.ID, &e.Symbol, &name, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying canonical entity: %w", err)
	}
	e.Name = name.String
	return &e, nil
}

// CreateCanonical inserts a canonical entity. If the symbol already exists
// the existing row is returned unchanged, so the first name written sticks.
func (t *Tx) CreateCanonical(ctx context.Context, symbol, name string) (*identity.CanonicalEntity, error) {
	var (
		e      identity.CanonicalEntity
		stored sql.NullString
	)
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO canonical_entities (symbol, name) VALUES ($1, $2)
		 ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		 RETURNING id, symbol, name, created_at`,
		symbol, sql.NullString{String: name, Valid: name != ""},
	).Scan(&e.ID, &e.Symbol, &stored, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting canonical entity: %w", err)
	}
	e.Name = stored.String
	return &e, nil
}

func (t *Tx) CreateMapping(ctx context.Context, m identity.Mapping) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO identity_mappings (source, external_id, canonical_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source, external_id) DO NOTHING`,
		m.Source, m.ExternalID, m.CanonicalID,
	)
	if err != nil {
		return fmt.Errorf("inserting mapping: %w", err)
	}
	return nil
}
