// Package identity maps source-specific identifiers onto stable canonical
// entities shared across sources.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// UnknownSymbol is substituted for blank symbols. It is a regular symbol, so
// every unnamed record collapses onto the same canonical entity.
const UnknownSymbol = "UNKNOWN"

// ErrEmptyExternalID is returned when a caller tries to resolve a record
// without a source-side identifier.
var ErrEmptyExternalID = errors.New("identity: external id is empty")

// CanonicalEntity is the cross-source identity for a symbol.
type CanonicalEntity struct {
	ID        int64
	Symbol    string
	Name      string
	CreatedAt time.Time
}

// Mapping links (source, external id) to a canonical entity. Mappings are
// immutable once written.
type Mapping struct {
	Source      string
	ExternalID  string
	CanonicalID int64
}

// Repository is the persistence the resolver needs. Lookups return
// (nil, nil) when nothing matches.
type Repository interface {
	FindMapping(ctx context.Context, source, externalID string) (*Mapping, error)
	FindCanonicalBySymbol(ctx context.Context, symbol string) (*CanonicalEntity, error)
	CreateCanonical(ctx context.Context, symbol, name string) (*CanonicalEntity, error)
	CreateMapping(ctx context.Context, m Mapping) error
}

// Resolver resolves source identities against a Repository. A Resolver is
// bound to whatever unit of work the Repository represents; writes become
// durable only when that unit commits.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
}

// NewResolver creates a Resolver over repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: slog.Default().With("component", "identity-resolver"),
	}
}

// NormalizeSymbol trims and upper-cases a symbol, mapping blanks to
// UnknownSymbol.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return UnknownSymbol
	}
	return s
}

// Resolve returns the canonical id for (source, externalID), creating the
// canonical entity and mapping on first sight. An existing mapping always
// wins, even if symbol differs from the one it was created with. The display
// name of a canonical entity is whatever the first caller supplied.
func (r *Resolver) Resolve(ctx context.Context, source, externalID, symbol, name string) (int64, error) {
	if strings.TrimSpace(externalID) == "" {
		return 0, ErrEmptyExternalID
	}

	m, err := r.repo.FindMapping(ctx, source, externalID)
	if err != nil {
		return 0, fmt.Errorf("finding mapping %s/%s: %w", source, externalID, err)
	}
	if m != nil {
		return m.CanonicalID, nil
	}

	sym := NormalizeSymbol(symbol)
	entity, err := r.repo.FindCanonicalBySymbol(ctx, sym)
	if err != nil {
		return 0, fmt.Errorf("finding canonical entity %s: %w", sym, err)
	}
	if entity == nil {
		entity, err = r.repo.CreateCanonical(ctx, sym, name)
		if err != nil {
			return 0, fmt.Errorf("creating canonical entity %s: %w", sym, err)
		}
		r.logger.Debug("canonical entity created", "symbol", sym, "canonical_id", entity.ID)
	}

	if err := r.repo.CreateMapping(ctx, Mapping{
		Source:      source,
		ExternalID:  externalID,
		CanonicalID: entity.ID,
	}); err != nil {
		return 0, fmt.Errorf("creating mapping %s/%s: %w", source, externalID, err)
	}
	return entity.ID, nil
}
