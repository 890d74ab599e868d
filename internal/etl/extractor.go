package etl

import (
	"context"
	"time"
)

// Resolver maps a source identity onto a canonical id. It is bound to the
// run's unit of work, so identities created during a failed run disappear
// with it.
type Resolver interface {
	Resolve(ctx context.Context, source, externalID, symbol, name string) (int64, error)
}

// Extractor is implemented once per source kind.
//
// Extract returns the records newer than since, or every record when since
// is nil. Transform turns a single raw record into its unified form and may
// call r to attach a canonical id.
type Extractor interface {
	Source() string
	Extract(ctx context.Context, since *time.Time) ([]RawRecord, error)
	Transform(ctx context.Context, raw RawRecord, r Resolver) (UnifiedRecord, error)
}
