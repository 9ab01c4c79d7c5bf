// Package ingest implements the remote side of session sync: an HTTP
// endpoint that validates anonymized summaries and writes them to a
// record store exactly once per session id.
package ingest

import (
	"context"

	"github.com/autisense/autisense/internal/model"
)

// SessionRecord is the stored form of an uploaded session.
type SessionRecord struct {
	model.SessionPayload
	TTL int64 // epoch seconds
}

// AggregateRecord is the stored form of a session aggregate. It is keyed
// by session id and denormalizes the owner and creation time.
type AggregateRecord struct {
	model.BiomarkerAggregate
	UserID    string
	CreatedAt int64 // epoch ms, from the session
	TTL       int64 // epoch seconds
}

// Backend persists ingest records.
type Backend interface {
	// PutSessionIfAbsent writes rec unless a session with the same id
	// exists. It reports whether the record was written.
	PutSessionIfAbsent(ctx context.Context, rec SessionRecord) (bool, error)
	// PutAggregate writes rec, replacing any previous aggregate for the session.
	PutAggregate(ctx context.Context, rec AggregateRecord) error
}

// Purger is implemented by backends that must expire records themselves.
type Purger interface {
	PurgeExpired(ctx context.Context, nowUnix int64) (int64, error)
}
