// Package store implements the minimal document-store projection this
// module actually persists through: by-id CRUD plus a query cursor over
// Server, Update, and action-state documents, each collection holding one
// JSON document per id. The full
// eleven-collection document database the original product exposes is out
// of scope; this is a concrete, exercised adapter for the subset this
// module's own execution engine and connection registry actually need to
// survive a restart.
package store

import (
	"context"
	"time"
)

// Combinator mirrors compose.Combinator's AND/OR shape for query filters.
type Combinator int

const (
	CombinatorOr Combinator = iota
	CombinatorAnd
)

// Filter selects documents within a collection by equality on top-level
// JSON fields, optionally combined with nested filters via Or.
type Filter struct {
	Eq         map[string]any
	Or         []Filter
	Combinator Combinator
}

// Mutation describes an in-place update to one document's top-level
// fields: Set overwrites named fields, Push appends a value to a named
// array field, Pull removes a matching value from a named array field.
type Mutation struct {
	Set  map[string]any
	Push map[string]any
	Pull map[string]any
}

// Cursor iterates matching documents from a Query call.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(out any) error
	Close() error
	Err() error
}

// Store is the by-id document store this module persists Server, Update,
// and action-state documents through. Every method is safe for concurrent
// use.
type Store interface {
	// Insert stores doc under collection/id, replacing any existing
	// document at that id (idempotent full replacement).
	Insert(ctx context.Context, collection, id string, doc any) error

	// Find decodes the document at collection/id into out, reporting
	// false if no such document exists.
	Find(ctx context.Context, collection, id string, out any) (bool, error)

	// Mutate applies m to the document at collection/id.
	Mutate(ctx context.Context, collection, id string, m Mutation) error

	// Delete removes the document at collection/id. Deleting an absent
	// document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns a cursor over every document in collection matching
	// filter. An empty Filter matches every document.
	Query(ctx context.Context, collection string, filter Filter) (Cursor, error)

	Close() error
}

// ServerRecord is the persisted projection of a Server: enough
// to reconnect and report status across a Core restart. The full resource
// schema (enable/alert/threshold flags) lives in the out-of-scope document
// database; this module only persists what its own registry/poller need.
type ServerRecord struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Address              string    `json:"address"`
	ExpectedPublicKey    string    `json:"expectedPublicKey,omitempty"`
	AttemptedPublicKey   string    `json:"attemptedPublicKey,omitempty"`
	State                string    `json:"state"` // "ok" | "not-ok" | "disabled"
	Disabled             bool      `json:"disabled"`
	LastSeenAt           time.Time `json:"lastSeenAt"`
}
