package store

import (
	"context"
	"fmt"

	"github.com/dockfleet/conduit/internal/execengine"
)

// updatesCollection is the document-store collection name for persisted
// Update documents.
const updatesCollection = "updates"

// serversCollection is the document-store collection name for persisted
// Server documents.
const serversCollection = "servers"

// UpdateStore adapts a Store into execengine.UpdateStore, persisting each
// Update snapshot as a single document keyed by its id.
type UpdateStore struct {
	store Store
}

// NewUpdateStore wraps store for use as an execengine.UpdateStore.
func NewUpdateStore(store Store) *UpdateStore {
	return &UpdateStore{store: store}
}

// SaveUpdate persists a snapshot of u. It satisfies execengine.UpdateStore.
func (s *UpdateStore) SaveUpdate(ctx context.Context, u *execengine.Update) error {
	snap := u.Snapshot()
	if err := s.store.Insert(ctx, updatesCollection, snap.ID, snap); err != nil {
		return fmt.Errorf("store: save update %s: %w", snap.ID, err)
	}
	return nil
}

var _ execengine.UpdateStore = (*UpdateStore)(nil)

// FindUpdate loads the persisted snapshot of the Update document with id,
// reporting false if it does not exist. The decoded value's internal mutex
// is left nil; callers only read or re-marshal it, never mutate it through
// execengine.Update's own methods.
func FindUpdate(ctx context.Context, s Store, id string) (execengine.Update, bool, error) {
	var rec execengine.Update
	ok, err := s.Find(ctx, updatesCollection, id, &rec)
	if err != nil {
		return execengine.Update{}, false, fmt.Errorf("store: find update %s: %w", id, err)
	}
	return rec, ok, nil
}

// SaveServer persists rec under its own id in the servers collection.
func SaveServer(ctx context.Context, s Store, rec ServerRecord) error {
	if err := s.Insert(ctx, serversCollection, rec.ID, rec); err != nil {
		return fmt.Errorf("store: save server %s: %w", rec.ID, err)
	}
	return nil
}

// FindServer loads the Server document with the given id, reporting false
// if it does not exist.
func FindServer(ctx context.Context, s Store, id string) (ServerRecord, bool, error) {
	var rec ServerRecord
	ok, err := s.Find(ctx, serversCollection, id, &rec)
	if err != nil {
		return ServerRecord{}, false, fmt.Errorf("store: find server %s: %w", id, err)
	}
	return rec, ok, nil
}

// ListServers returns every persisted Server document.
func ListServers(ctx context.Context, s Store) ([]ServerRecord, error) {
	cur, err := s.Query(ctx, serversCollection, Filter{})
	if err != nil {
		return nil, fmt.Errorf("store: list servers: %w", err)
	}
	defer cur.Close()

	var out []ServerRecord
	for cur.Next(ctx) {
		var rec ServerRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("store: decode server: %w", err)
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}
