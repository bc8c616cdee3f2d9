package state

import "context"

// Store persists state documents between runs, keyed by a sync
// identifier so multiple accounts can share one backend.
type Store interface {
	// Load returns the last saved document, or nil when none exists.
	Load(ctx context.Context, id string) (Document, error)

	// Save durably replaces the document for id.
	Save(ctx context.Context, id string, doc Document) error
}

// NoopStore discards state. Used when the caller supplies state in-band
// and owns persistence itself.
type NoopStore struct{}

func (NoopStore) Load(ctx context.Context, id string) (Document, error) {
	return nil, nil
}

func (NoopStore) Save(ctx context.Context, id string, doc Document) error {
	return nil
}
