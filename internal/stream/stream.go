// Package stream implements the extraction engine: the incremental
// entity sync for list-filterable types, the chunked batch dispatcher for
// per-item lookups, and the async insights job scheduler.
package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/catalog"
	"github.com/turbine-data/adsync/internal/platform"
	"github.com/turbine-data/adsync/internal/state"
)

// Message is one unit of syncer output: either an extracted record or a
// state document reflecting the records emitted before it.
type Message struct {
	Record map[string]any
	State  state.Document
}

// EmitFunc receives messages lazily as a syncer produces them.
type EmitFunc func(Message) error

// Syncer produces the message sequence for one entity type.
type Syncer interface {
	Name() string
	Sync(ctx context.Context, emit EmitFunc) error
}

// RunStats carries per-run record counters. One value per stream sync;
// nothing global, so runs and tests never interfere.
type RunStats struct {
	RecordsSeen   int64
	UsefulRecords int64
}

// Stream identifies one syncable entity type for a sync run.
type Stream struct {
	Name          string
	Entry         *catalog.Entry
	BookmarkKey   string
	KeyProperties []string

	Account platform.AccountAPI
	User    platform.UserAPI

	UserID string

	logger *zap.Logger
}

// NewStream binds a catalog entry to the API handles for one run. The
// bookmark key and key properties come from the stream registry.
func NewStream(entry *catalog.Entry, account platform.AccountAPI, user platform.UserAPI, userID string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		Name:          entry.Stream,
		Entry:         entry,
		BookmarkKey:   catalog.BookmarkKey(entry.Stream),
		KeyProperties: catalog.KeyProperties(entry.Stream),
		Account:       account,
		User:          user,
		UserID:        userID,
		logger:        logger,
	}
}

// Fields returns the selected field set from the catalog.
func (s *Stream) Fields() []string {
	return s.Entry.Fields()
}

// AccountID is the account reference for logging; empty for user-scoped
// streams.
func (s *Stream) AccountID() string {
	if s.Account == nil {
		return ""
	}
	return s.Account.ID()
}
