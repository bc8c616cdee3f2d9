// Package state holds the per-entity-type watermarks that make syncs
// resumable, and the stores that persist them between runs.
package state

import (
	"time"

	"go.uber.org/zap"
)

// Document maps an entity-type name to its bookmark-key → timestamp
// watermarks. Timestamps are RFC3339 UTC strings. Documents are treated
// as immutable values: mutation always produces a fresh copy so an
// emitted state message matches exactly what was durable at emission
// time.
type Document map[string]map[string]string

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for stream, marks := range d {
		copied := make(map[string]string, len(marks))
		for k, v := range marks {
			copied[k] = v
		}
		out[stream] = copied
	}
	return out
}

// Bookmark returns the parsed watermark for (stream, key). ok is false
// when no bookmark exists or the stored value does not parse.
func (d Document) Bookmark(stream, key string) (time.Time, bool) {
	marks, ok := d[stream]
	if !ok {
		return time.Time{}, false
	}
	raw, ok := marks[key]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// With returns a copy of the document with (stream, key) set to t.
func (d Document) With(stream, key string, t time.Time) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	if out[stream] == nil {
		out[stream] = map[string]string{}
	}
	out[stream][key] = t.UTC().Format(time.RFC3339)
	return out
}

// Bookmarks owns the current state document for a run and enforces the
// monotonic-advance rule.
type Bookmarks struct {
	doc    Document
	logger *zap.Logger
}

func NewBookmarks(doc Document, logger *zap.Logger) *Bookmarks {
	if doc == nil {
		doc = Document{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bookmarks{doc: doc, logger: logger}
}

// Document returns the current state document.
func (b *Bookmarks) Document() Document {
	return b.doc
}

// Start returns the bookmark for (stream, key). ok is false when the
// entity type has never been synced; callers decide the backfill start.
func (b *Bookmarks) Start(stream, key string) (time.Time, bool) {
	t, ok := b.doc.Bookmark(stream, key)
	if ok {
		b.logger.Info("found current bookmark",
			zap.String("stream", stream),
			zap.Time("bookmark", t))
	}
	return t, ok
}

// Advance moves the bookmark for (stream, key) forward to candidate and
// returns the resulting document. A zero candidate is a logged no-op.
// The bookmark only ever moves forward: advancing with the same or an
// earlier candidate keeps the stored value, which makes advancement safe
// under newest-first chunk processing and retried chunks.
func (b *Bookmarks) Advance(stream, key string, candidate time.Time) Document {
	if candidate.IsZero() {
		b.logger.Info("no date for stream, not advancing bookmark",
			zap.String("stream", stream))
		return b.doc
	}

	current, ok := b.doc.Bookmark(stream, key)
	if ok && !candidate.After(current) {
		b.logger.Info("bookmark not changing",
			zap.String("stream", stream),
			zap.Time("current", current),
			zap.Time("candidate", candidate))
		return b.doc
	}

	b.logger.Info("advancing bookmark",
		zap.String("stream", stream),
		zap.Time("current", current),
		zap.Time("to", candidate))
	b.doc = b.doc.With(stream, key, candidate)
	return b.doc
}
