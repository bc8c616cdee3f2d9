// Package emitter carries extracted messages to their destination: the
// line-oriented stdout protocol, a kafka topic, or a parquet archive.
package emitter

import (
	"context"
	"time"

	"github.com/turbine-data/adsync/internal/state"
)

// Emitter accepts the message kinds the engine produces. Records for a
// stream are always written before the state message that reflects
// having consumed them.
type Emitter interface {
	WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error
	WriteRecord(stream string, record map[string]any, extracted time.Time) error
	WriteState(doc state.Document) error
	Close(ctx context.Context) error
}

// Multi fans every message out to several emitters in order.
type Multi struct {
	emitters []Emitter
}

func NewMulti(emitters ...Emitter) *Multi {
	return &Multi{emitters: emitters}
}

func (m *Multi) WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error {
	for _, e := range m.emitters {
		if err := e.WriteSchema(stream, schema, keyProperties, bookmarkKey); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) WriteRecord(stream string, record map[string]any, extracted time.Time) error {
	for _, e := range m.emitters {
		if err := e.WriteRecord(stream, record, extracted); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) WriteState(doc state.Document) error {
	for _, e := range m.emitters {
		if err := e.WriteState(doc); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Close(ctx context.Context) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
