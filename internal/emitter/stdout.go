package emitter

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/turbine-data/adsync/internal/state"
)

// Stdout writes the line-oriented message protocol: one JSON object per
// line, typed SCHEMA, RECORD or STATE.
type Stdout struct {
	enc *json.Encoder
}

func NewStdout() *Stdout {
	return NewWriter(os.Stdout)
}

func NewWriter(w io.Writer) *Stdout {
	return &Stdout{enc: json.NewEncoder(w)}
}

type schemaMessage struct {
	Type               string         `json:"type"`
	Stream             string         `json:"stream"`
	Schema             map[string]any `json:"schema"`
	KeyProperties      []string       `json:"key_properties"`
	BookmarkProperties []string       `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        map[string]any `json:"record"`
	TimeExtracted string         `json:"time_extracted"`
}

type stateMessage struct {
	Type  string         `json:"type"`
	Value state.Document `json:"value"`
}

func (s *Stdout) WriteSchema(stream string, schema map[string]any, keyProperties []string, bookmarkKey string) error {
	msg := schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	}
	if bookmarkKey != "" {
		msg.BookmarkProperties = []string{bookmarkKey}
	}
	return s.enc.Encode(msg)
}

func (s *Stdout) WriteRecord(stream string, record map[string]any, extracted time.Time) error {
	return s.enc.Encode(recordMessage{
		Type:          "RECORD",
		Stream:        stream,
		Record:        record,
		TimeExtracted: extracted.UTC().Format(time.RFC3339),
	})
}

func (s *Stdout) WriteState(doc state.Document) error {
	return s.enc.Encode(stateMessage{
		Type:  "STATE",
		Value: doc,
	})
}

func (s *Stdout) Close(ctx context.Context) error {
	return nil
}
