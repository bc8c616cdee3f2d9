package emitter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-data/adsync/internal/state"
)

func TestStdoutMessages(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriter(&buf)

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":           map[string]any{"type": []any{"null", "string"}},
			"updated_time": map[string]any{"type": []any{"null", "string"}, "format": "date-time"},
		},
	}

	require.NoError(t, e.WriteSchema("ads", schema, []string{"id"}, "updated_time"))
	require.NoError(t, e.WriteRecord("ads",
		map[string]any{"id": "1", "updated_time": "2024-01-05T00:00:00Z"},
		time.Date(2024, 1, 10, 12, 30, 0, 0, time.UTC)))
	require.NoError(t, e.WriteState(state.Document{
		"ads": {"updated_time": "2024-01-05T00:00:00Z"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	t.Run("schema message", func(t *testing.T) {
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &msg))
		assert.Equal(t, "SCHEMA", msg["type"])
		assert.Equal(t, "ads", msg["stream"])
		assert.Equal(t, []any{"id"}, msg["key_properties"])
		assert.Equal(t, []any{"updated_time"}, msg["bookmark_properties"])
	})

	t.Run("record message carries extraction time", func(t *testing.T) {
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &msg))
		assert.Equal(t, "RECORD", msg["type"])
		assert.Equal(t, "2024-01-10T12:30:00Z", msg["time_extracted"])

		record := msg["record"].(map[string]any)
		assert.Equal(t, "1", record["id"])
	})

	t.Run("state message wraps the document", func(t *testing.T) {
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[2]), &msg))
		assert.Equal(t, "STATE", msg["type"])

		value := msg["value"].(map[string]any)
		ads := value["ads"].(map[string]any)
		assert.Equal(t, "2024-01-05T00:00:00Z", ads["updated_time"])
	})
}

func TestStdoutOmitsEmptyBookmark(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriter(&buf)

	require.NoError(t, e.WriteSchema("adcreative", map[string]any{"type": "object"}, []string{"id"}, ""))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &msg))
	_, present := msg["bookmark_properties"]
	assert.False(t, present)
}
