package graph

import (
	"context"
	"io"
	"net/url"

	"github.com/turbine-data/adsync/internal/platform"
)

// pageCursor walks a paged listing, following paging.next links until
// the provider stops returning one.
type pageCursor struct {
	client *Client

	firstPath  string
	firstQuery url.Values
	nextURL    string

	started bool
	done    bool
	rows    []map[string]any
	pos     int
}

func newPageCursor(client *Client, path string, query url.Values) *pageCursor {
	return &pageCursor{
		client:     client,
		firstPath:  path,
		firstQuery: query,
	}
}

func (c *pageCursor) Next(ctx context.Context) (map[string]any, error) {
	for c.pos >= len(c.rows) {
		if c.done {
			return nil, io.EOF
		}
		if err := c.fetch(ctx); err != nil {
			return nil, err
		}
	}

	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

func (c *pageCursor) fetch(ctx context.Context) error {
	var (
		page map[string]any
		err  error
	)
	if !c.started {
		page, err = c.client.get(ctx, c.firstPath, c.firstQuery)
		c.started = true
	} else {
		page, err = c.client.getURL(ctx, c.nextURL)
	}
	if err != nil {
		return err
	}

	c.rows = decodeRows(page)
	c.pos = 0

	c.nextURL = ""
	c.done = true
	if paging, ok := page["paging"].(map[string]any); ok {
		if next, ok := paging["next"].(string); ok && next != "" {
			c.nextURL = next
			c.done = false
		}
	}
	return nil
}

func decodeRows(page map[string]any) []map[string]any {
	data, ok := page["data"].([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(data))
	for _, item := range data {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

var _ platform.Cursor = (*pageCursor)(nil)
