package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/turbine-data/adsync/internal/platform"
)

// NewBatch mints an empty batch bound to this client.
func (c *Client) NewBatch() platform.Batch {
	return &batch{client: c}
}

// batch accumulates object lookups and executes them as one
// multiplexed request. Each sub-request carries its own callbacks.
type batch struct {
	client   *Client
	requests []platform.BatchRequest
}

func (b *batch) Add(req platform.BatchRequest) {
	b.requests = append(b.requests, req)
}

func (b *batch) Len() int {
	return len(b.requests)
}

type batchItem struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
}

type batchItemResponse struct {
	Code int    `json:"code"`
	Body string `json:"body"`
}

func (b *batch) Execute(ctx context.Context) error {
	if len(b.requests) == 0 {
		return nil
	}

	items := make([]batchItem, 0, len(b.requests))
	for _, req := range b.requests {
		q := url.Values{}
		if len(req.Fields) > 0 {
			q.Set("fields", strings.Join(req.Fields, ","))
		}
		if req.Params.Limit > 0 {
			q.Set("limit", fmt.Sprintf("%d", req.Params.Limit))
		}
		items = append(items, batchItem{
			Method:      "GET",
			RelativeURL: req.ObjectID + "?" + q.Encode(),
		})
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("batch", string(encoded))

	// The batch endpoint answers with a bare JSON array, so this call
	// decodes the payload itself instead of going through do.
	data, status, err := b.client.raw(ctx, "POST", b.client.baseURL+"/", form)
	if err != nil {
		return err
	}

	var responses []batchItemResponse
	if err := json.Unmarshal(data, &responses); err != nil {
		var envelope struct {
			Error map[string]any `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
			return requestError("POST", status, envelope.Error, string(data))
		}
		return &platform.MalformedResponseError{Raw: truncate(string(data), 512)}
	}

	return b.dispatch(responses)
}

func (b *batch) dispatch(responses []batchItemResponse) error {
	for i, item := range responses {
		if i >= len(b.requests) {
			break
		}
		req := b.requests[i]

		if item.Code != 200 {
			if err := b.fail(req, item); err != nil {
				return err
			}
			continue
		}

		var row map[string]any
		if err := json.Unmarshal([]byte(item.Body), &row); err != nil {
			if req.OnFailure != nil {
				if err := req.OnFailure(&platform.MalformedResponseError{Raw: truncate(item.Body, 512)}); err != nil {
					return err
				}
			}
			continue
		}

		if req.OnSuccess != nil {
			if err := req.OnSuccess(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batch) fail(req platform.BatchRequest, item batchItemResponse) error {
	if req.OnFailure == nil {
		return nil
	}

	var envelope struct {
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal([]byte(item.Body), &envelope); err == nil && envelope.Error != nil {
		return req.OnFailure(requestError("GET", item.Code, envelope.Error, item.Body))
	}
	return req.OnFailure(&platform.RequestError{
		Method: "GET",
		Status: item.Code,
		Body:   truncate(item.Body, 512),
	})
}

var _ platform.Batch = (*batch)(nil)
var _ platform.BatchAPI = (*Client)(nil)
