// Package graph is the concrete Graph API implementation of the platform
// collaborator interfaces: filtered list endpoints with paging cursors,
// the async report-job triple, and the batch primitive.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// Client speaks the Graph API over HTTPS.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	logger      *zap.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(accessToken string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// raw issues a request and returns the response body and status code.
func (c *Client) raw(ctx context.Context, method, rawURL string, form url.Values) ([]byte, int, error) {
	var body io.Reader
	if form != nil {
		form.Set("access_token", c.accessToken)
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, 0, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// do issues a request and decodes a JSON object response. Provider
// errors come back as {"error": {...}} and are surfaced as typed
// RequestErrors; non-object payloads become MalformedResponseErrors.
func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) (map[string]any, error) {
	data, status, err := c.raw(ctx, method, rawURL, form)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &platform.MalformedResponseError{Raw: truncate(string(data), 512)}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &platform.MalformedResponseError{Raw: truncate(string(data), 512)}
	}

	if errObj, ok := obj["error"].(map[string]any); ok {
		return nil, requestError(method, status, errObj, string(data))
	}
	if status >= 400 {
		return nil, &platform.RequestError{
			Method: method,
			Status: status,
			Body:   truncate(string(data), 512),
		}
	}

	return obj, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", c.accessToken)
	return c.do(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
}

func (c *Client) getURL(ctx context.Context, rawURL string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, c.baseURL+path, form)
}

func requestError(method string, status int, errObj map[string]any, body string) *platform.RequestError {
	transient, _ := errObj["is_transient"].(bool)
	return &platform.RequestError{
		Method:    method,
		Status:    status,
		Subcode:   intField(errObj, "error_subcode"),
		Transient: transient,
		Body:      truncate(body, 512),
	}
}

func intField(obj map[string]any, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// listQuery serializes fields and params into Graph list query values.
func listQuery(fields []string, params platform.ListParams) (url.Values, error) {
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if len(params.Filtering) > 0 {
		filtering, err := json.Marshal(params.Filtering)
		if err != nil {
			return nil, err
		}
		q.Set("filtering", string(filtering))
	}
	return q, nil
}

// Account returns the AccountAPI for one ad account.
func (c *Client) Account(id string) *Account {
	return &Account{client: c, id: id}
}

// User returns the UserAPI for one platform user.
func (c *Client) User(id string) *User {
	return &User{client: c, id: id}
}

// Account implements platform.AccountAPI.
type Account struct {
	client *Client
	id     string
}

func (a *Account) ID() string {
	return a.id
}

func (a *Account) list(ctx context.Context, edge string, fields []string, params platform.ListParams) (platform.Cursor, error) {
	q, err := listQuery(fields, params)
	if err != nil {
		return nil, err
	}
	return newPageCursor(a.client, fmt.Sprintf("/act_%s/%s", a.id, edge), q), nil
}

func (a *Account) Ads(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list(ctx, "ads", fields, params)
}

func (a *Account) AdSets(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list(ctx, "adsets", fields, params)
}

func (a *Account) Campaigns(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	return a.list(ctx, "campaigns", fields, params)
}

// User implements platform.UserAPI.
type User struct {
	client *Client
	id     string
}

func (u *User) ID() string {
	return u.id
}

func (u *User) AdAccounts(ctx context.Context, fields []string, params platform.ListParams) (platform.Cursor, error) {
	q, err := listQuery(fields, params)
	if err != nil {
		return nil, err
	}
	return newPageCursor(u.client, fmt.Sprintf("/%s/adaccounts", u.id), q), nil
}
