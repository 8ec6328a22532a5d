// Package client is a Go client for the opsdesk HTTP API.
//
// Errors returned by the server are mapped back onto the workitem and auth
// sentinels, so callers can use errors.Is exactly as they would against the
// service itself. Failures to reach the server are reported as
// workitem.ErrTransitionFailed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsdesk/auth"
	"opsdesk/httpapi"
	"opsdesk/workitem"
)

// APIError is a non-2xx response. It unwraps to the matching sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
	err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the access token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string { return c.token }

// Login signs in and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (httpapi.LoginResponse, error) {
	var resp httpapi.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", httpapi.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return httpapi.LoginResponse{}, err
	}
	c.token = resp.Token
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req httpapi.RegisterRequest) (httpapi.MemberResponse, error) {
	var resp httpapi.MemberResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &resp)
	return resp, err
}

func (c *Client) List(ctx context.Context, filter workitem.Filter) ([]workitem.WorkItem, error) {
	q := url.Values{}
	if filter.OwnerID != "" {
		q.Set("ownerId", filter.OwnerID)
	}
	if filter.ReviewerID != "" {
		q.Set("reviewerId", filter.ReviewerID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	path := "/api/work-items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp httpapi.WorkItemList
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	items := make([]workitem.WorkItem, 0, len(resp.Items))
	for _, r := range resp.Items {
		items = append(items, r.ToWorkItem())
	}
	return items, nil
}

func (c *Client) Get(ctx context.Context, id string) (workitem.WorkItem, error) {
	var resp httpapi.WorkItemResponse
	if err := c.do(ctx, http.MethodGet, "/api/work-items/"+url.PathEscape(id), nil, &resp); err != nil {
		return workitem.WorkItem{}, err
	}
	return resp.ToWorkItem(), nil
}

// Create assigns a new item. CreatedBy is taken from the token.
func (c *Client) Create(ctx context.Context, params workitem.CreateParams) (workitem.WorkItem, error) {
	req := httpapi.CreateWorkItemRequest{
		OwnerID:    params.OwnerID,
		ReviewerID: params.ReviewerID,
		Kind:       string(params.Kind),
		Payload:    params.Payload,
	}
	var resp httpapi.WorkItemResponse
	if err := c.do(ctx, http.MethodPost, "/api/work-items", req, &resp); err != nil {
		return workitem.WorkItem{}, err
	}
	return resp.ToWorkItem(), nil
}

// Transition applies an action as the signed-in member. params.ActorID is
// ignored; the server takes the actor from the token.
func (c *Client) Transition(ctx context.Context, params workitem.TransitionParams) (workitem.WorkItem, error) {
	req := httpapi.TransitionRequest{
		Action:          string(params.Action),
		Comment:         params.Comment,
		ExpectedVersion: params.ExpectedVersion,
	}
	var resp httpapi.WorkItemResponse
	if err := c.do(ctx, http.MethodPost, "/api/work-items/"+url.PathEscape(params.ID)+"/transitions", req, &resp); err != nil {
		return workitem.WorkItem{}, err
	}
	return resp.ToWorkItem(), nil
}

func (c *Client) History(ctx context.Context, id string) ([]workitem.HistoryEntry, error) {
	var resp httpapi.HistoryList
	if err := c.do(ctx, http.MethodGet, "/api/work-items/"+url.PathEscape(id)+"/history", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]workitem.HistoryEntry, 0, len(resp.Items))
	for _, h := range resp.Items {
		out = append(out, h.ToHistoryEntry())
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", workitem.ErrTransitionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", workitem.ErrTransitionFailed, err)
	}
	return nil
}

var authCodes = map[string]error{
	"unauthorized":        auth.ErrInvalidToken,
	"invalid_credentials": auth.ErrInvalidCredentials,
	"duplicate_email":     auth.ErrDuplicateEmail,
	"weak_password":       auth.ErrWeakPassword,
}

func decodeError(resp *http.Response) error {
	var body httpapi.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	apiErr := &APIError{Status: resp.StatusCode, Code: body.Error, Message: body.Message, Fields: body.Fields}
	if sentinel := workitem.FromCode(body.Error); sentinel != nil {
		apiErr.err = sentinel
	} else if sentinel, ok := authCodes[body.Error]; ok {
		apiErr.err = sentinel
	} else if resp.StatusCode >= http.StatusInternalServerError {
		apiErr.err = workitem.ErrTransitionFailed
	} else if resp.StatusCode == http.StatusNotFound {
		apiErr.err = workitem.ErrNotFound
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, workitem.ErrTransitionFailed)
}
