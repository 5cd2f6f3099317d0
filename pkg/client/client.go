// Package client is a typed HTTP client for the handoff service. The chat
// widget side needs no credentials; agent and admin calls carry a bearer token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("handoff api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one handoff service instance
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token sent on agent and admin calls
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default client (10s timeout)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new handoff client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil {
			if e.Error != "" {
				apiErr.Message = e.Error
			} else if e.Message != "" {
				apiErr.Message = e.Message
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sessionPath(prefix string, id int64, suffix string) string {
	return prefix + "/sessions/" + strconv.FormatInt(id, 10) + suffix
}

func withQuery(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// RequestHandoff asks for a live agent. A response with Success false means
// nobody can take the chat; its Message is the offline text.
func (c *Client) RequestHandoff(ctx context.Context, req types.HandoffRequest) (*types.HandoffResponse, error) {
	var resp types.HandoffResponse
	if err := c.do(ctx, http.MethodPost, "/api/handoff", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status polls the latest session for a chat token
func (c *Client) Status(ctx context.Context, chatToken string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	path := withQuery("/api/handoff/status", url.Values{"chatToken": {chatToken}})
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Check classifies an assistant reply
func (c *Client) Check(ctx context.Context, text string) (*types.CheckResponse, error) {
	var resp types.CheckResponse
	if err := c.do(ctx, http.MethodPost, "/api/handoff/check", types.CheckRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VisitorMessages returns messages after the cursor, as seen by the widget
func (c *Client) VisitorMessages(ctx context.Context, sessionID int64, chatToken string, after int64) ([]types.LiveMessage, error) {
	var resp types.MessagesResponse
	path := withQuery(sessionPath("/api", sessionID, "/messages"), url.Values{
		"chatToken": {chatToken},
		"after":     {strconv.FormatInt(after, 10)},
	})
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// VisitorSend posts a visitor message and returns its id
func (c *Client) VisitorSend(ctx context.Context, sessionID int64, chatToken, text string) (int64, error) {
	var resp types.SendMessageResponse
	req := types.SendMessageRequest{ChatToken: chatToken, Text: text}
	if err := c.do(ctx, http.MethodPost, sessionPath("/api", sessionID, "/messages"), req, &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// VisitorEnd closes the chat from the widget
func (c *Client) VisitorEnd(ctx context.Context, sessionID int64, chatToken string) (*types.EndSessionResponse, error) {
	var resp types.EndSessionResponse
	req := types.EndSessionRequest{ChatToken: chatToken}
	if err := c.do(ctx, http.MethodPost, sessionPath("/api", sessionID, "/end"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetStatus changes the calling agent's availability
func (c *Client) SetStatus(ctx context.Context, status types.AgentStatus) (*types.AgentStatusResponse, error) {
	var resp types.AgentStatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/agent/status", types.AgentStatusRequest{Status: status}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat keeps the calling agent live
func (c *Client) Heartbeat(ctx context.Context) (*types.AgentStatusResponse, error) {
	var resp types.AgentStatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/agent/heartbeat", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentSessions lists the calling agent's active sessions
func (c *Client) AgentSessions(ctx context.Context) ([]types.LiveSession, error) {
	var sessions []types.LiveSession
	if err := c.do(ctx, http.MethodGet, "/api/agent/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// AgentMessages returns messages after the cursor for one of the agent's sessions
func (c *Client) AgentMessages(ctx context.Context, sessionID, after int64) ([]types.LiveMessage, error) {
	var resp types.MessagesResponse
	path := withQuery(sessionPath("/api/agent", sessionID, "/messages"), url.Values{
		"after": {strconv.FormatInt(after, 10)},
	})
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// AgentSend posts an agent reply and returns its id
func (c *Client) AgentSend(ctx context.Context, sessionID int64, text string) (int64, error) {
	var resp types.SendMessageResponse
	req := types.SendMessageRequest{Text: text}
	if err := c.do(ctx, http.MethodPost, sessionPath("/api/agent", sessionID, "/messages"), req, &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// AgentEnd closes one of the agent's sessions
func (c *Client) AgentEnd(ctx context.Context, sessionID int64) (*types.EndSessionResponse, error) {
	var resp types.EndSessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath("/api/agent", sessionID, "/end"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Queue returns the supervisor overview
func (c *Client) Queue(ctx context.Context) (*types.QueueSnapshot, error) {
	var snap types.QueueSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/admin/queue", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
