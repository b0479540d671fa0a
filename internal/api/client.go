package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Client talks to the league dashboard REST API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
}

// NewClient creates a REST client for the given base URL. token may be
// empty; it is sent as a bearer token when set.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		http:    &fasthttp.Client{},
	}
}

// Threads returns the thread list for a user, most recent first.
func (c *Client) Threads(ctx context.Context, userID string) ([]Thread, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, "/api/users/"+userID+"/threads", nil)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return decodeList[Thread](body, "threads")
}

// Messages returns the messages of a thread, oldest first.
func (c *Client) Messages(ctx context.Context, threadID string) ([]Message, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, "/api/threads/"+threadID+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return decodeList[Message](body, "messages")
}

// SendMessage posts a new message to a thread and returns the
// server-assigned message.
func (c *Client) SendMessage(ctx context.Context, threadID string, req SendMessageRequest) (*Message, error) {
	body, err := c.do(ctx, fasthttp.MethodPost, "/api/threads/"+threadID+"/messages", req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return decodeObject[Message](body, "message")
}

// DeleteMessage soft-deletes a message by id.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := c.do(ctx, fasthttp.MethodDelete, "/api/messages/"+messageID, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkRead records a read receipt for a message on behalf of the
// authenticated user.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if _, err := c.do(ctx, fasthttp.MethodPost, "/api/messages/"+messageID+"/read", nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// AvailableUsers returns the users the given user may start a chat with.
func (c *Client) AvailableUsers(ctx context.Context, userID string) ([]User, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, "/api/users/"+userID+"/contacts", nil)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return decodeList[User](body, "users")
}

// ThreadMembers returns the participants of a thread.
func (c *Client) ThreadMembers(ctx context.Context, threadID string) ([]User, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, "/api/threads/"+threadID+"/members", nil)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return decodeList[User](body, "members")
}

// CreateThread creates a new thread and returns it.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (*Thread, error) {
	body, err := c.do(ctx, fasthttp.MethodPost, "/api/threads", req)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return decodeObject[Thread](body, "thread")
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	code := resp.StatusCode()
	if code >= fasthttp.StatusBadRequest {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: code, Body: string(resp.Body())}
	}

	// resp.Body() is invalidated on release.
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}
