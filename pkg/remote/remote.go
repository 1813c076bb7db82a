// Package remote implements the parley backend client: REST for session
// management and history, server-sent events for completion streaming, and
// multipart uploads for attachments. One Client satisfies every collaborator
// interface the orchestrator consumes.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parley/pkg/attach"
	"parley/pkg/chat"
	"parley/pkg/hydrate"
	"parley/pkg/session"
	"parley/pkg/stream"
	"parley/pkg/toolstate"
)

// Interface conformance, checked at compile time.
var (
	_ session.Sessions    = (*Client)(nil)
	_ session.Titles      = (*Client)(nil)
	_ hydrate.History     = (*Client)(nil)
	_ stream.Completer    = (*Client)(nil)
	_ toolstate.Persister = (*Client)(nil)
	_ attach.Uploader     = (*Client)(nil)
)

// Config holds client configuration.
type Config struct {
	BaseURL string        // backend root, e.g. http://localhost:8787
	Token   string        // bearer token; empty disables auth
	Timeout time.Duration // budget for non-streaming requests (default 30s)
}

// Client talks to the parley backend. Safe for concurrent use.
type Client struct {
	base      string
	token     string
	http      *http.Client // non-streaming calls, bounded by Timeout
	streaming *http.Client // completion streams, bounded by ctx only
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
		streaming: &http.Client{},
	}
}

// --- Wire types ---

type createSessionRequest struct {
	Model string          `json:"model"`
	Tools map[string]bool `json:"tools,omitempty"`
}

type listSessionsResponse struct {
	Sessions []chat.Session `json:"sessions"`
}

type updateSessionRequest struct {
	Title  *string         `json:"title,omitempty"`
	Pinned *bool           `json:"pinned,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
	Total    int            `json:"total"`
}

type completionPayload struct {
	chat.CompletionRequest
	Stream bool `json:"stream"`
}

type completionResponse struct {
	SessionID string       `json:"session_id"`
	Message   chat.Message `json:"message"`
}

type titleRequest struct {
	Text string `json:"text"`
}

type titleResponse struct {
	Title string `json:"title"`
}

// --- Session service ---

// CreateSession mints a durable conversation. The idempotency key travels as
// a header so retries and racing create-by-send requests converge on one
// conversation server-side.
func (c *Client) CreateSession(ctx context.Context, model string, tools map[string]bool, idempotencyKey string) (chat.Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{Model: model, Tools: tools})
	if err != nil {
		return chat.Session{}, err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var out chat.Session
	if err := c.do(req, "create session", "", &out); err != nil {
		return chat.Session{}, err
	}
	out.Lifecycle = chat.LifecycleActive
	return out, nil
}

// ListSessions returns the server's conversation list.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var out listSessionsResponse
	if err := c.do(req, "list sessions", "", &out); err != nil {
		return nil, err
	}
	for i := range out.Sessions {
		out.Sessions[i].Lifecycle = chat.LifecycleActive
	}
	return out.Sessions, nil
}

// UpdateSession applies a partial metadata write.
func (c *Client) UpdateSession(ctx context.Context, id string, upd session.SessionUpdate) error {
	body := updateSessionRequest{Title: upd.Title, Pinned: upd.Pinned, Tools: upd.Tools}
	req, err := c.newRequest(ctx, http.MethodPatch, "/v1/sessions/"+url.PathEscape(id), body)
	if err != nil {
		return err
	}
	return c.do(req, "update session", id, nil)
}

// DeleteSession removes a conversation server-side.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, "delete session", id, nil)
}

// PersistTools writes a conversation's full tool map.
func (c *Client) PersistTools(ctx context.Context, sessionID string, tools map[string]bool) error {
	return c.UpdateSession(ctx, sessionID, session.SessionUpdate{Tools: tools})
}

// GenerateTitle asks the backend to name a conversation from its first user
// message.
func (c *Client) GenerateTitle(ctx context.Context, firstUserMessage string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/titles", titleRequest{Text: firstUserMessage})
	if err != nil {
		return "", err
	}
	var out titleResponse
	if err := c.do(req, "generate title", "", &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// --- History ---

// Fetch returns one page of a conversation's transcript plus the total
// message count.
func (c *Client) Fetch(ctx context.Context, sessionID string, limit, offset int) ([]chat.Message, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	var out messagesResponse
	if err := c.do(req, "fetch history", sessionID, &out); err != nil {
		return nil, 0, err
	}
	return out.Messages, out.Total, nil
}

// --- Completions ---

// SendStream opens a streaming completion. The returned channel carries the
// backend's tagged frames and closes when the stream ends, terminal frame or
// not; the consumer decides what a truncated stream means.
func (c *Client) SendStream(ctx context.Context, creq chat.CompletionRequest) (<-chan chat.StreamEvent, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/completions", completionPayload{CompletionRequest: creq, Stream: true})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if creq.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", creq.IdempotencyKey)
	}

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, &chat.TransportError{Op: "open stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp, creq.SessionID)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		// The backend answered but cannot stream; the caller falls back to
		// the single-shot path.
		resp.Body.Close()
		return nil, &chat.TransportError{Op: "open stream", Err: fmt.Errorf("unexpected content type %q", ct)}
	}

	events := make(chan chat.StreamEvent)
	go c.pump(ctx, resp.Body, events)
	return events, nil
}

// pump reads SSE data lines off the response body and forwards decoded
// frames until the body ends or the context is cancelled.
func (c *Client) pump(ctx context.Context, body io.ReadCloser, events chan<- chat.StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev chat.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// A frame we cannot parse ends the stream; the truncation is
			// the consumer's signal to fall back.
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Kind.Terminal() {
			return
		}
	}
}

// SendOnce runs a non-streaming completion, the fallback when streaming is
// unavailable.
func (c *Client) SendOnce(ctx context.Context, creq chat.CompletionRequest) (stream.Reply, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/completions", completionPayload{CompletionRequest: creq, Stream: false})
	if err != nil {
		return stream.Reply{}, err
	}
	if creq.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", creq.IdempotencyKey)
	}
	var out completionResponse
	if err := c.do(req, "completion", creq.SessionID, &out); err != nil {
		return stream.Reply{}, err
	}
	return stream.Reply{SessionID: out.SessionID, Message: out.Message}, nil
}

// --- Attachments ---

// Upload stages a file with the attachment service.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return chat.Attachment{}, fmt.Errorf("read upload %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return chat.Attachment{}, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/attachments", &buf)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var out chat.Attachment
	if err := c.do(req, "upload attachment", "", &out); err != nil {
		return chat.Attachment{}, err
	}
	return out, nil
}

// --- Plumbing ---

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do executes a bounded request and decodes the response into out when
// non-nil. sessionID feeds the not-found error for endpoints scoped to one
// conversation.
func (c *Client) do(req *http.Request, op, sessionID string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &chat.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, sessionID)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// statusError maps a non-2xx response to the error taxonomy: 404 means the
// conversation is gone, everything else surfaces as a backend failure.
func (c *Client) statusError(resp *http.Response, sessionID string) error {
	if resp.StatusCode == http.StatusNotFound {
		return &chat.NotFoundError{SessionID: sessionID}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &chat.RemoteError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
