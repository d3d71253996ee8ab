// Package client provides an HTTP and WebSocket client for the threadchat server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/threadchat/internal/export"
	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/models"
)

// ErrNotFound is matched by errors for unknown threads.
var ErrNotFound = errors.New("conversation not found")

// codeNotFound is the error frame code for unknown threads.
const codeNotFound = "not_found"

// ServerError is an error reported by the server in an error frame.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

// Is matches ErrNotFound for unknown thread errors.
func (e *ServerError) Is(target error) bool {
	return target == ErrNotFound && e.Code == codeNotFound
}

// Client talks to a threadchat server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses THREADCHAT_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via THREADCHAT_CLIENT_TIMEOUT env var (default 10m for long replies).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("THREADCHAT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("THREADCHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// get fetches path and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// getJSON fetches path and decodes the JSON response into result.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

// ListThreads returns the server's persisted threads, newest first.
func (c *Client) ListThreads(ctx context.Context) ([]models.Thread, error) {
	var threads []models.Thread
	if err := c.getJSON(ctx, "/api/threads", &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// GetThread returns a thread with its messages.
func (c *Client) GetThread(ctx context.Context, id string) (*export.Document, error) {
	var doc export.Document
	if err := c.getJSON(ctx, threadPath(id, export.FormatJSON), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ExportThread returns a thread rendered by the server in the given format.
func (c *Client) ExportThread(ctx context.Context, id string, format export.Format) ([]byte, error) {
	return c.get(ctx, threadPath(id, format))
}

// GetStats returns the server's runtime statistics.
func (c *Client) GetStats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.getJSON(ctx, "/api/stats", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func threadPath(id string, format export.Format) string {
	return "/api/threads/" + url.PathEscape(id) + "/messages?format=" + url.QueryEscape(string(format))
}

// Ask sends one message and streams the reply token by token.
// An empty threadID starts a new thread; the returned message carries the
// thread id. The onToken callback is invoked for each token. Return an error
// from onToken to abort.
func (c *Client) Ask(
	ctx context.Context,
	threadID string,
	text string,
	onToken func(token string) error,
) (models.Message, error) {
	conn, err := c.dial(ctx, threadID)
	if err != nil {
		return models.Message{}, err
	}
	defer conn.Close()

	// Abort blocking reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// The session announces its threads once it has started.
	if _, err := readUntil(conn, models.FrameThreads, nil); err != nil {
		return models.Message{}, err
	}

	if err := conn.WriteJSON(models.ClientFrame{Type: models.FrameSend, Content: text}); err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	done, err := readUntil(conn, models.FrameDone, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return models.Message{}, ctx.Err()
		}
		return models.Message{}, err
	}
	if done.Message == nil {
		return models.Message{}, errors.New("done frame without message")
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return *done.Message, nil
}

func (c *Client) dial(ctx context.Context, threadID string) (*websocket.Conn, error) {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if threadID != "" {
		u.RawQuery = url.Values{"thread": {threadID}}.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// readUntil reads frames until one of type typ arrives. Fragments are
// passed to onToken when it is non-nil. Error frames end the read.
func readUntil(conn *websocket.Conn, typ string, onToken func(string) error) (models.ServerFrame, error) {
	for {
		var f models.ServerFrame
		if err := conn.ReadJSON(&f); err != nil {
			return models.ServerFrame{}, fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case typ:
			return f, nil
		case models.FrameError:
			return models.ServerFrame{}, &ServerError{Code: f.Code, Message: f.Error}
		case models.FrameFragment:
			if onToken != nil {
				if err := onToken(f.Content); err != nil {
					return models.ServerFrame{}, err
				}
			}
		}
	}
}
