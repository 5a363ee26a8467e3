// Package client speaks the tablemap websocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

const handshakeTimeout = 5 * time.Second

// Client is one websocket connection. Sends are safe for concurrent use;
// Next must be called from a single goroutine.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	now     func() time.Time
}

// Dial connects to rawURL, presenting token as a bearer credential when set.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	header := http.Header{}
	header.Set("Origin", originFor(parsed))
	if token = strings.TrimSpace(token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, parsed.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", parsed.Redacted(), err)
	}
	return &Client{conn: conn, now: time.Now}, nil
}

func originFor(u *url.URL) string {
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// Send issues commandType with a fresh rid and returns the rid.
func (c *Client) Send(ctx context.Context, commandType string, payload any) (string, error) {
	rid := uuid.NewString()
	if err := c.Resend(ctx, commandType, rid, payload); err != nil {
		return "", err
	}
	return rid, nil
}

// Resend issues commandType under an existing rid. The server answers a
// duplicate rid from its replay cache.
func (c *Client) Resend(ctx context.Context, commandType, rid string, payload any) error {
	if c == nil || c.conn == nil {
		return errors.New("client is not connected")
	}
	env, err := protocol.NewEnvelope(commandType, rid, c.now(), payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", commandType, err)
	}
	return nil
}

// Next blocks for the next envelope. Canceling ctx while blocked fails the
// connection; callers should Close and redial afterwards.
func (c *Client) Next(ctx context.Context) (protocol.Envelope, error) {
	if c == nil || c.conn == nil {
		return protocol.Envelope{}, errors.New("client is not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Envelope{}, ctxErr
		}
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return protocol.Envelope{}, context.DeadlineExceeded
		}
		return protocol.Envelope{}, fmt.Errorf("read envelope: %w", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Await reads envelopes until one carries rid. Envelopes for other rids are
// handed to onOther when it is non-nil.
func (c *Client) Await(ctx context.Context, rid string, onOther func(protocol.Envelope)) (protocol.Envelope, error) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return protocol.Envelope{}, err
		}
		if env.RID == rid {
			return env, nil
		}
		if onOther != nil {
			onOther(env)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
