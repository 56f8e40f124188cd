// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClientClosed is returned for action calls after Close.
var ErrClientClosed = errors.New("onebot: client closed")

const (
	actionTimeout = 30 * time.Second
	reconnectMin  = time.Second
	reconnectMax  = time.Minute
	writeWait     = 10 * time.Second
)

// EventHandler receives every decoded inbound event.
type EventHandler func(*Event)

// Client is a OneBot v11 client speaking the forward websocket transport.
// One goroutine reads events and action responses; writes are serialized by
// a mutex; action responses are matched to callers by echo id.
type Client struct {
	url         string
	accessToken string
	log         zerolog.Logger

	handler EventHandler

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan actionResponse

	closeOnce sync.Once
	done      chan struct{}
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Msg     string          `json:"msg"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

// NewClient creates a client for the given websocket URL. The access token,
// if non-empty, is sent as a bearer Authorization header.
func NewClient(url, accessToken string, log zerolog.Logger) *Client {
	return &Client{
		url:         url,
		accessToken: accessToken,
		log:         log.With().Str("component", "onebot_client").Logger(),
		pending:     make(map[string]chan actionResponse),
		done:        make(chan struct{}),
	}
}

// OnEvent registers the inbound event handler. Must be called before Run.
func (c *Client) OnEvent(fn EventHandler) {
	c.handler = fn
}

// Run connects and reads until ctx is cancelled or Close is called,
// reconnecting with exponential backoff on connection loss.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.connectAndRead(ctx)
		if err == nil {
			return nil
		}
		c.failPending(err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("Connection lost, reconnecting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.log.Info().Str("url", c.url).Msg("Connected to OneBot")

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame: frames carrying an echo are action
// responses, everything else is an event.
func (c *Client) dispatch(data []byte) {
	var probe struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.Warn().Err(err).Msg("Failed to decode frame")
		return
	}

	if probe.Echo != "" {
		var resp actionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn().Err(err).Msg("Failed to decode action response")
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.Echo]
		delete(c.pending, resp.Echo)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Warn().Err(err).Msg("Failed to decode event")
		return
	}
	evt.Raw = data

	if evt.PostType == "meta_event" {
		c.log.Trace().Str("meta_event_type", evt.MetaEventType).Msg("Meta event")
		return
	}
	if c.handler != nil {
		c.handler(&evt)
	}
}

// failPending unblocks all action callers waiting on a dead connection.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for echo, ch := range c.pending {
		ch <- actionResponse{Status: "failed", Retcode: -1, Msg: err.Error()}
		delete(c.pending, echo)
	}
}

// call performs one OneBot action and waits for the echo-matched response.
func (c *Client) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("onebot: not connected")
	}

	echo := uuid.New().String()
	respCh := make(chan actionResponse, 1)
	c.pendingMu.Lock()
	c.pending[echo] = respCh
	c.pendingMu.Unlock()

	req := actionRequest{Action: action, Params: params, Echo: echo}
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteJSON(req)
		c.connMu.Unlock()
		if err != nil {
			c.dropPending(echo)
			return nil, fmt.Errorf("writing %s: %w", action, err)
		}
	} else {
		c.connMu.Unlock()
		c.dropPending(echo)
		return nil, fmt.Errorf("onebot: not connected")
	}

	timer := time.NewTimer(actionTimeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		if resp.Status == "failed" || resp.Retcode != 0 {
			reason := resp.Wording
			if reason == "" {
				reason = resp.Msg
			}
			return nil, fmt.Errorf("onebot: %s failed (retcode %d): %s", action, resp.Retcode, reason)
		}
		return resp.Data, nil
	case <-timer.C:
		c.dropPending(echo)
		return nil, fmt.Errorf("onebot: %s timed out", action)
	case <-ctx.Done():
		c.dropPending(echo)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

func (c *Client) dropPending(echo string) {
	c.pendingMu.Lock()
	delete(c.pending, echo)
	c.pendingMu.Unlock()
}

// SendGroupMessage sends segments to a group and returns the native id of
// the created message.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, segments []Segment) (int64, error) {
	data, err := c.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  segments,
	})
	if err != nil {
		return 0, err
	}
	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decoding send_group_msg response: %w", err)
	}
	return resp.MessageID, nil
}

// GetMessage fetches a single message by native id, used to recover the
// sender of a replied-to message.
func (c *Client) GetMessage(ctx context.Context, messageID int64) (*MessageInfo, error) {
	data, err := c.call(ctx, "get_msg", map[string]any{"message_id": messageID})
	if err != nil {
		return nil, err
	}
	var info MessageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding get_msg response: %w", err)
	}
	return &info, nil
}

// GetForwardMessages resolves a merged-forward id into its nested entries.
func (c *Client) GetForwardMessages(ctx context.Context, forwardID string) ([]ForwardNode, error) {
	data, err := c.call(ctx, "get_forward_msg", map[string]any{"id": forwardID})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []ForwardNode `json:"messages"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding get_forward_msg response: %w", err)
	}
	return resp.Messages, nil
}

// GetGroupMemberInfo fetches a member's profile for display-name lookups.
func (c *Client) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*GroupMember, error) {
	data, err := c.call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"no_cache": false,
	})
	if err != nil {
		return nil, err
	}
	var member GroupMember
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, fmt.Errorf("decoding get_group_member_info response: %w", err)
	}
	return &member, nil
}

// Close shuts the client down. Pending action calls fail with ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
}
