// Copyright 2024-2026 Aiku AI

// Package onebot implements a OneBot v11 forward-websocket client: event
// subscription, action calls with echo correlation, and the small slice of
// the API surface the bridge needs (group sends, member info, message and
// forward lookups).
package onebot

import (
	"encoding/json"
	"strconv"
)

// Segment is a native OneBot message segment. Data values are decoded
// loosely because implementations disagree on numeric vs. string encoding.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Str returns the named data field as a string, converting numbers when the
// implementation sent them unquoted. Missing fields return "".
func (s Segment) Str(key string) string {
	v, ok := s.Data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// TextSegment builds a plain text segment.
func TextSegment(text string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": text}}
}

// EventSender is the sender block of an inbound event.
type EventSender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// DisplayName returns the group card if set, otherwise the nickname.
func (s *EventSender) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// Event is an inbound OneBot v11 event. Only the fields the bridge consumes
// are decoded; the raw JSON stays available through Raw.
type Event struct {
	Time          int64        `json:"time"`
	SelfID        int64        `json:"self_id"`
	PostType      string       `json:"post_type"`
	MessageType   string       `json:"message_type"`
	SubType       string       `json:"sub_type"`
	MessageID     int64        `json:"message_id"`
	GroupID       int64        `json:"group_id"`
	UserID        int64        `json:"user_id"`
	Message       []Segment    `json:"message"`
	RawMessage    string       `json:"raw_message"`
	Sender        *EventSender `json:"sender"`
	MetaEventType string       `json:"meta_event_type"`

	Raw json.RawMessage `json:"-"`
}

// IsGroupMessage reports whether the event is a group chat message.
func (e *Event) IsGroupMessage() bool {
	return e.PostType == "message" && e.MessageType == "group"
}

// MessageInfo is the response of the get_msg action.
type MessageInfo struct {
	MessageID int64        `json:"message_id"`
	RealID    int64        `json:"real_id"`
	Time      int64        `json:"time"`
	Sender    *EventSender `json:"sender"`
	Message   []Segment    `json:"message"`
}

// ForwardNode is one entry of a get_forward_msg response.
type ForwardNode struct {
	Sender  *EventSender `json:"sender"`
	Time    int64        `json:"time"`
	Content []Segment    `json:"content"`
}

// GroupMember is the response of get_group_member_info.
type GroupMember struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// DisplayName returns the member's group card if set, otherwise the nickname.
func (m *GroupMember) DisplayName() string {
	if m == nil {
		return ""
	}
	if m.Card != "" {
		return m.Card
	}
	return m.Nickname
}

// ForwardMessageNode builds a node segment for sending a merged forward,
// attributing the content to the given sender.
func ForwardMessageNode(userID int64, nickname string, content []Segment) Segment {
	return Segment{Type: "node", Data: map[string]any{
		"user_id":  strconv.FormatInt(userID, 10),
		"nickname": nickname,
		"content":  content,
	}}
}
