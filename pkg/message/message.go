// Copyright 2024-2026 Aiku AI

// Package message defines the platform-neutral message model shared by the
// OneBot and Telegram converters. A message is an ordered list of content
// segments; each segment carries exactly one kind of payload.
package message

import (
	"strings"
	"time"
)

// Platform identifies the origin network of a message.
type Platform string

const (
	PlatformOneBot   Platform = "onebot"
	PlatformTelegram Platform = "telegram"
)

// ChatType distinguishes group conversations from private ones.
type ChatType string

const (
	ChatGroup   ChatType = "group"
	ChatPrivate ChatType = "private"
)

// Sender identifies the author of a message on its origin platform.
type Sender struct {
	ID   string
	Name string
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   string
	Type ChatType
}

// Metadata is the escape hatch for platform-specific payloads that the
// neutral model does not represent. Raw holds the original native event;
// RawReply holds the native replied-to envelope when the platform delivers
// one inline.
type Metadata struct {
	Raw      any
	RawReply any
}

// Unified is the platform-neutral message. It is immutable after
// construction except for in-place content enrichment (mention name
// resolution) performed before sending.
type Unified struct {
	ID        string
	Platform  Platform
	Sender    Sender
	Chat      Chat
	Content   []Segment
	Timestamp time.Time
	Metadata  *Metadata
}

// PlainText concatenates the text payload of all text segments. Used for
// regex filtering and log previews; non-text segments contribute nothing.
func (u *Unified) PlainText() string {
	var sb strings.Builder
	for _, seg := range u.Content {
		if t, ok := seg.(*Text); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ReplySegment returns the first reply segment of the message, or nil.
func (u *Unified) ReplySegment() *Reply {
	for _, seg := range u.Content {
		if r, ok := seg.(*Reply); ok {
			return r
		}
	}
	return nil
}

// Mentions returns all mention segments in order.
func (u *Unified) Mentions() []*At {
	var ats []*At
	for _, seg := range u.Content {
		if a, ok := seg.(*At); ok {
			ats = append(ats, a)
		}
	}
	return ats
}

// PrependText inserts a text segment at the front of the content list.
func (u *Unified) PrependText(text string) {
	u.Content = append([]Segment{&Text{Text: text}}, u.Content...)
}

// RestoreNewlines converts literal backslash-n escape sequences into real
// newlines. The OneBot transport reports multi-line text with the escape
// already applied, so it has to be undone on relay.
func RestoreNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
