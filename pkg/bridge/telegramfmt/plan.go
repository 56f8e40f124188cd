// Copyright 2024-2026 Aiku AI

package telegramfmt

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/aiku/onebot-telegram/pkg/message"
)

// MediaItem is one attachment of a send plan.
type MediaItem struct {
	Kind      message.MediaKind
	URL       string
	LocalPath string
	Data      []byte
	Filename  string
	Spoiler   bool
}

// SendPlan is everything the Telegram client needs to deliver one unified
// message. Entity offsets are UTF-16 code units over Text. When the plan
// carries exactly one media item and the text fits a caption, the client
// merges them into a single send.
type SendPlan struct {
	Text     string
	Entities []telego.MessageEntity
	Media    []MediaItem
	Location *message.Location
	ReplyTo  int
	ThreadID int
}

// Empty reports whether the plan has nothing to send.
func (p *SendPlan) Empty() bool {
	return p.Text == "" && len(p.Media) == 0 && p.Location == nil
}

// ToTelegram builds a send plan from a unified message. Reply and thread
// targeting are the caller's concern; the plan covers content only.
func ToTelegram(u *message.Unified) *SendPlan {
	b := &planBuilder{plan: &SendPlan{}}
	for _, seg := range u.Content {
		b.renderSegment(seg, 0)
	}
	b.plan.Text = b.text.String()
	return b.plan
}

type planBuilder struct {
	plan *SendPlan
	text strings.Builder
	// utf16Len tracks the entity offset of the next appended rune.
	utf16Len int
}

func (b *planBuilder) renderSegment(seg message.Segment, depth int) {
	switch s := seg.(type) {
	case *message.Text:
		b.appendText(s.Text)
	case *message.Media:
		b.plan.Media = append(b.plan.Media, MediaItem{
			Kind:      s.Kind,
			URL:       s.URL,
			LocalPath: s.LocalPath,
			Data:      s.Data,
			Filename:  s.Filename,
			Spoiler:   s.Spoiler,
		})
	case *message.At:
		b.appendMention(s)
	case *message.Reply:
		// Handled by the caller via correlation lookup.
	case *message.Face:
		if s.Text != "" {
			b.appendText("[" + s.Text + "]")
		} else {
			b.appendText("[face " + s.ID + "]")
		}
	case *message.Forward:
		b.appendForward(s, depth)
	case *message.Location:
		if b.plan.Location == nil {
			b.plan.Location = s
		}
	}
}

// appendMention emits a numeric-id mention as a text_mention entity. A
// non-numeric id cannot be targeted on Telegram and degrades to plain text.
func (b *planBuilder) appendMention(at *message.At) {
	name := at.UserName
	if name == "" {
		name = at.UserID
	}
	id, err := strconv.ParseInt(at.UserID, 10, 64)
	if err != nil {
		b.appendText("@" + name)
		return
	}
	offset := b.utf16Len
	b.appendText("@" + name)
	b.plan.Entities = append(b.plan.Entities, telego.MessageEntity{
		Type:   "text_mention",
		Offset: offset,
		Length: b.utf16Len - offset,
		User:   &telego.User{ID: id},
	})
}

// appendForward renders a merged forward as an indented quote block. Media
// inside the forward is reduced to a placeholder line.
func (b *planBuilder) appendForward(fwd *message.Forward, depth int) {
	if depth >= maxForwardDepth {
		b.appendText("[merged forward]")
		return
	}
	if b.text.Len() > 0 {
		b.appendText("\n")
	}
	b.appendText(fmt.Sprintf("[forwarded, %d messages]", len(fwd.Messages)))
	for _, nested := range fwd.Messages {
		b.appendText("\n" + nested.Sender.Name + ": ")
		for _, seg := range nested.Content {
			switch s := seg.(type) {
			case *message.Media:
				b.appendText("[" + string(s.Kind) + "]")
			case *message.Forward:
				b.appendForward(s, depth+1)
			default:
				b.renderSegment(seg, depth+1)
			}
		}
	}
}

func (b *planBuilder) appendText(s string) {
	b.text.WriteString(s)
	b.utf16Len += len(utf16.Encode([]rune(s)))
}
