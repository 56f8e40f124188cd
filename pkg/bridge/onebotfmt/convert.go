// Copyright 2024-2026 Aiku AI

// Package onebotfmt converts between OneBot v11 message segments and the
// neutral message model.
package onebotfmt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aiku/onebot-telegram/pkg/message"
	"github.com/aiku/onebot-telegram/pkg/onebot"
)

// maxForwardDepth bounds recursion into nested merged forwards. Entries
// below the bound are flattened to a placeholder instead of recursed.
const maxForwardDepth = 5

// ForwardFetcher resolves a merged-forward id into its nested entries.
type ForwardFetcher func(forwardID string) ([]onebot.ForwardNode, error)

// Options carries the optional context a conversion may use.
type Options struct {
	// ReplyContext is the fetched replied-to message, used to attribute
	// the reply segment. May be nil.
	ReplyContext *onebot.MessageInfo
	// ForwardFetcher resolves forward segments. Nil leaves a placeholder.
	ForwardFetcher ForwardFetcher
}

// FromOneBot converts an inbound group message event. Unsupported segment
// types degrade to empty text; conversion itself never fails.
func FromOneBot(evt *onebot.Event, opts Options) *message.Unified {
	chatType := message.ChatGroup
	chatID := strconv.FormatInt(evt.GroupID, 10)
	if evt.MessageType == "private" {
		chatType = message.ChatPrivate
		chatID = strconv.FormatInt(evt.UserID, 10)
	}

	u := &message.Unified{
		ID:       strconv.FormatInt(evt.MessageID, 10),
		Platform: message.PlatformOneBot,
		Sender: message.Sender{
			ID:   strconv.FormatInt(evt.UserID, 10),
			Name: evt.Sender.DisplayName(),
		},
		Chat:      message.Chat{ID: chatID, Type: chatType},
		Timestamp: time.Unix(evt.Time, 0),
		Metadata:  &message.Metadata{Raw: evt},
	}
	u.Content = convertSegments(evt.Message, opts, 0)
	return u
}

func convertSegments(segs []onebot.Segment, opts Options, depth int) []message.Segment {
	out := make([]message.Segment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, convertSegment(seg, opts, depth))
	}
	return out
}

func convertSegment(seg onebot.Segment, opts Options, depth int) message.Segment {
	switch seg.Type {
	case "text":
		return &message.Text{Text: message.RestoreNewlines(seg.Str("text"))}
	case "image":
		return &message.Media{
			Kind:     message.MediaImage,
			URL:      mediaSource(seg),
			Filename: seg.Str("file"),
			Spoiler:  seg.Str("sub_type") == "1",
		}
	case "record":
		return &message.Media{Kind: message.MediaAudio, URL: mediaSource(seg), Filename: seg.Str("file")}
	case "video":
		return &message.Media{Kind: message.MediaVideo, URL: mediaSource(seg), Filename: seg.Str("file")}
	case "file":
		return &message.Media{Kind: message.MediaFile, URL: mediaSource(seg), Filename: seg.Str("file")}
	case "at":
		return &message.At{UserID: seg.Str("qq")}
	case "reply":
		r := &message.Reply{MessageID: seg.Str("id")}
		if rc := opts.ReplyContext; rc != nil && strconv.FormatInt(rc.MessageID, 10) == r.MessageID {
			if rc.Sender != nil {
				r.SenderID = strconv.FormatInt(rc.Sender.UserID, 10)
				r.SenderName = rc.Sender.DisplayName()
			}
		}
		return r
	case "face":
		return &message.Face{ID: seg.Str("id"), Text: seg.Str("text")}
	case "forward":
		return convertForward(seg.Str("id"), opts, depth)
	case "location":
		lat, _ := strconv.ParseFloat(seg.Str("lat"), 64)
		lon, _ := strconv.ParseFloat(seg.Str("lon"), 64)
		return &message.Location{Title: seg.Str("title"), Lat: lat, Lon: lon}
	default:
		// Unknown segment types degrade to an empty text segment.
		return &message.Text{}
	}
}

func convertForward(forwardID string, opts Options, depth int) message.Segment {
	if depth >= maxForwardDepth || opts.ForwardFetcher == nil {
		return &message.Text{Text: "[merged forward]"}
	}
	nodes, err := opts.ForwardFetcher(forwardID)
	if err != nil {
		return &message.Text{Text: "[merged forward]"}
	}

	fwd := &message.Forward{Messages: make([]*message.Unified, 0, len(nodes))}
	for _, node := range nodes {
		nested := &message.Unified{
			Platform: message.PlatformOneBot,
			Sender: message.Sender{
				ID:   strconv.FormatInt(node.Sender.UserID, 10),
				Name: node.Sender.DisplayName(),
			},
			Timestamp: time.Unix(node.Time, 0),
			Content:   convertSegments(node.Content, opts, depth+1),
		}
		fwd.Messages = append(fwd.Messages, nested)
	}
	return fwd
}

// mediaSource prefers the resolved url over the opaque file token.
func mediaSource(seg onebot.Segment) string {
	if url := seg.Str("url"); url != "" {
		return url
	}
	return seg.Str("file")
}

// ToOneBot renders a unified message as native segments for sending. Media
// buffers are materialized through mat so the OneBot implementation can
// read them from disk.
func ToOneBot(u *message.Unified, mat *Materializer) []onebot.Segment {
	return renderSegments(u.Content, mat, 0)
}

func renderSegments(segs []message.Segment, mat *Materializer, depth int) []onebot.Segment {
	out := make([]onebot.Segment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, renderSegment(seg, mat, depth)...)
	}
	return out
}

func renderSegment(seg message.Segment, mat *Materializer, depth int) []onebot.Segment {
	switch s := seg.(type) {
	case *message.Text:
		if s.Text == "" {
			return nil
		}
		return []onebot.Segment{onebot.TextSegment(s.Text)}
	case *message.Media:
		return []onebot.Segment{renderMedia(s, mat)}
	case *message.At:
		if _, err := strconv.ParseInt(s.UserID, 10, 64); err != nil {
			// Non-numeric ids cannot be native mentions.
			return []onebot.Segment{onebot.TextSegment("@" + mentionName(s))}
		}
		return []onebot.Segment{{Type: "at", Data: map[string]any{"qq": s.UserID}}}
	case *message.Reply:
		return []onebot.Segment{{Type: "reply", Data: map[string]any{"id": s.MessageID}}}
	case *message.Face:
		return []onebot.Segment{{Type: "face", Data: map[string]any{"id": s.ID}}}
	case *message.Forward:
		return renderForward(s, mat, depth)
	case *message.Location:
		return []onebot.Segment{{Type: "location", Data: map[string]any{
			"lat":   strconv.FormatFloat(s.Lat, 'f', -1, 64),
			"lon":   strconv.FormatFloat(s.Lon, 'f', -1, 64),
			"title": s.Title,
		}}}
	default:
		return nil
	}
}

func renderForward(fwd *message.Forward, mat *Materializer, depth int) []onebot.Segment {
	if depth >= maxForwardDepth {
		return []onebot.Segment{onebot.TextSegment("[merged forward]")}
	}
	nodes := make([]onebot.Segment, 0, len(fwd.Messages))
	for _, nested := range fwd.Messages {
		userID, _ := strconv.ParseInt(nested.Sender.ID, 10, 64)
		name := nested.Sender.Name
		if name == "" {
			name = nested.Sender.ID
		}
		content := renderSegments(nested.Content, mat, depth+1)
		nodes = append(nodes, onebot.ForwardMessageNode(userID, name, content))
	}
	return nodes
}

func renderMedia(m *message.Media, mat *Materializer) onebot.Segment {
	segType := map[message.MediaKind]string{
		message.MediaImage: "image",
		message.MediaVideo: "video",
		message.MediaAudio: "record",
		message.MediaFile:  "file",
	}[m.Kind]

	source := m.URL
	switch {
	case len(m.Data) > 0:
		path, err := mat.Materialize(m.Data, m.Filename)
		if err == nil {
			source = "file://" + path
		}
	case m.LocalPath != "":
		source = "file://" + m.LocalPath
	}

	data := map[string]any{"file": source}
	if m.Kind == message.MediaImage && m.Spoiler {
		data["sub_type"] = "1"
	}
	return onebot.Segment{Type: segType, Data: data}
}

func mentionName(a *message.At) string {
	if a.UserName != "" {
		return a.UserName
	}
	return a.UserID
}

// PreviewText builds a short log preview of a unified message.
func PreviewText(u *message.Unified) string {
	text := u.PlainText()
	if text == "" {
		text = fmt.Sprintf("[%d segments]", len(u.Content))
	}
	if runes := []rune(text); len(runes) > 80 {
		text = string(runes[:80])
	}
	return text
}
