// Copyright 2024-2026 Aiku AI

package onebotfmt

import (
	"errors"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aiku/onebot-telegram/pkg/message"
	"github.com/aiku/onebot-telegram/pkg/onebot"
)

func groupEvent(segs ...onebot.Segment) *onebot.Event {
	return &onebot.Event{
		Time:        1700000000,
		SelfID:      10001,
		PostType:    "message",
		MessageType: "group",
		MessageID:   555,
		GroupID:     98765,
		UserID:      42,
		Message:     segs,
		Sender:      &onebot.EventSender{UserID: 42, Nickname: "alice"},
	}
}

func TestFromOneBotText(t *testing.T) {
	t.Parallel()
	u := FromOneBot(groupEvent(onebot.TextSegment(`hello\nworld`)), Options{})

	if u.Platform != message.PlatformOneBot {
		t.Errorf("platform: got %v", u.Platform)
	}
	if u.ID != "555" || u.Chat.ID != "98765" || u.Chat.Type != message.ChatGroup {
		t.Errorf("identity: got %+v", u)
	}
	if u.Sender.ID != "42" || u.Sender.Name != "alice" {
		t.Errorf("sender: got %+v", u.Sender)
	}
	if got := u.PlainText(); got != "hello\nworld" {
		t.Errorf("escaped newline not restored: got %q", got)
	}
}

func TestFromOneBotSegmentKinds(t *testing.T) {
	t.Parallel()
	evt := groupEvent(
		onebot.Segment{Type: "image", Data: map[string]any{"file": "abc.image", "url": "https://cdn/img.jpg"}},
		onebot.Segment{Type: "at", Data: map[string]any{"qq": "10001"}},
		onebot.Segment{Type: "face", Data: map[string]any{"id": "14"}},
		onebot.Segment{Type: "location", Data: map[string]any{"lat": "31.2", "lon": "121.5", "title": "office"}},
	)
	u := FromOneBot(evt, Options{})

	img, ok := u.Content[0].(*message.Media)
	if !ok || img.Kind != message.MediaImage || img.URL != "https://cdn/img.jpg" {
		t.Errorf("image: got %+v", u.Content[0])
	}
	at, ok := u.Content[1].(*message.At)
	if !ok || at.UserID != "10001" {
		t.Errorf("at: got %+v", u.Content[1])
	}
	face, ok := u.Content[2].(*message.Face)
	if !ok || face.ID != "14" {
		t.Errorf("face: got %+v", u.Content[2])
	}
	loc, ok := u.Content[3].(*message.Location)
	if !ok || loc.Lat != 31.2 || loc.Lon != 121.5 || loc.Title != "office" {
		t.Errorf("location: got %+v", u.Content[3])
	}
}

func TestFromOneBotUnknownSegmentDegrades(t *testing.T) {
	t.Parallel()
	evt := groupEvent(
		onebot.Segment{Type: "rps", Data: map[string]any{}},
		onebot.TextSegment("after"),
	)
	u := FromOneBot(evt, Options{})

	if len(u.Content) != 2 {
		t.Fatalf("segments: got %d", len(u.Content))
	}
	txt, ok := u.Content[0].(*message.Text)
	if !ok || txt.Text != "" {
		t.Errorf("unknown segment should degrade to empty text, got %+v", u.Content[0])
	}
	if got := u.PlainText(); got != "after" {
		t.Errorf("remaining content lost: %q", got)
	}
}

func TestFromOneBotReplyContext(t *testing.T) {
	t.Parallel()
	evt := groupEvent(
		onebot.Segment{Type: "reply", Data: map[string]any{"id": "321"}},
		onebot.TextSegment("re"),
	)
	u := FromOneBot(evt, Options{
		ReplyContext: &onebot.MessageInfo{
			MessageID: 321,
			Sender:    &onebot.EventSender{UserID: 7, Nickname: "bob"},
		},
	})

	r := u.ReplySegment()
	if r == nil {
		t.Fatal("reply segment missing")
	}
	if r.MessageID != "321" || r.SenderID != "7" || r.SenderName != "bob" {
		t.Errorf("reply: got %+v", r)
	}
}

func TestFromOneBotForward(t *testing.T) {
	t.Parallel()
	fetch := func(id string) ([]onebot.ForwardNode, error) {
		if id != "fwd-1" {
			return nil, errors.New("unknown id")
		}
		return []onebot.ForwardNode{
			{Sender: &onebot.EventSender{UserID: 1, Nickname: "a"}, Content: []onebot.Segment{onebot.TextSegment("one")}},
			{Sender: &onebot.EventSender{UserID: 2, Nickname: "b"}, Content: []onebot.Segment{onebot.TextSegment("two")}},
		}, nil
	}
	evt := groupEvent(onebot.Segment{Type: "forward", Data: map[string]any{"id": "fwd-1"}})
	u := FromOneBot(evt, Options{ForwardFetcher: fetch})

	fwd, ok := u.Content[0].(*message.Forward)
	if !ok {
		t.Fatalf("forward: got %T", u.Content[0])
	}
	if len(fwd.Messages) != 2 {
		t.Fatalf("nested messages: got %d", len(fwd.Messages))
	}
	if fwd.Messages[0].Sender.Name != "a" || fwd.Messages[0].PlainText() != "one" {
		t.Errorf("nested sender identity lost: %+v", fwd.Messages[0])
	}
}

func TestFromOneBotForwardDepthBound(t *testing.T) {
	t.Parallel()
	// A forward that always contains another forward would recurse forever
	// without the depth bound.
	calls := 0
	fetch := func(id string) ([]onebot.ForwardNode, error) {
		calls++
		return []onebot.ForwardNode{{
			Sender:  &onebot.EventSender{UserID: 1, Nickname: "a"},
			Content: []onebot.Segment{{Type: "forward", Data: map[string]any{"id": "again"}}},
		}}, nil
	}
	evt := groupEvent(onebot.Segment{Type: "forward", Data: map[string]any{"id": "start"}})
	FromOneBot(evt, Options{ForwardFetcher: fetch})

	if calls > maxForwardDepth {
		t.Errorf("fetcher called %d times, bound is %d", calls, maxForwardDepth)
	}
}

func TestToOneBotRoundTripText(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Text{Text: "hello world"},
		&message.Face{ID: "14"},
	}}
	segs := ToOneBot(u, newTestMaterializer(t))

	if len(segs) != 2 {
		t.Fatalf("segments: got %d", len(segs))
	}
	if segs[0].Type != "text" || segs[0].Str("text") != "hello world" {
		t.Errorf("text: got %+v", segs[0])
	}
	if segs[1].Type != "face" || segs[1].Str("id") != "14" {
		t.Errorf("face: got %+v", segs[1])
	}
}

func TestToOneBotMentions(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.At{UserID: "12345"},
		&message.At{UserID: "tg_user", UserName: "charlie"},
	}}
	segs := ToOneBot(u, newTestMaterializer(t))

	if segs[0].Type != "at" || segs[0].Str("qq") != "12345" {
		t.Errorf("numeric mention: got %+v", segs[0])
	}
	// Non-numeric ids degrade to plain text.
	if segs[1].Type != "text" || segs[1].Str("text") != "@charlie" {
		t.Errorf("non-numeric mention: got %+v", segs[1])
	}
}

func TestToOneBotReplyAndMediaURL(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Reply{MessageID: "888"},
		&message.Media{Kind: message.MediaImage, URL: "https://cdn/img.jpg", Spoiler: true},
	}}
	segs := ToOneBot(u, newTestMaterializer(t))

	if segs[0].Type != "reply" || segs[0].Str("id") != "888" {
		t.Errorf("reply: got %+v", segs[0])
	}
	if segs[1].Type != "image" || segs[1].Str("file") != "https://cdn/img.jpg" {
		t.Errorf("image: got %+v", segs[1])
	}
	if segs[1].Str("sub_type") != "1" {
		t.Errorf("spoiler flag lost: got %+v", segs[1].Data)
	}
}

func TestToOneBotMaterializesBuffers(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Media{Kind: message.MediaImage, Data: []byte("png-bytes"), Filename: "pic.png"},
	}}
	segs := ToOneBot(u, newTestMaterializer(t))

	file := segs[0].Str("file")
	if !strings.HasPrefix(file, "file://") {
		t.Fatalf("buffer not materialized: %q", file)
	}
	path := strings.TrimPrefix(file, "file://")
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("extension lost: %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("materialized content: got %q, %v", data, err)
	}
}

func TestToOneBotForwardNodes(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Forward{Messages: []*message.Unified{
			{Sender: message.Sender{ID: "1", Name: "a"}, Content: []message.Segment{&message.Text{Text: "one"}}},
		}},
	}}
	segs := ToOneBot(u, newTestMaterializer(t))

	if len(segs) != 1 || segs[0].Type != "node" {
		t.Fatalf("forward nodes: got %+v", segs)
	}
	if segs[0].Str("nickname") != "a" {
		t.Errorf("node attribution: got %+v", segs[0].Data)
	}
}

func TestPreviewTextTruncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("消息内容预览", 30)
	u := &message.Unified{Content: []message.Segment{&message.Text{Text: long}}}

	got := PreviewText(u)
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	if want := string([]rune(long)[:80]); got != want {
		t.Errorf("preview = %q, want first 80 runes", got)
	}

	empty := PreviewText(&message.Unified{Content: []message.Segment{&message.Media{Kind: message.MediaImage, URL: "x"}}})
	if empty != "[1 segments]" {
		t.Errorf("placeholder preview = %q", empty)
	}
}

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	return NewMaterializer(t.TempDir(), zerolog.Nop())
}
