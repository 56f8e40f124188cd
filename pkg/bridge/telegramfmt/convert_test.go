// Copyright 2024-2026 Aiku AI

package telegramfmt

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/aiku/onebot-telegram/pkg/message"
)

func textMessage(text string) *telego.Message {
	return &telego.Message{
		MessageID: 42,
		Date:      1700000000,
		Chat:      telego.Chat{ID: -100123, Type: "supergroup"},
		From:      &telego.User{ID: 777, FirstName: "Alice", LastName: "Smith"},
		Text:      text,
	}
}

func TestFromTelegramText(t *testing.T) {
	t.Parallel()
	u := FromTelegram(textMessage("hello there"), nil)
	if u.ID != "42" {
		t.Errorf("id = %q, want 42", u.ID)
	}
	if u.Platform != message.PlatformTelegram {
		t.Errorf("platform = %q", u.Platform)
	}
	if u.Chat.ID != "-100123" || u.Chat.Type != message.ChatGroup {
		t.Errorf("chat = %+v", u.Chat)
	}
	if u.Sender.ID != "777" || u.Sender.Name != "Alice Smith" {
		t.Errorf("sender = %+v", u.Sender)
	}
	if got := u.PlainText(); got != "hello there" {
		t.Errorf("text = %q", got)
	}
}

func TestFromTelegramTextMentionEntities(t *testing.T) {
	t.Parallel()
	// "héllo @Bob bye" with a text_mention over "@Bob". The é keeps the
	// UTF-16 offsets honest against byte offsets.
	msg := textMessage("héllo @Bob bye")
	msg.Entities = []telego.MessageEntity{{
		Type:   "text_mention",
		Offset: 6,
		Length: 4,
		User:   &telego.User{ID: 555, FirstName: "Bob"},
	}}
	u := FromTelegram(msg, nil)

	if len(u.Content) != 3 {
		t.Fatalf("content = %d segments, want 3", len(u.Content))
	}
	pre, ok := u.Content[0].(*message.Text)
	if !ok || pre.Text != "héllo " {
		t.Errorf("segment 0 = %#v", u.Content[0])
	}
	at, ok := u.Content[1].(*message.At)
	if !ok || at.UserID != "555" || at.UserName != "Bob" {
		t.Errorf("segment 1 = %#v", u.Content[1])
	}
	post, ok := u.Content[2].(*message.Text)
	if !ok || post.Text != " bye" {
		t.Errorf("segment 2 = %#v", u.Content[2])
	}
}

func TestFromTelegramPhoto(t *testing.T) {
	t.Parallel()
	msg := textMessage("")
	msg.Caption = "look"
	msg.HasMediaSpoiler = true
	msg.Photo = []telego.PhotoSize{
		{FileID: "small", Width: 90},
		{FileID: "big", Width: 800},
	}
	resolve := func(fileID string) (string, error) {
		return "https://files.example/" + fileID, nil
	}
	u := FromTelegram(msg, resolve)

	if len(u.Content) != 2 {
		t.Fatalf("content = %d segments, want 2", len(u.Content))
	}
	media, ok := u.Content[0].(*message.Media)
	if !ok {
		t.Fatalf("segment 0 = %#v", u.Content[0])
	}
	if media.Kind != message.MediaImage {
		t.Errorf("kind = %q", media.Kind)
	}
	if media.URL != "https://files.example/big" {
		t.Errorf("url = %q, want largest size", media.URL)
	}
	if !media.Spoiler {
		t.Error("spoiler flag lost")
	}
	if got := u.PlainText(); got != "look" {
		t.Errorf("caption text = %q", got)
	}
}

func TestFromTelegramDocument(t *testing.T) {
	t.Parallel()
	msg := textMessage("")
	msg.Document = &telego.Document{FileID: "doc1", FileName: "report.pdf"}
	u := FromTelegram(msg, nil)

	media, ok := u.Content[0].(*message.Media)
	if !ok || media.Kind != message.MediaFile {
		t.Fatalf("segment 0 = %#v", u.Content[0])
	}
	if media.Filename != "report.pdf" {
		t.Errorf("filename = %q", media.Filename)
	}
	if media.URL != "" {
		t.Errorf("url = %q, want empty without resolver", media.URL)
	}
}

func TestFromTelegramReply(t *testing.T) {
	t.Parallel()
	msg := textMessage("agreed")
	msg.ReplyToMessage = &telego.Message{
		MessageID: 40,
		From:      &telego.User{ID: 9, FirstName: "Carol"},
	}
	u := FromTelegram(msg, nil)

	r := u.ReplySegment()
	if r == nil {
		t.Fatal("no reply segment")
	}
	if r.MessageID != "40" || r.SenderID != "9" || r.SenderName != "Carol" {
		t.Errorf("reply = %+v", r)
	}
	if u.Metadata.RawReply == nil {
		t.Error("raw reply envelope not kept")
	}
}

func TestReplyTargetIDTopicSynthetic(t *testing.T) {
	t.Parallel()
	// In a forum topic every message replies to the topic-creation message.
	msg := textMessage("in topic")
	msg.MessageThreadID = 15
	msg.ReplyToMessage = &telego.Message{MessageID: 15}
	if got := ReplyTargetID(msg); got != 0 {
		t.Errorf("synthetic topic reply detected as real reply, id %d", got)
	}

	msg.ReplyToMessage = &telego.Message{MessageID: 30}
	if got := ReplyTargetID(msg); got != 30 {
		t.Errorf("real reply in topic = %d, want 30", got)
	}
}

func TestThreadID(t *testing.T) {
	t.Parallel()
	msg := textMessage("x")
	if got := ThreadID(msg); got != 0 {
		t.Errorf("no thread = %d", got)
	}
	msg.MessageThreadID = 7
	if got := ThreadID(msg); got != 7 {
		t.Errorf("structured field = %d, want 7", got)
	}
	msg.MessageThreadID = 0
	msg.ReplyToMessage = &telego.Message{MessageThreadID: 8}
	if got := ThreadID(msg); got != 8 {
		t.Errorf("reply envelope = %d, want 8", got)
	}
}

func TestToTelegramMentionEntity(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Text{Text: "héllo "},
		&message.At{UserID: "555", UserName: "Bob"},
		&message.Text{Text: " bye"},
	}}
	plan := ToTelegram(u)

	if plan.Text != "héllo @Bob bye" {
		t.Errorf("text = %q", plan.Text)
	}
	if len(plan.Entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(plan.Entities))
	}
	ent := plan.Entities[0]
	if ent.Type != "text_mention" || ent.Offset != 6 || ent.Length != 4 {
		t.Errorf("entity = %+v", ent)
	}
	if ent.User == nil || ent.User.ID != 555 {
		t.Errorf("entity user = %+v", ent.User)
	}
}

func TestToTelegramNonNumericMentionDegrades(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.At{UserID: "someuser", UserName: "Dave"},
	}}
	plan := ToTelegram(u)

	if plan.Text != "@Dave" {
		t.Errorf("text = %q", plan.Text)
	}
	if len(plan.Entities) != 0 {
		t.Errorf("entities = %d, want 0 for non-numeric id", len(plan.Entities))
	}
}

func TestToTelegramFaceAndMedia(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Face{ID: "14", Text: "smile"},
		&message.Media{Kind: message.MediaVideo, URL: "https://x/v.mp4", Spoiler: true},
	}}
	plan := ToTelegram(u)

	if plan.Text != "[smile]" {
		t.Errorf("text = %q", plan.Text)
	}
	if len(plan.Media) != 1 {
		t.Fatalf("media = %d, want 1", len(plan.Media))
	}
	if plan.Media[0].Kind != message.MediaVideo || !plan.Media[0].Spoiler {
		t.Errorf("media = %+v", plan.Media[0])
	}
}

func TestToTelegramForwardRendering(t *testing.T) {
	t.Parallel()
	u := &message.Unified{Content: []message.Segment{
		&message.Forward{Messages: []*message.Unified{
			{
				Sender:  message.Sender{Name: "a"},
				Content: []message.Segment{&message.Text{Text: "one"}},
			},
			{
				Sender: message.Sender{Name: "b"},
				Content: []message.Segment{
					&message.Media{Kind: message.MediaImage},
				},
			},
		}},
	}}
	plan := ToTelegram(u)

	want := "[forwarded, 2 messages]\na: one\nb: [image]"
	if plan.Text != want {
		t.Errorf("text = %q, want %q", plan.Text, want)
	}
	if len(plan.Media) != 0 {
		t.Errorf("forwarded media leaked into plan: %d items", len(plan.Media))
	}
}

func TestToTelegramForwardDepthBound(t *testing.T) {
	t.Parallel()
	// Build a forward chain deeper than the render bound.
	inner := &message.Unified{
		Sender:  message.Sender{Name: "z"},
		Content: []message.Segment{&message.Text{Text: "deep"}},
	}
	for i := 0; i < maxForwardDepth+2; i++ {
		inner = &message.Unified{
			Sender:  message.Sender{Name: "n"},
			Content: []message.Segment{&message.Forward{Messages: []*message.Unified{inner}}},
		}
	}
	plan := ToTelegram(&message.Unified{Content: inner.Content})

	if plan.Text == "" {
		t.Fatal("empty render")
	}
	if !strings.Contains(plan.Text, "[merged forward]") {
		t.Errorf("depth bound placeholder missing: %q", plan.Text)
	}
}

func TestSendPlanEmpty(t *testing.T) {
	t.Parallel()
	if !(&SendPlan{}).Empty() {
		t.Error("zero plan not empty")
	}
	if (&SendPlan{Text: "x"}).Empty() {
		t.Error("text plan reported empty")
	}
	if (&SendPlan{Media: []MediaItem{{}}}).Empty() {
		t.Error("media plan reported empty")
	}
}
