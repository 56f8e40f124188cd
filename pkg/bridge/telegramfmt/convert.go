// Copyright 2024-2026 Aiku AI

// Package telegramfmt converts between Telegram Bot API messages and the
// neutral message model. Entity offsets follow the Bot API convention of
// UTF-16 code units.
package telegramfmt

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/aiku/onebot-telegram/pkg/message"
)

// maxForwardDepth bounds recursion when rendering nested forwards as text.
const maxForwardDepth = 5

// FileURLResolver resolves a Telegram file id to a downloadable URL. Used
// during inbound conversion so attachments carry a fetchable source.
type FileURLResolver func(fileID string) (string, error)

// FromTelegram converts an inbound Telegram message. Failed file-URL
// resolution leaves the attachment without a source rather than failing
// the conversion.
func FromTelegram(msg *telego.Message, resolve FileURLResolver) *message.Unified {
	chatType := message.ChatGroup
	if msg.Chat.Type == "private" {
		chatType = message.ChatPrivate
	}

	u := &message.Unified{
		ID:        strconv.Itoa(msg.MessageID),
		Platform:  message.PlatformTelegram,
		Chat:      message.Chat{ID: strconv.FormatInt(msg.Chat.ID, 10), Type: chatType},
		Timestamp: timestamp(msg),
		Metadata:  &message.Metadata{Raw: msg},
	}
	if msg.From != nil {
		u.Sender = message.Sender{
			ID:   strconv.FormatInt(msg.From.ID, 10),
			Name: displayName(msg.From),
		}
	}

	if replyID := ReplyTargetID(msg); replyID != 0 {
		r := &message.Reply{MessageID: strconv.Itoa(replyID)}
		if from := msg.ReplyToMessage.From; from != nil {
			r.SenderID = strconv.FormatInt(from.ID, 10)
			r.SenderName = displayName(from)
		}
		u.Content = append(u.Content, r)
		u.Metadata.RawReply = msg.ReplyToMessage
	}

	u.Content = append(u.Content, convertBody(msg, resolve)...)
	return u
}

// convertBody converts the text/caption and attachment of one message.
func convertBody(msg *telego.Message, resolve FileURLResolver) []message.Segment {
	var segs []message.Segment

	if media := convertAttachment(msg, resolve); media != nil {
		segs = append(segs, media)
	}
	if msg.Location != nil {
		segs = append(segs, &message.Location{
			Lat: msg.Location.Latitude,
			Lon: msg.Location.Longitude,
		})
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	if text != "" {
		segs = append(segs, splitEntities(text, entities)...)
	}
	return segs
}

// splitEntities cuts text at mention entities, emitting At segments for
// text_mentions and plain text for everything else.
func splitEntities(text string, entities []telego.MessageEntity) []message.Segment {
	units := utf16.Encode([]rune(text))
	var segs []message.Segment
	cursor := 0

	appendText := func(from, to int) {
		if from >= to || from >= len(units) {
			return
		}
		if to > len(units) {
			to = len(units)
		}
		segs = append(segs, &message.Text{Text: string(utf16.Decode(units[from:to]))})
	}

	for _, ent := range entities {
		if ent.Type != "text_mention" || ent.User == nil {
			continue
		}
		appendText(cursor, ent.Offset)
		name := strings.TrimPrefix(entityText(units, ent), "@")
		segs = append(segs, &message.At{
			UserID:   strconv.FormatInt(ent.User.ID, 10),
			UserName: name,
		})
		cursor = ent.Offset + ent.Length
	}
	appendText(cursor, len(units))
	return segs
}

func entityText(units []uint16, ent telego.MessageEntity) string {
	from, to := ent.Offset, ent.Offset+ent.Length
	if from < 0 || from >= len(units) {
		return ""
	}
	if to > len(units) {
		to = len(units)
	}
	return string(utf16.Decode(units[from:to]))
}

func convertAttachment(msg *telego.Message, resolve FileURLResolver) *message.Media {
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first; take the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		return mediaFromFile(message.MediaImage, largest.FileID, "", msg.HasMediaSpoiler, resolve)
	case msg.Sticker != nil:
		return mediaFromFile(message.MediaImage, msg.Sticker.FileID, "", false, resolve)
	case msg.Video != nil:
		return mediaFromFile(message.MediaVideo, msg.Video.FileID, msg.Video.FileName, msg.HasMediaSpoiler, resolve)
	case msg.Audio != nil:
		return mediaFromFile(message.MediaAudio, msg.Audio.FileID, msg.Audio.FileName, false, resolve)
	case msg.Voice != nil:
		return mediaFromFile(message.MediaAudio, msg.Voice.FileID, "", false, resolve)
	case msg.Document != nil:
		return mediaFromFile(message.MediaFile, msg.Document.FileID, msg.Document.FileName, false, resolve)
	default:
		return nil
	}
}

func mediaFromFile(kind message.MediaKind, fileID, filename string, spoiler bool, resolve FileURLResolver) *message.Media {
	m := &message.Media{Kind: kind, Filename: filename, Spoiler: spoiler}
	if resolve != nil {
		if url, err := resolve(fileID); err == nil {
			m.URL = url
		}
	}
	return m
}

// ThreadID extracts the forum thread id of a message. The structured field
// is checked first, then the reply envelope: depending on delivery the
// same logical value surfaces at either path.
func ThreadID(msg *telego.Message) int {
	if msg.MessageThreadID != 0 {
		return msg.MessageThreadID
	}
	if msg.ReplyToMessage != nil {
		return msg.ReplyToMessage.MessageThreadID
	}
	return 0
}

// ReplyTargetID returns the id of the message this one genuinely replies
// to, or zero. In forum topics every message carries a synthetic reply to
// the topic-creation message; that is not a user-visible reply.
func ReplyTargetID(msg *telego.Message) int {
	if msg.ReplyToMessage == nil {
		return 0
	}
	if msg.MessageThreadID != 0 && msg.ReplyToMessage.MessageID == msg.MessageThreadID {
		return 0
	}
	return msg.ReplyToMessage.MessageID
}

func displayName(u *telego.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

func timestamp(msg *telego.Message) time.Time {
	return time.Unix(msg.Date, 0)
}
