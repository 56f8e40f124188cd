// Copyright 2024-2026 Aiku AI

// Package telegram wraps the Bot API client behind the narrow surface the
// relay needs: a message feed, plan-based sending, and member lookups.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/rs/zerolog"

	"github.com/aiku/onebot-telegram/pkg/bridge/telegramfmt"
	"github.com/aiku/onebot-telegram/pkg/message"
)

// captionLimit is the Bot API caption length cap in UTF-16 code units.
// Plans with longer text send the media and the text separately.
const captionLimit = 1024

// Client owns one bot session.
type Client struct {
	bot    *telego.Bot
	selfID int64
	log    zerolog.Logger

	// OnMessage receives every non-self inbound message. Set before Run.
	OnMessage func(msg *telego.Message)
}

func NewClient(ctx context.Context, token string, log zerolog.Logger) (*Client, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	log.Info().Int64("bot_id", me.ID).Str("username", me.Username).Msg("Telegram bot authenticated")
	return &Client{
		bot:    bot,
		selfID: me.ID,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// SelfID returns the bot's own user id, used for echo suppression.
func (c *Client) SelfID() int64 {
	return c.selfID
}

// Run consumes long-polling updates until the context is canceled.
func (c *Client) Run(ctx context.Context) error {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			msg := update.Message
			if msg == nil || msg.From == nil {
				continue
			}
			if msg.From.ID == c.selfID {
				continue
			}
			if c.OnMessage != nil {
				c.OnMessage(msg)
			}
		}
	}
}

// Send delivers a plan to a chat. It returns the id of the last message
// sent, which is the one replies should correlate against.
func (c *Client) Send(ctx context.Context, chatID int64, plan *telegramfmt.SendPlan) (int, error) {
	if plan.Empty() {
		return 0, errors.New("empty send plan")
	}

	chat := telego.ChatID{ID: chatID}
	var reply *telego.ReplyParameters
	if plan.ReplyTo != 0 {
		reply = &telego.ReplyParameters{MessageID: plan.ReplyTo}
	}

	lastID := 0
	text := plan.Text
	entities := plan.Entities

	for i, item := range plan.Media {
		caption, captionEntities := "", []telego.MessageEntity(nil)
		// Fold the text into the first attachment's caption when it fits.
		if i == 0 && text != "" && len(plan.Media) == 1 && utf16Len(text) <= captionLimit {
			caption, captionEntities = text, entities
			text, entities = "", nil
		}
		id, err := c.sendMedia(ctx, chat, plan.ThreadID, reply, item, caption, captionEntities)
		if err != nil {
			return lastID, normalizeError(err)
		}
		lastID = id
		reply = nil
	}

	if plan.Location != nil {
		msg, err := c.bot.SendLocation(ctx, &telego.SendLocationParams{
			ChatID:          chat,
			Latitude:        plan.Location.Lat,
			Longitude:       plan.Location.Lon,
			MessageThreadID: plan.ThreadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return lastID, normalizeError(err)
		}
		lastID = msg.MessageID
		reply = nil
	}

	if text != "" {
		msg, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:          chat,
			Text:            text,
			Entities:        entities,
			MessageThreadID: plan.ThreadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return lastID, normalizeError(err)
		}
		lastID = msg.MessageID
	}
	return lastID, nil
}

func (c *Client) sendMedia(
	ctx context.Context,
	chat telego.ChatID,
	threadID int,
	reply *telego.ReplyParameters,
	item telegramfmt.MediaItem,
	caption string,
	captionEntities []telego.MessageEntity,
) (int, error) {
	file, cleanup, err := inputFile(item)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	switch item.Kind {
	case message.MediaImage:
		msg, err := c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:          chat,
			Photo:           file,
			Caption:         caption,
			CaptionEntities: captionEntities,
			HasSpoiler:      item.Spoiler,
			MessageThreadID: threadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return 0, err
		}
		return msg.MessageID, nil
	case message.MediaVideo:
		msg, err := c.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID:          chat,
			Video:           file,
			Caption:         caption,
			CaptionEntities: captionEntities,
			HasSpoiler:      item.Spoiler,
			MessageThreadID: threadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return 0, err
		}
		return msg.MessageID, nil
	case message.MediaAudio:
		msg, err := c.bot.SendAudio(ctx, &telego.SendAudioParams{
			ChatID:          chat,
			Audio:           file,
			Caption:         caption,
			CaptionEntities: captionEntities,
			MessageThreadID: threadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return 0, err
		}
		return msg.MessageID, nil
	default:
		msg, err := c.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID:          chat,
			Document:        file,
			Caption:         caption,
			CaptionEntities: captionEntities,
			MessageThreadID: threadID,
			ReplyParameters: reply,
		})
		if err != nil {
			return 0, err
		}
		return msg.MessageID, nil
	}
}

// inputFile builds a Bot API input file from whichever payload source the
// item carries. The cleanup closes any opened local file.
func inputFile(item telegramfmt.MediaItem) (telego.InputFile, func(), error) {
	nop := func() {}
	switch {
	case len(item.Data) > 0:
		return telego.InputFile{File: namedBuffer{bytes.NewReader(item.Data), item.Filename}}, nop, nil
	case item.LocalPath != "":
		f, err := os.Open(item.LocalPath)
		if err != nil {
			return telego.InputFile{}, nop, fmt.Errorf("open media file: %w", err)
		}
		return telego.InputFile{File: namedFile{f, item.Filename}}, func() { f.Close() }, nil
	case item.URL != "":
		return telego.InputFile{URL: item.URL}, nop, nil
	default:
		return telego.InputFile{}, nop, errors.New("media item has no payload source")
	}
}

// namedFile gives an opened file an explicit upload name.
type namedFile struct {
	*os.File
	name string
}

func (f namedFile) Name() string {
	if f.name != "" {
		return f.name
	}
	return f.File.Name()
}

// namedBuffer uploads an in-memory payload under an explicit name.
type namedBuffer struct {
	*bytes.Reader
	name string
}

func (b namedBuffer) Name() string {
	if b.name != "" {
		return b.name
	}
	return "attachment"
}

// MemberDisplayName resolves a chat member's display name, or "" when the
// lookup fails.
func (c *Client) MemberDisplayName(ctx context.Context, chatID, userID int64) string {
	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: telego.ChatID{ID: chatID},
		UserID: userID,
	})
	if err != nil {
		c.log.Debug().Err(err).Int64("user_id", userID).Msg("Chat member lookup failed")
		return ""
	}
	u := member.MemberUser()
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// FileURL resolves a file id to its download URL.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file %s: %w", fileID, normalizeError(err))
	}
	return c.bot.FileDownloadURL(file.FilePath), nil
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// normalizeError rewrites rate-limit responses so the retry-after seconds
// appear as a FLOOD_WAIT_<n> token the send queue can parse.
func normalizeError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
		return fmt.Errorf("FLOOD_WAIT_%d: %w", apiErr.Parameters.RetryAfter, err)
	}
	return err
}
