// Copyright 2024-2026 Aiku AI

// Package bridge is the relay orchestrator. It consumes native events from
// both platforms, routes them through the pair directory, applies per-pair
// policy and filters, converts via the neutral message model and hands the
// result to the paced send queues.
package bridge

import (
	"context"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/onebot-telegram/pkg/bridge/onebotfmt"
	"github.com/aiku/onebot-telegram/pkg/bridge/telegramfmt"
	"github.com/aiku/onebot-telegram/pkg/dedup"
	"github.com/aiku/onebot-telegram/pkg/message"
	"github.com/aiku/onebot-telegram/pkg/onebot"
	"github.com/aiku/onebot-telegram/pkg/pairs"
	"github.com/aiku/onebot-telegram/pkg/queue"
	"github.com/aiku/onebot-telegram/pkg/store"
)

// OneBotTransport is the OneBot client surface the orchestrator needs.
// *onebot.Client satisfies it.
type OneBotTransport interface {
	SendGroupMessage(ctx context.Context, groupID int64, segments []onebot.Segment) (int64, error)
	GetMessage(ctx context.Context, messageID int64) (*onebot.MessageInfo, error)
	GetForwardMessages(ctx context.Context, forwardID string) ([]onebot.ForwardNode, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (*onebot.GroupMember, error)
}

// TelegramTransport is the Telegram client surface the orchestrator needs.
// *telegram.Client satisfies it.
type TelegramTransport interface {
	Send(ctx context.Context, chatID int64, plan *telegramfmt.SendPlan) (int, error)
	MemberDisplayName(ctx context.Context, chatID, userID int64) string
	FileURL(ctx context.Context, fileID string) (string, error)
}

// CorrelationStore records and resolves cross-platform message id pairs.
// *store.Database satisfies it.
type CorrelationStore interface {
	SaveCorrelation(ctx context.Context, c store.Correlation) error
	TelegramIDForOneBot(ctx context.Context, instanceID string, roomID int64, onebotMsgID string) (int64, bool, error)
	OneBotIDForTelegram(ctx context.Context, instanceID string, chatID int64, telegramMsgID int64) (string, bool, error)
}

// Bridge wires the two platform clients together.
type Bridge struct {
	log        zerolog.Logger
	instanceID string

	directory *pairs.Directory
	corr      CorrelationStore
	ob        OneBotTransport
	tg        TelegramTransport

	seen        *dedup.Cache
	toTelegram  *queue.SendQueue
	toOneBot    *queue.SendQueue
	materialize *onebotfmt.Materializer
	metrics     Collector
}

// Params collects the dependencies of New.
type Params struct {
	InstanceID  string
	Directory   *pairs.Directory
	Correlation CorrelationStore
	OneBot      OneBotTransport
	Telegram    TelegramTransport
	Materialize *onebotfmt.Materializer
	MinInterval time.Duration
	Metrics     Collector
	Log         zerolog.Logger
}

func New(p Params) *Bridge {
	if p.Metrics == nil {
		p.Metrics = NopCollector{}
	}
	log := p.Log.With().Str("component", "bridge").Logger()
	return &Bridge{
		log:         log,
		instanceID:  p.InstanceID,
		directory:   p.Directory,
		corr:        p.Correlation,
		ob:          p.OneBot,
		tg:          p.Telegram,
		seen:        dedup.NewCache(),
		toTelegram:  queue.New("telegram", p.MinInterval, p.Log),
		toOneBot:    queue.New("onebot", p.MinInterval, p.Log),
		materialize: p.Materialize,
		metrics:     p.Metrics,
	}
}

// Close stops the send queues. Queued tasks are dropped and their Enqueue
// callers receive ErrQueueClosed; a task already running completes.
func (b *Bridge) Close() {
	b.toTelegram.Close()
	b.toOneBot.Close()
}

// HandleOneBotEvent relays one inbound OneBot event toward Telegram.
// Non-relayable events are dropped silently except for a debug log.
func (b *Bridge) HandleOneBotEvent(ctx context.Context, evt *onebot.Event) {
	if !evt.IsGroupMessage() {
		return
	}
	if evt.UserID == evt.SelfID {
		// Own messages come back as events; relaying them would loop.
		return
	}
	log := b.log.With().
		Int64("room_id", evt.GroupID).
		Int64("message_id", evt.MessageID).
		Logger()

	pair := b.directory.FindByRoom(evt.GroupID)
	if pair == nil {
		log.Trace().Msg("No pair for room")
		return
	}
	if !pair.ForwardEnabled(pairs.OneBotToTelegram) {
		log.Debug().Msg("Forwarding disabled for direction")
		return
	}
	if pair.IgnoresSender(strconv.FormatInt(evt.UserID, 10)) {
		log.Debug().Int64("sender_id", evt.UserID).Msg("Sender blocklisted")
		return
	}

	key := oneBotDedupKey(evt.GroupID, evt.MessageID)
	if b.seen.Seen(key) {
		log.Debug().Msg("Duplicate event dropped")
		return
	}
	b.seen.MarkSeen(key, dedup.DefaultTTL)

	start := time.Now()
	u := onebotfmt.FromOneBot(evt, onebotfmt.Options{
		ReplyContext:   b.fetchReplyContext(ctx, evt),
		ForwardFetcher: func(id string) ([]onebot.ForwardNode, error) { return b.ob.GetForwardMessages(ctx, id) },
	})
	if pair.MatchesFilter(u.PlainText(), b.log) {
		log.Debug().Msg("Message matched ignore filter")
		return
	}

	b.enrichOneBotMentions(ctx, evt.GroupID, u)
	if pair.NicknameEnabled(pairs.OneBotToTelegram) && u.Sender.Name != "" {
		u.PrependText(u.Sender.Name + ": ")
	}

	plan := telegramfmt.ToTelegram(u)
	plan.ThreadID = int(pair.ThreadID)
	if r := u.ReplySegment(); r != nil {
		if tgID, found, err := b.corr.TelegramIDForOneBot(ctx, b.instanceID, pair.RoomID, r.MessageID); err != nil {
			log.Warn().Err(err).Msg("Reply correlation lookup failed")
		} else if found {
			plan.ReplyTo = int(tgID)
		}
	}
	if plan.Empty() {
		log.Debug().Msg("Nothing to send after conversion")
		return
	}

	result, err := b.toTelegram.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return b.tg.Send(ctx, pair.ChatID, plan)
	})
	if err != nil {
		b.metrics.RelayFailed()
		log.Error().Err(err).Msg("Relay to Telegram failed")
		return
	}
	tgMsgID := result.(int)

	if err := b.corr.SaveCorrelation(ctx, store.Correlation{
		InstanceID:    b.instanceID,
		RoomID:        pair.RoomID,
		OneBotMsgID:   u.ID,
		ChatID:        pair.ChatID,
		TelegramMsgID: int64(tgMsgID),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record correlation")
	}
	b.metrics.RelaySucceeded(time.Since(start))
	log.Info().
		Int("telegram_msg_id", tgMsgID).
		Str("preview", onebotfmt.PreviewText(u)).
		Msg("Relayed to Telegram")
}

// fetchReplyContext loads the replied-to message so the reply segment can
// be attributed. Lookup failure degrades to an unattributed reply.
func (b *Bridge) fetchReplyContext(ctx context.Context, evt *onebot.Event) *onebot.MessageInfo {
	id := replyTargetID(evt)
	if id == 0 {
		return nil
	}
	info, err := b.ob.GetMessage(ctx, id)
	if err != nil {
		b.log.Debug().Err(err).Int64("reply_id", id).Msg("Reply context lookup failed")
		return nil
	}
	return info
}

// HandleTelegramMessage relays one inbound Telegram message toward OneBot.
func (b *Bridge) HandleTelegramMessage(ctx context.Context, msg *telego.Message) {
	if msg.Chat.Type != "group" && msg.Chat.Type != "supergroup" {
		return
	}
	log := b.log.With().
		Int64("chat_id", msg.Chat.ID).
		Int("message_id", msg.MessageID).
		Logger()

	threadID := int64(telegramfmt.ThreadID(msg))
	pair := b.directory.FindByChat(msg.Chat.ID, threadID, false)
	if pair == nil {
		log.Trace().Int64("thread_id", threadID).Msg("No pair for chat")
		return
	}
	if !pair.ForwardEnabled(pairs.TelegramToOneBot) {
		log.Debug().Msg("Forwarding disabled for direction")
		return
	}
	if msg.From != nil && pair.IgnoresSender(strconv.FormatInt(msg.From.ID, 10)) {
		log.Debug().Int64("sender_id", msg.From.ID).Msg("Sender blocklisted")
		return
	}

	key := telegramDedupKey(msg.Chat.ID, msg.MessageID)
	if b.seen.Seen(key) {
		log.Debug().Msg("Duplicate message dropped")
		return
	}
	b.seen.MarkSeen(key, dedup.DefaultTTL)

	start := time.Now()
	u := telegramfmt.FromTelegram(msg, func(fileID string) (string, error) {
		return b.tg.FileURL(ctx, fileID)
	})
	if pair.MatchesFilter(u.PlainText(), b.log) {
		log.Debug().Msg("Message matched ignore filter")
		return
	}

	b.enrichTelegramMentions(ctx, msg.Chat.ID, u)
	b.resolveTelegramReply(ctx, msg, pair, u, log)
	if pair.NicknameEnabled(pairs.TelegramToOneBot) && u.Sender.Name != "" {
		u.PrependText(u.Sender.Name + ": ")
	}

	segments := onebotfmt.ToOneBot(u, b.materialize)
	if len(segments) == 0 {
		log.Debug().Msg("Nothing to send after conversion")
		return
	}

	result, err := b.toOneBot.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return b.ob.SendGroupMessage(ctx, pair.RoomID, segments)
	})
	if err != nil {
		b.metrics.RelayFailed()
		log.Error().Err(err).Msg("Relay to OneBot failed")
		return
	}
	obMsgID := result.(int64)

	if err := b.corr.SaveCorrelation(ctx, store.Correlation{
		InstanceID:    b.instanceID,
		RoomID:        pair.RoomID,
		OneBotMsgID:   strconv.FormatInt(obMsgID, 10),
		ChatID:        pair.ChatID,
		TelegramMsgID: int64(msg.MessageID),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record correlation")
	}
	b.metrics.RelaySucceeded(time.Since(start))
	log.Info().
		Int64("onebot_msg_id", obMsgID).
		Str("preview", onebotfmt.PreviewText(u)).
		Msg("Relayed to OneBot")
}

// resolveTelegramReply rewrites the reply segment's id to its OneBot
// counterpart. Without a correlation the reply segment is dropped: an id
// from the wrong platform must never reach the outbound message.
func (b *Bridge) resolveTelegramReply(ctx context.Context, msg *telego.Message, pair *pairs.Pair, u *message.Unified, log zerolog.Logger) {
	r := u.ReplySegment()
	if r == nil {
		return
	}
	tgReplyID := int64(telegramfmt.ReplyTargetID(msg))
	obID, found, err := b.corr.OneBotIDForTelegram(ctx, b.instanceID, pair.ChatID, tgReplyID)
	if err != nil {
		log.Warn().Err(err).Msg("Reply correlation lookup failed")
	}
	if err != nil || !found {
		dropReplySegment(u)
		return
	}
	r.MessageID = obID
}

func dropReplySegment(u *message.Unified) {
	kept := u.Content[:0]
	for _, seg := range u.Content {
		if _, ok := seg.(*message.Reply); ok {
			continue
		}
		kept = append(kept, seg)
	}
	u.Content = kept
}

// enrichOneBotMentions fills in mention display names via group member
// lookups. An already present name wins; lookups are cached per message.
func (b *Bridge) enrichOneBotMentions(ctx context.Context, groupID int64, u *message.Unified) {
	var cache map[string]string
	for _, at := range u.Mentions() {
		if at.UserName != "" && at.UserName != at.UserID {
			continue
		}
		if cache == nil {
			cache = make(map[string]string)
		}
		name, ok := cache[at.UserID]
		if !ok {
			name = b.lookupOneBotName(ctx, groupID, at.UserID)
			cache[at.UserID] = name
		}
		if name != "" {
			at.UserName = name
		} else if at.UserName == "" {
			at.UserName = at.UserID
		}
	}
}

func (b *Bridge) lookupOneBotName(ctx context.Context, groupID int64, userID string) string {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return ""
	}
	member, err := b.ob.GetGroupMemberInfo(ctx, groupID, id)
	if err != nil {
		b.log.Debug().Err(err).Str("user_id", userID).Msg("Member lookup failed")
		return ""
	}
	return member.DisplayName()
}

// enrichTelegramMentions fills in mention display names via chat member
// lookups, same caching rules as the OneBot side.
func (b *Bridge) enrichTelegramMentions(ctx context.Context, chatID int64, u *message.Unified) {
	var cache map[string]string
	for _, at := range u.Mentions() {
		if at.UserName != "" && at.UserName != at.UserID {
			continue
		}
		if cache == nil {
			cache = make(map[string]string)
		}
		name, ok := cache[at.UserID]
		if !ok {
			if id, err := strconv.ParseInt(at.UserID, 10, 64); err == nil {
				name = b.tg.MemberDisplayName(ctx, chatID, id)
			}
			cache[at.UserID] = name
		}
		if name != "" {
			at.UserName = name
		} else if at.UserName == "" {
			at.UserName = at.UserID
		}
	}
}
