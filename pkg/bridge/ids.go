// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"strconv"

	"github.com/aiku/onebot-telegram/pkg/onebot"
)

// oneBotDedupKey identifies a OneBot group message for the dedup cache.
// OneBot message ids are only unique per source, so the group id is part
// of the key.
func oneBotDedupKey(groupID, messageID int64) string {
	return fmt.Sprintf("onebot:%d:%d", groupID, messageID)
}

// telegramDedupKey identifies a Telegram message for the dedup cache.
func telegramDedupKey(chatID int64, messageID int) string {
	return fmt.Sprintf("telegram:%d:%d", chatID, messageID)
}

// replyTargetID extracts the replied-to message id from a OneBot event, or
// zero when the event carries no reply segment.
func replyTargetID(evt *onebot.Event) int64 {
	for _, seg := range evt.Message {
		if seg.Type != "reply" {
			continue
		}
		id, err := strconv.ParseInt(seg.Str("id"), 10, 64)
		if err != nil {
			return 0
		}
		return id
	}
	return 0
}
