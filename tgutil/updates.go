package tgutil

import (
	"github.com/gotd/td/tg"
)

// SentMessageID extracts the ID Telegram assigned to a message we just sent
// from the updates the send call returned.
func SentMessageID(u tg.UpdatesClass) (int, bool) {
	switch u := u.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, true
	case *tg.Updates:
		return messageIDFromUpdates(u.Updates)
	case *tg.UpdatesCombined:
		return messageIDFromUpdates(u.Updates)
	default:
		return 0, false
	}
}

func messageIDFromUpdates(updates []tg.UpdateClass) (int, bool) {
	for _, upd := range updates {
		switch upd := upd.(type) {
		case *tg.UpdateMessageID:
			return upd.ID, true
		case *tg.UpdateNewMessage:
			if m, ok := upd.Message.(*tg.Message); ok {
				return m.ID, true
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := upd.Message.(*tg.Message); ok {
				return m.ID, true
			}
		}
	}
	return 0, false
}
