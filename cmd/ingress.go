package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/queue"
	"github.com/iamrita-ai/Terabox-Drive/sliceutil"
	"github.com/iamrita-ai/Terabox-Drive/tgutil"
)

// buildOnMessage builds the new-message handler. Message sending inside uses
// msgCtx instead of the handler context so in-flight conversations get a grace
// period after shutdown is requested.
func buildOnMessage(w *Worker, msgCtx context.Context, cfg config.Config) func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	return func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		m, ok := update.Message.(*tg.Message)
		if !ok || m.Out {
			return nil
		}

		peerUser, ok := m.PeerID.(*tg.PeerUser)
		if !ok {
			// The bot only talks to users in private chats.
			return nil
		}
		user, ok := e.Users[peerUser.UserID]
		if !ok {
			return nil
		}

		s := &session{
			userID:   user.ID,
			peer:     user.AsInputPeer(),
			msgID:    m.ID,
			statusID: 0,
		}
		reply := w.sender.Reply(e, update)

		if err := w.store.UpsertUser(ctx, user.ID, user.Username, user.FirstName, user.AccessHash); nil != err {
			if errutil.IsContext(ctx) {
				return nil
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to upsert user")
		}

		banned, err := w.store.IsBanned(ctx, user.ID)
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user ban state")
			return nil
		}
		if banned {
			w.logger.Debug().Int64("user_id", user.ID).Msg("Ignoring message from banned user")
			return nil
		}

		text := strings.TrimSpace(m.Message)
		isAdmin := slices.Contains(cfg.AdminIDs, user.ID)

		if media, ok := m.GetMedia(); ok {
			if photo, ok := media.(*tg.MessageMediaPhoto); ok && strings.HasPrefix(text, "/setthumb") {
				w.handleSetThumb(ctx, msgCtx, s, reply, photo)
			}
			return nil
		}

		cmd, args, _ := strings.Cut(text, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		args = strings.TrimSpace(args)
		switch cmd {
		case "/start":
			w.handleStart(msgCtx, reply, user.FirstName)
		case "/help":
			w.handleHelp(msgCtx, reply)
		case "/cancel":
			w.handleCancel(msgCtx, s, reply)
		case "/cancelall":
			w.handleCancelAll(msgCtx, s, reply)
		case "/status":
			w.handleStatus(msgCtx, s, reply)
		case "/settings":
			w.handleSettings(ctx, msgCtx, s, reply)
		case "/setcaption":
			w.handleSetCaption(ctx, msgCtx, s, reply, args)
		case "/delcaption":
			w.handleDelCaption(ctx, msgCtx, s, reply)
		case "/setthumb":
			w.sendText(msgCtx, reply, styling.Plain("Send a photo with /setthumb as its caption to set your thumbnail."))
		case "/delthumb":
			w.handleDelThumb(ctx, msgCtx, s, reply)
		case "/settarget":
			w.handleSetTarget(ctx, msgCtx, s, reply, args)
		case "/ban", "/unban", "/addpremium", "/delpremium", "/stats":
			if !isAdmin {
				w.sendText(msgCtx, reply, styling.Plain("This command is for admins only."))
				return nil
			}
			w.handleAdminCommand(ctx, msgCtx, reply, cmd, args)
		case "/broadcast":
			if !isAdmin {
				w.sendText(msgCtx, reply, styling.Plain("This command is for admins only."))
				return nil
			}
			w.handleBroadcast(ctx, msgCtx, reply, args)
		default:
			if strings.HasPrefix(cmd, "/") {
				w.sendText(msgCtx, reply, styling.Plain("Unknown command. See /help for what I understand."))
				return nil
			}
			w.handleLinks(ctx, msgCtx, s, reply, text)
		}
		return nil
	}
}

func (w *Worker) handleLinks(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder, text string) {
	links := leech.ExtractLinks(text)
	if len(links) == 0 {
		w.sendText(msgCtx, reply, styling.Plain("Send me a Google Drive, Terabox, or direct download link."))
		return
	}

	supported := lo.Filter(links, func(link string, _ int) bool {
		_, ok := leech.Classify(link)
		return ok
	})
	if len(supported) == 0 {
		w.sendText(msgCtx, reply,
			styling.Plain("None of the links you sent are supported."),
			styling.Plain("\n"),
			styling.Plain("I can leech Google Drive, Terabox, and direct download links."),
		)
		return
	}

	if !w.checkForceSub(ctx, msgCtx, s, reply) {
		return
	}

	premium, err := w.store.IsPremium(ctx, s.userID)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read premium state")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}

	if !premium && w.config.FreeDailyLimit > 0 {
		used, err := w.store.QuotaUsed(ctx, s.userID, time.Now())
		if nil != err {
			if errutil.IsContext(ctx) {
				return
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user quota")
			w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
			return
		}
		remaining := w.config.FreeDailyLimit - used
		if remaining <= 0 {
			w.sendText(msgCtx, reply,
				styling.Plain(fmt.Sprintf("You have used all %d of your daily downloads.", w.config.FreeDailyLimit)),
				styling.Plain("\n"),
				styling.Plain("Come back tomorrow, or ask an admin for premium."),
			)
			return
		}
		if len(supported) > remaining {
			dropped := len(supported) - remaining
			supported = supported[:remaining]
			w.sendText(msgCtx, reply, styling.Plain(fmt.Sprintf("Only %d of your links fit into today's quota. Dropped the last %d.", remaining, dropped)))
		}
	}

	tasks := sliceutil.Map(supported, func(link string) *queue.Task {
		//nolint:exhaustruct
		return &queue.Task{
			ID:        uuid.NewString(),
			UserID:    s.userID,
			URL:       link,
			ChatID:    s.userID,
			ReplyToID: s.msgID,
		}
	})
	added := w.queue.EnqueueBatch(tasks)
	if added == 0 {
		w.sendText(msgCtx, reply, styling.Plain("Could not queue any of your links."))
		return
	}

	if !premium && w.config.FreeDailyLimit > 0 {
		if err := w.store.ConsumeQuota(ctx, s.userID, added, time.Now()); nil != err {
			if errutil.IsContext(ctx) {
				return
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to consume user quota")
		}
	}

	stats := w.queue.Stats(s.userID)
	upd, err := reply.StyledText(msgCtx,
		styling.Plain(fmt.Sprintf("Queued %d link(s).", added)),
		styling.Plain("\n"),
		styling.Plain(fmt.Sprintf("Tasks waiting: %d", stats.Pending)),
	)
	if nil != err {
		if errutil.IsContext(msgCtx) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send queue position message: %v", err)).Append(flawP))).Msg("Failed to send queue position message")
	} else if id, ok := tgutil.SentMessageID(upd); ok {
		s.statusID = id
	}

	if w.queue.StartProcessing(s.userID) {
		go w.processUser(msgCtx, s)
	}
}

// checkForceSub reports whether the user may use the bot with respect to the
// forced subscription channel. Lookup failures do not lock users out.
func (w *Worker) checkForceSub(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder) bool {
	channel := w.config.ForceSubChannel
	if channel == "" {
		return true
	}

	member, err := w.isChannelMember(ctx, channel, s.peer)
	if nil != err {
		if errutil.IsContext(ctx) {
			return false
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to check channel membership")
		return true
	}
	if !member {
		w.sendText(msgCtx, reply,
			styling.Plain("You must join our channel before using this bot:"),
			styling.Plain("\n"),
			styling.Plain(channel),
		)
		return false
	}
	return true
}

func (w *Worker) isChannelMember(ctx context.Context, channel string, peer tg.InputPeerClass) (bool, error) {
	inputPeer, err := w.sender.Resolve(channel).AsInputPeer(ctx)
	if nil != err {
		if errutil.IsContext(ctx) {
			return false, ctx.Err()
		}
		flawP := flaw.P{"channel": channel, "err_debug_tree": errutil.Tree(err).FlawP()}
		return false, flaw.From(fmt.Errorf("failed to resolve channel peer: %v", err)).Append(flawP)
	}
	ch, ok := inputPeer.(*tg.InputPeerChannel)
	if !ok {
		flawP := flaw.P{"channel": channel, "peer_type": fmt.Sprintf("%T", inputPeer)}
		return false, flaw.From(fmt.Errorf("forced subscription peer %q is not a channel", channel)).Append(flawP)
	}

	_, err = w.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
		Participant: peer,
	})
	if nil != err {
		switch {
		case tgerr.Is(err, "USER_NOT_PARTICIPANT"):
			return false, nil
		case errutil.IsContext(ctx):
			return false, ctx.Err()
		default:
			flawP := flaw.P{"channel": channel, "err_debug_tree": errutil.Tree(err).FlawP()}
			return false, flaw.From(fmt.Errorf("failed to get channel participant: %v", err)).Append(flawP)
		}
	}
	return true, nil
}
