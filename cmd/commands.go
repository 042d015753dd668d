package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/iterutil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/mathutil"
	"github.com/iamrita-ai/Terabox-Drive/queue"
	"github.com/iamrita-ai/Terabox-Drive/store"
)

func (w *Worker) handleStart(msgCtx context.Context, reply *message.Builder, firstName string) {
	w.sendText(msgCtx, reply,
		styling.Plain(fmt.Sprintf("Hi %s!", firstName)),
		styling.Plain("\n"),
		styling.Plain("Send me Google Drive, Terabox, or direct download links and I will upload the files right here."),
		styling.Plain("\n"),
		styling.Plain("Multiple links in one message are processed one by one."),
		styling.Plain("\n"),
		styling.Plain("See /help for everything I understand."),
	)
}

func (w *Worker) handleHelp(msgCtx context.Context, reply *message.Builder) {
	w.sendText(msgCtx, reply,
		styling.Bold("Leeching"),
		styling.Plain("\nSend any message containing Google Drive, Terabox, or direct download links."),
		styling.Plain("\n\n"),
		styling.Bold("Queue"),
		styling.Plain("\n"),
		styling.Code("/status"),
		styling.Plain(" shows your queue, "),
		styling.Code("/cancel"),
		styling.Plain(" cancels the running task, "),
		styling.Code("/cancelall"),
		styling.Plain(" drops everything."),
		styling.Plain("\n\n"),
		styling.Bold("Personalization"),
		styling.Plain("\n"),
		styling.Code("/settings"),
		styling.Plain(" shows your current setup."),
		styling.Plain("\n"),
		styling.Code("/setcaption"),
		styling.Plain(" sets a caption template with {filename}, {size}, and {ext} placeholders."),
		styling.Plain("\n"),
		styling.Plain("Send a photo with "),
		styling.Code("/setthumb"),
		styling.Plain(" as its caption to use it as thumbnail, "),
		styling.Code("/delthumb"),
		styling.Plain(" removes it."),
		styling.Plain("\n"),
		styling.Code("/settarget @channel"),
		styling.Plain(" uploads to that chat instead, "),
		styling.Code("/settarget me"),
		styling.Plain(" switches back."),
	)
}

func (w *Worker) handleCancel(msgCtx context.Context, s *session, reply *message.Builder) {
	if w.queue.CancelCurrent(s.userID) {
		w.sendText(msgCtx, reply, styling.Plain("Canceled the running task."))
		return
	}
	w.sendText(msgCtx, reply, styling.Plain("No task is running."))
}

func (w *Worker) handleCancelAll(msgCtx context.Context, s *session, reply *message.Builder) {
	n := w.queue.CancelAll(s.userID)
	if n == 0 {
		w.sendText(msgCtx, reply, styling.Plain("Your queue is already empty."))
		return
	}
	w.sendText(msgCtx, reply, styling.Plain(fmt.Sprintf("Canceled %d task(s).", n)))
}

func (w *Worker) handleStatus(msgCtx context.Context, s *session, reply *message.Builder) {
	tasks := w.queue.UserTasks(s.userID)
	if len(tasks) == 0 {
		w.sendText(msgCtx, reply, styling.Plain("Your queue is empty."))
		return
	}

	const maxListed = 10
	lines := make([]styling.StyledTextOption, 0, 2*maxListed+4)
	lines = append(lines, styling.Bold(fmt.Sprintf("Your tasks (%d):", len(tasks))))
	for i, t := range tasks {
		if i == maxListed {
			lines = append(lines, styling.Plain(fmt.Sprintf("\nand %d more...", len(tasks)-maxListed)))
			break
		}
		lines = append(lines, styling.Plain("\n"+statusLine(t)))
	}
	w.sendText(msgCtx, reply, lines...)
}

func statusLine(t queue.Task) string {
	name := t.FileName
	if name == "" {
		const maxLen = 40
		name = t.URL
		if len(name) > maxLen {
			name = name[:maxLen] + "..."
		}
	}
	switch t.Status {
	case queue.StatusDownloading:
		return fmt.Sprintf("%s - downloading %d%%", name, t.Progress)
	case queue.StatusUploading:
		return fmt.Sprintf("%s - uploading", name)
	case queue.StatusQueued, queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled:
		return fmt.Sprintf("%s - %s", name, t.Status)
	default:
		return fmt.Sprintf("%s - %s", name, t.Status)
	}
}

func (w *Worker) handleSettings(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder) {
	settings, err := w.store.UserSettings(ctx, s.userID)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user settings")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
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

	caption := settings.Caption
	if caption == "" {
		caption = "default"
	}
	thumb := "not set"
	if settings.Thumbnail != "" {
		thumb = "set"
	}
	target := settings.TargetChat
	if target == "" {
		target = "this chat"
	}

	plan := "free"
	maxSize := w.config.FreeMaxFileSize
	if premium {
		plan = "premium"
		maxSize = w.config.PremiumMaxFileSize
	}

	lines := []styling.StyledTextOption{
		styling.Bold("Your settings"),
		styling.Plain("\nPlan: " + plan),
		styling.Plain("\nMax file size: " + leech.ReadableSize(maxSize)),
		styling.Plain("\nCaption: " + caption),
		styling.Plain("\nThumbnail: " + thumb),
		styling.Plain("\nUpload target: " + target),
	}
	if !premium && w.config.FreeDailyLimit > 0 {
		used, err := w.store.QuotaUsed(ctx, s.userID, time.Now())
		if nil != err {
			if errutil.IsContext(ctx) {
				return
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user quota")
		} else {
			lines = append(lines, styling.Plain(fmt.Sprintf("\nDaily downloads: %d of %d used", used, w.config.FreeDailyLimit)))
		}
	}
	w.sendText(msgCtx, reply, lines...)
}

func (w *Worker) handleSetCaption(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder, args string) {
	if args == "" {
		w.sendText(msgCtx, reply,
			styling.Plain("Usage: "),
			styling.Code("/setcaption <template>"),
			styling.Plain("\n"),
			styling.Plain("The template may use {filename}, {size}, and {ext} placeholders."),
		)
		return
	}
	const maxCaptionLen = 1024
	if len(args) > maxCaptionLen {
		w.sendText(msgCtx, reply, styling.Plain(fmt.Sprintf("Caption template is too long. Keep it under %d characters.", maxCaptionLen)))
		return
	}
	if err := w.store.SetCaption(ctx, s.userID, args); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to set user caption")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.sendText(msgCtx, reply, styling.Plain("Caption template saved."))
}

func (w *Worker) handleDelCaption(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder) {
	if err := w.store.SetCaption(ctx, s.userID, ""); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to clear user caption")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.sendText(msgCtx, reply, styling.Plain("Caption template removed."))
}

func (w *Worker) handleSetThumb(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder, media *tg.MessageMediaPhoto) {
	photo, ok := media.Photo.(*tg.Photo)
	if !ok {
		w.sendText(msgCtx, reply, styling.Plain("Could not read that photo. Send it again."))
		return
	}

	var (
		sizeType string
		maxArea  int
	)
	for _, sz := range photo.Sizes {
		switch sz := sz.(type) {
		case *tg.PhotoSize:
			if area := sz.W * sz.H; area > maxArea {
				maxArea = area
				sizeType = sz.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := sz.W * sz.H; area > maxArea {
				maxArea = area
				sizeType = sz.Type
			}
		}
	}
	if sizeType == "" {
		w.sendText(msgCtx, reply, styling.Plain("Could not read that photo. Send it again."))
		return
	}

	//nolint:exhaustruct
	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     sizeType,
	}
	thumbPath := filepath.Join(w.thumbsDir, strconv.FormatInt(s.userID, 10)+".jpg")
	if _, err := downloader.NewDownloader().Download(w.api, loc).ToPath(ctx, thumbPath); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"thumb_path": thumbPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to download thumbnail photo: %v", err)).Append(flawP))).Msg("Failed to download thumbnail photo")
		w.sendText(msgCtx, reply, styling.Plain("Failed to save that photo. Try again later."))
		return
	}

	if err := w.store.SetThumbnail(ctx, s.userID, thumbPath); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to set user thumbnail")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.cache.UploadedThumbs.Delete(strconv.FormatInt(s.userID, 10))
	w.sendText(msgCtx, reply, styling.Plain("Thumbnail saved. It will be used for your uploads."))
}

func (w *Worker) handleDelThumb(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder) {
	settings, err := w.store.UserSettings(ctx, s.userID)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user settings")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	if settings.Thumbnail == "" {
		w.sendText(msgCtx, reply, styling.Plain("You have no thumbnail set."))
		return
	}

	if err := os.Remove(settings.Thumbnail); nil != err && !errors.Is(err, os.ErrNotExist) {
		w.logger.Error().Str("thumb_path", settings.Thumbnail).Err(err).Msg("Failed to remove thumbnail file")
	}
	if err := w.store.SetThumbnail(ctx, s.userID, ""); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to clear user thumbnail")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.cache.UploadedThumbs.Delete(strconv.FormatInt(s.userID, 10))
	w.sendText(msgCtx, reply, styling.Plain("Thumbnail removed."))
}

func (w *Worker) handleSetTarget(ctx context.Context, msgCtx context.Context, s *session, reply *message.Builder, args string) {
	if args == "" {
		w.sendText(msgCtx, reply,
			styling.Plain("Usage: "),
			styling.Code("/settarget @channel"),
			styling.Plain(" or "),
			styling.Code("/settarget me"),
			styling.Plain("\n"),
			styling.Plain("The bot must be a member of the target chat with permission to post."),
		)
		return
	}

	if args == "me" {
		if err := w.store.SetTargetChat(ctx, s.userID, ""); nil != err {
			if errutil.IsContext(ctx) {
				return
			}
			w.logger.Error().Func(log.Flaw(err)).Msg("Failed to clear user target chat")
			w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
			return
		}
		w.sendText(msgCtx, reply, styling.Plain("Files will be sent to this chat."))
		return
	}

	if _, err := w.sender.Resolve(args).AsInputPeer(ctx); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Debug().Str("target", args).Err(err).Msg("Failed to resolve requested target chat")
		w.sendText(msgCtx, reply, styling.Plain("Could not resolve that chat. Use a public @username of a chat the bot is a member of."))
		return
	}

	if err := w.store.SetTargetChat(ctx, s.userID, args); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to set user target chat")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.sendText(msgCtx, reply, styling.Plain(fmt.Sprintf("Files will be sent to %s.", args)))
}

func (w *Worker) handleAdminCommand(ctx context.Context, msgCtx context.Context, reply *message.Builder, cmd string, args string) {
	if cmd == "/stats" {
		w.handleStats(ctx, msgCtx, reply)
		return
	}

	target, err := strconv.ParseInt(args, 10, 64)
	if nil != err || target <= 0 {
		w.sendText(msgCtx, reply,
			styling.Plain("Usage: "),
			styling.Code(cmd+" <user id>"),
		)
		return
	}

	switch cmd {
	case "/ban":
		if slices.Contains(w.config.AdminIDs, target) {
			w.sendText(msgCtx, reply, styling.Plain("Cannot ban an admin."))
			return
		}
		err = w.store.SetBanned(ctx, target, true)
	case "/unban":
		err = w.store.SetBanned(ctx, target, false)
	case "/addpremium":
		err = w.store.SetPremium(ctx, target, true)
	case "/delpremium":
		err = w.store.SetPremium(ctx, target, false)
	default:
		w.sendText(msgCtx, reply, styling.Plain("Unknown admin command."))
		return
	}
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to update user record")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}

	var confirmation string
	switch cmd {
	case "/ban":
		confirmation = fmt.Sprintf("User %d is banned.", target)
	case "/unban":
		confirmation = fmt.Sprintf("User %d is unbanned.", target)
	case "/addpremium":
		confirmation = fmt.Sprintf("User %d is premium now.", target)
	case "/delpremium":
		confirmation = fmt.Sprintf("User %d is back on the free plan.", target)
	}
	w.sendText(msgCtx, reply, styling.Plain(confirmation))
}

const broadcastChunkSize = 20

func (w *Worker) handleBroadcast(ctx context.Context, msgCtx context.Context, reply *message.Builder, args string) {
	if args == "" {
		w.sendText(msgCtx, reply,
			styling.Plain("Usage: "),
			styling.Code("/broadcast <message>"),
		)
		return
	}

	peers, err := w.store.UserPeers(ctx)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to load user peers")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	if len(peers) == 0 {
		w.sendText(msgCtx, reply, styling.Plain("No users to broadcast to."))
		return
	}

	w.sendText(msgCtx, reply, styling.Plain(fmt.Sprintf("Broadcasting to %d user(s)...", len(peers))))
	go w.broadcast(msgCtx, reply, peers, args)
}

// broadcast pushes text to every peer through the wait queue so a large user
// base does not trip Telegram messaging limits.
func (w *Worker) broadcast(ctx context.Context, reply *message.Builder, peers []store.UserPeer, text string) {
	defer func() {
		if v := recover(); v != nil {
			w.logger.Error().Func(log.Panic(v)).Msg("Recovered from panic in broadcast")
		}
	}()

	var sent, failed int
	numChunks := mathutil.CeilInts(len(peers), broadcastChunkSize)
	for i, chunk := range iterutil.WithIndex(slices.Chunk(peers, broadcastChunkSize)) {
		for _, p := range chunk {
			//nolint:exhaustruct
			peer := &tg.InputPeerUser{UserID: p.ID, AccessHash: p.AccessHash}
			err := w.wq.SendSingle(ctx, func() error {
				_, err := w.sender.To(peer).StyledText(ctx, styling.Plain(text))
				return err
			})
			if nil != err {
				if errutil.IsContext(ctx) {
					w.logger.Info().Msg("Broadcast stopped due to context cancellation")
					return
				}
				failed++
				w.logger.Debug().Int64("user_id", p.ID).Err(err).Msg("Failed to deliver broadcast message")
				continue
			}
			sent++
		}
		w.logger.Debug().Int("chunk", i+1).Int("num_chunks", numChunks).Msg("Broadcast chunk delivered")
	}

	w.sendText(ctx, reply, styling.Plain(fmt.Sprintf("Broadcast finished. Delivered to %d user(s), failed for %d.", sent, failed)))
}

func (w *Worker) handleStats(ctx context.Context, msgCtx context.Context, reply *message.Builder) {
	counts, err := w.store.UserCounts(ctx)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to read user counts")
		w.sendText(msgCtx, reply, styling.Plain("Something went wrong. Try again later."))
		return
	}
	w.sendText(msgCtx, reply,
		styling.Bold("Bot stats"),
		styling.Plain(fmt.Sprintf("\nUsers: %d", counts.Total)),
		styling.Plain(fmt.Sprintf("\nPremium: %d", counts.Premium)),
		styling.Plain(fmt.Sprintf("\nBanned: %d", counts.Banned)),
		styling.Plain(fmt.Sprintf("\nUptime: %s", time.Since(w.startedAt).Round(time.Second))),
	)
}
