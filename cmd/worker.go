package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/iyear/tdl/core/dcpool"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/matryer/try.v1"

	"github.com/iamrita-ai/Terabox-Drive/cache"
	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/leech/download"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/must"
	"github.com/iamrita-ai/Terabox-Drive/queue"
	"github.com/iamrita-ai/Terabox-Drive/ratelimit"
	"github.com/iamrita-ai/Terabox-Drive/store"
	"github.com/iamrita-ai/Terabox-Drive/tgutil"
	"github.com/iamrita-ai/Terabox-Drive/waitqueue"
)

type Worker struct {
	config    *config.Config
	client    *telegram.Client
	api       *tg.Client
	sender    *message.Sender
	store     *store.Store
	queue     *queue.Manager
	dl        *download.Client
	cache     *cache.Cache
	wq        *waitqueue.WaitQueue
	dlDir     leech.DownloadDir
	thumbsDir string
	startedAt time.Time
	logger    zerolog.Logger
}

// session pins the chat of a single conversation. The access hash inside peer
// comes from the update entities and is required to message the user from
// goroutines that outlive the handler which received the update.
type session struct {
	userID   int64
	peer     tg.InputPeerClass
	msgID    int
	statusID int
}

func (w *Worker) newUploader(ctx context.Context) (*uploader.Uploader, func() error) {
	pool := dcpool.NewPool(w.client, 8, tgutil.DefaultMiddlewares(ctx)...)
	up := uploader.NewUploader(pool.Default(ctx)).WithPartSize(uploader.MaximumPartSize).WithThreads(ratelimit.UploadThreads)
	return up, pool.Close
}

func (w *Worker) sendText(ctx context.Context, reply *message.Builder, lines ...styling.StyledTextOption) {
	if _, err := reply.StyledText(ctx, lines...); nil != err {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send reply message: %v", err)).Append(flawP))).Msg("Failed to send reply message")
	}
}

// editStatus rewrites the pinned status message of the session through the
// wait queue so edits respect Telegram messaging limits.
func (w *Worker) editStatus(ctx context.Context, s *session, text string) {
	if s.statusID == 0 {
		return
	}
	err := w.wq.SendSingle(ctx, func() error {
		_, err := w.sender.To(s.peer).Edit(s.statusID).StyledText(ctx, styling.Plain(text))
		return err
	})
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
		case tgerr.Is(err, "MESSAGE_NOT_MODIFIED"):
		default:
			flawP := flaw.P{"status_id": s.statusID, "err_debug_tree": errutil.Tree(err).FlawP()}
			w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to edit status message: %v", err)).Append(flawP))).Msg("Failed to edit status message")
		}
	}
}

// processUser drains the user's task queue. It must only run after winning
// StartProcessing for the user.
func (w *Worker) processUser(ctx context.Context, s *session) {
	logger := w.logger.With().Int64("user_id", s.userID).Logger()
	defer func() {
		if v := recover(); v != nil {
			logger.Error().Func(log.Panic(v)).Msg("Recovered from panic in user queue processing")
		}
	}()

	maxFileSize := w.config.FreeMaxFileSize
	premium, err := w.store.IsPremium(ctx, s.userID)
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		logger.Error().Func(log.Flaw(err)).Msg("Failed to read premium state. Applying free limits")
	}
	if premium {
		maxFileSize = w.config.PremiumMaxFileSize
	}

	tr := &taskRunner{w: w, s: s, runCtx: ctx, maxFileSize: maxFileSize}
	runner := queue.NewRunner(w.queue, tr, tr, tr, logger)
	res := runner.Process(ctx, s.userID, func(ctx context.Context, text string) {
		w.editStatus(ctx, s, text)
	})

	w.sendSummary(ctx, s, res)
	w.reportRunToLogChannel(ctx, s, res)

	if err := w.dlDir.User(s.userID).Remove(); nil != err {
		logger.Error().Func(log.Flaw(err)).Msg("Failed to remove user download directory")
	}
}

type taskRunner struct {
	w           *Worker
	s           *session
	runCtx      context.Context
	maxFileSize int64
}

func (r *taskRunner) Fetch(ctx context.Context, t queue.Task, report queue.ProgressFunc) (string, error) {
	flawP := flaw.P{"task": t.FlawP()}
	dir := r.w.dlDir.User(t.UserID)

	var (
		mu         sync.Mutex
		lastEdit   time.Time
		lastDecile int64 = -1
	)
	onProgress := func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		percent := int(downloaded * 100 / total)
		r.w.queue.SetProgress(t.UserID, t.ID, percent)

		decile := downloaded * 10 / total
		mu.Lock()
		due := decile > lastDecile && time.Since(lastEdit) >= config.ProgressEditInterval
		if due {
			lastDecile = decile
			lastEdit = time.Now()
		}
		mu.Unlock()
		if due {
			go report(ctx, fmt.Sprintf("Downloading... %d%% of %s", percent, leech.ReadableSize(total)))
		}
	}

	var filePath string
	err := try.Do(func(attempt int) (bool, error) {
		const maxAttempts = 3
		attemptRemained := attempt < maxAttempts
		if attempt > 1 {
			time.Sleep(ratelimit.DownloadRetrySleep())
		}

		p, err := r.w.dl.Download(ctx, t.URL, dir, onProgress)
		if nil != err {
			switch {
			case errutil.IsContext(ctx):
				return false, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return attemptRemained, context.DeadlineExceeded
			case errors.Is(err, download.ErrTooManyRequests):
				return attemptRemained, download.ErrTooManyRequests
			case errors.Is(err, download.ErrFolderLink):
				return false, err
			case errutil.IsFlaw(err):
				return false, must.BeFlaw(err).Append(flawP)
			default:
				if linkErr := new(leech.InvalidLinkError); errors.As(err, &linkErr) {
					return false, err
				}
				panic(errutil.UnknownError(err))
			}
		}
		filePath = p
		return false, nil
	})
	if nil != err {
		if errutil.IsFlaw(err) {
			r.w.reportFlaw(r.runCtx, must.BeFlaw(err))
		}
		return "", err
	}
	return filePath, nil
}

func (r *taskRunner) Admit(t queue.Task, filePath string) error {
	info, err := os.Stat(filePath)
	if nil != err {
		flawP := flaw.P{"task": t.FlawP(), "file_path": filePath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to stat downloaded file: %v", err)).Append(flawP)
	}
	if info.Size() > r.maxFileSize {
		return &FileTooBigError{Size: info.Size(), Limit: r.maxFileSize}
	}
	return nil
}

func (r *taskRunner) Deliver(ctx context.Context, t queue.Task, filePath string, report queue.ProgressFunc) (string, error) {
	kind, err := r.w.uploadFile(ctx, r.s, t, filePath, report)
	if nil != err && errutil.IsFlaw(err) {
		r.w.reportFlaw(r.runCtx, must.BeFlaw(err))
	}
	return kind, err
}

type FileTooBigError struct {
	Size  int64
	Limit int64
}

func (e *FileTooBigError) Error() string {
	return fmt.Sprintf("file size %s exceeds the %s limit", leech.ReadableSize(e.Size), leech.ReadableSize(e.Limit))
}
