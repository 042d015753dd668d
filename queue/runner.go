package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/log"
)

// ProgressFunc reports human-readable progress to whoever watches the queue.
// Implementations must be best-effort and non-blocking-ish, a failed or
// dropped report never fails the task.
type ProgressFunc func(ctx context.Context, text string)

// Downloader fetches the task's URL into local storage and returns the path
// of the downloaded file. It must honor ctx cancellation and leave no partial
// files behind on failure.
type Downloader interface {
	Fetch(ctx context.Context, t Task, report ProgressFunc) (string, error)
}

// Uploader delivers a downloaded file to the task's destination chat. It
// returns the kind of the delivered file for summary bookkeeping.
type Uploader interface {
	Deliver(ctx context.Context, t Task, filePath string, report ProgressFunc) (string, error)
}

// Inspector decides whether a downloaded file is admissible for delivery. A
// non-nil error vetoes the task, failing it without an upload attempt.
type Inspector interface {
	Admit(t Task, filePath string) error
}

type Result struct {
	Total      int
	Completed  int
	Failed     int
	Cancelled  int
	Kinds      map[string]int
	StartedAt  time.Time
	FinishedAt time.Time
}

type Runner struct {
	manager    *Manager
	downloader Downloader
	uploader   Uploader
	inspector  Inspector
	logger     zerolog.Logger
}

func NewRunner(m *Manager, d Downloader, u Uploader, i Inspector, logger zerolog.Logger) *Runner {
	return &Runner{
		manager:    m,
		downloader: d,
		uploader:   u,
		inspector:  i,
		logger:     logger,
	}
}

// Process drains the user's queue one task at a time until it is empty, the
// kill switch is set, or ctx is canceled. The caller must have won
// StartProcessing for this user before calling. Whatever way the loop exits,
// including a panic in a collaborator, the processing flag is cleared and the
// user's tasks are dropped.
func (r *Runner) Process(ctx context.Context, userID int64, report ProgressFunc) (res Result) {
	res = Result{
		Total:      0,
		Completed:  0,
		Failed:     0,
		Cancelled:  0,
		Kinds:      make(map[string]int),
		StartedAt:  time.Now(),
		FinishedAt: time.Time{},
	}
	defer func() {
		res.FinishedAt = time.Now()
		r.manager.SetProcessing(userID, false)
		r.manager.ClearUserTasks(userID)
	}()
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error().Int64("user_id", userID).Func(log.Panic(v)).Msg("Recovered from panic in queue processing loop")
			if t, ok := r.manager.Active(userID); ok {
				r.manager.MarkCompleted(userID, t.ID, false)
				res.Failed++
			}
		}
	}()

	for {
		if r.manager.IsCancelled(userID) {
			r.manager.ClearCancelled(userID)
			r.logger.Info().Int64("user_id", userID).Msg("Queue kill switch is set. Stopping queue processing")
			break
		}

		t, taskCtx, ok := r.manager.DequeueNext(ctx, userID)
		if !ok {
			break
		}
		res.Total++

		current, total := r.manager.Position(userID)
		report(ctx, fmt.Sprintf("Processing task %d of %d\n%s", current, total, trimURL(t.URL)))

		kind, err := r.processTask(taskCtx, t, report)
		if nil != err {
			switch {
			case errors.Is(context.Cause(taskCtx), ErrTaskCanceled):
				res.Cancelled++
				r.logger.Info().Int64("user_id", userID).Str("task_id", t.ID).Msg("Task was canceled")
				continue
			case errutil.IsContext(ctx):
				r.logger.Info().Int64("user_id", userID).Str("task_id", t.ID).Msg("Stopping queue processing due to context cancellation")
				return res
			default:
				res.Failed++
				r.manager.MarkCompleted(userID, t.ID, false)
				r.logger.Error().Int64("user_id", userID).Str("task_id", t.ID).Func(log.Flaw(err)).Msg("Task failed")
				report(ctx, fmt.Sprintf("Failed to process %s\n%s", trimURL(t.URL), err.Error()))
				continue
			}
		}

		res.Completed++
		res.Kinds[kind]++
		r.manager.MarkCompleted(userID, t.ID, true)
	}

	return res
}

func (r *Runner) processTask(ctx context.Context, t Task, report ProgressFunc) (string, error) {
	r.manager.SetStatus(t.UserID, t.ID, StatusDownloading)
	filePath, err := r.downloader.Fetch(ctx, t, report)
	if nil != err {
		return "", err
	}
	defer func() {
		if err := os.Remove(filePath); nil != err && !errors.Is(err, os.ErrNotExist) {
			r.logger.Error().Str("file_path", filePath).Err(err).Msg("Failed to remove downloaded file")
		}
	}()
	r.manager.SetFileName(t.UserID, t.ID, filepath.Base(filePath))
	t.FileName = filepath.Base(filePath)

	if err := r.inspector.Admit(t, filePath); nil != err {
		return "", err
	}

	r.manager.SetStatus(t.UserID, t.ID, StatusUploading)
	kind, err := r.uploader.Deliver(ctx, t, filePath, report)
	if nil != err {
		return "", err
	}
	return kind, nil
}

func trimURL(u string) string {
	const maxLen = 50
	if len(u) <= maxLen {
		return u
	}
	return u[:maxLen] + "..."
}
