package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/queue"
)

type fakeDownloader struct {
	calls atomic.Int32
	fetch func(ctx context.Context, t queue.Task, report queue.ProgressFunc) (string, error)
}

func (f *fakeDownloader) Fetch(ctx context.Context, t queue.Task, report queue.ProgressFunc) (string, error) {
	f.calls.Add(1)
	return f.fetch(ctx, t, report)
}

type fakeUploader struct {
	calls   atomic.Int32
	deliver func(ctx context.Context, t queue.Task, filePath string, report queue.ProgressFunc) (string, error)
}

func (f *fakeUploader) Deliver(ctx context.Context, t queue.Task, filePath string, report queue.ProgressFunc) (string, error) {
	f.calls.Add(1)
	return f.deliver(ctx, t, filePath, report)
}

type fakeInspector struct {
	admit func(t queue.Task, filePath string) error
}

func (f *fakeInspector) Admit(t queue.Task, filePath string) error {
	if f.admit == nil {
		return nil
	}
	return f.admit(t, filePath)
}

type reportRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *reportRecorder) report(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *reportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestProcessHappyPath(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	for _, id := range []string{"a", "b", "c"} {
		assert.NoError(t, m.Enqueue(newTask(id, userID)))
	}

	var fetched []string
	var fetchedMu sync.Mutex
	d := &fakeDownloader{
		fetch: func(_ context.Context, task queue.Task, _ queue.ProgressFunc) (string, error) {
			fetchedMu.Lock()
			fetched = append(fetched, task.ID)
			fetchedMu.Unlock()
			return "/downloads/7/" + task.ID + ".bin", nil
		},
	}
	u := &fakeUploader{
		deliver: func(_ context.Context, task queue.Task, _ string, _ queue.ProgressFunc) (string, error) {
			snapshot := m.UserTasks(userID)
			if assert.NotEmpty(t, snapshot) {
				assert.Equal(t, queue.StatusUploading, snapshot[0].Status)
				assert.Equal(t, task.ID+".bin", snapshot[0].FileName)
			}
			if task.ID == "a" {
				return "video", nil
			}
			return "document", nil
		},
	}
	rec := new(reportRecorder)

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())
	res := r.Process(t.Context(), userID, rec.report)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Completed)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Cancelled)
	assert.Equal(t, map[string]int{"video": 1, "document": 2}, res.Kinds)
	assert.Equal(t, []string{"a", "b", "c"}, fetched)

	assert.False(t, m.IsProcessing(userID))
	assert.Empty(t, m.UserTasks(userID))
	assert.Zero(t, m.Stats(userID).Total)
	assert.Positive(t, rec.count())
}

func TestProcessFailedTaskDoesNotStopTheLoop(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))
	assert.NoError(t, m.Enqueue(newTask("b", userID)))

	d := &fakeDownloader{
		fetch: func(_ context.Context, task queue.Task, _ queue.ProgressFunc) (string, error) {
			if task.ID == "a" {
				return "", flaw.From(errors.New("connection reset"))
			}
			return "/downloads/7/" + task.ID + ".bin", nil
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "document", nil
		},
	}

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())
	res := r.Process(t.Context(), userID, new(reportRecorder).report)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, int32(1), u.calls.Load())
}

func TestProcessCancelAllBeforeDequeue(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))
	assert.NoError(t, m.Enqueue(newTask("b", userID)))
	assert.Equal(t, 2, m.CancelAll(userID))

	d := &fakeDownloader{
		fetch: func(context.Context, queue.Task, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}
	rec := new(reportRecorder)

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())
	res := r.Process(t.Context(), userID, rec.report)

	assert.Zero(t, res.Total)
	assert.Zero(t, d.calls.Load(), "canceled queue must never reach the downloader")
	assert.Zero(t, u.calls.Load())
	assert.Zero(t, rec.count())
	assert.False(t, m.IsProcessing(userID))
	assert.False(t, m.IsCancelled(userID), "loop must consume the kill switch on its way out")
}

func TestProcessMidDownloadCancel(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))
	assert.NoError(t, m.Enqueue(newTask("b", userID)))

	started := make(chan struct{})
	d := &fakeDownloader{
		fetch: func(ctx context.Context, _ queue.Task, _ queue.ProgressFunc) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())

	done := make(chan queue.Result, 1)
	go func() { done <- r.Process(t.Context(), userID, new(reportRecorder).report) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		assert.FailNow(t, "expected the download to start")
	}
	assert.Equal(t, 2, m.CancelAll(userID))

	var res queue.Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		assert.FailNow(t, "expected the processing loop to wind down after CancelAll")
	}

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Cancelled)
	assert.Zero(t, res.Completed)
	assert.Equal(t, int32(1), d.calls.Load(), "the pending task must never be fetched")
	assert.Zero(t, u.calls.Load())
	assert.False(t, m.IsProcessing(userID))
	assert.Empty(t, m.UserTasks(userID))
}

func TestProcessInspectorVeto(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))

	d := &fakeDownloader{
		fetch: func(_ context.Context, task queue.Task, _ queue.ProgressFunc) (string, error) {
			return "/downloads/7/" + task.ID + ".bin", nil
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}
	i := &fakeInspector{
		admit: func(queue.Task, string) error {
			return errors.New("file exceeds the 2000MB limit")
		},
	}

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, i, zerolog.Nop())
	res := r.Process(t.Context(), userID, new(reportRecorder).report)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, u.calls.Load(), "vetoed files must not be uploaded")
}

func TestProcessRecoversFromPanic(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))
	assert.NoError(t, m.Enqueue(newTask("b", userID)))

	d := &fakeDownloader{
		fetch: func(context.Context, queue.Task, queue.ProgressFunc) (string, error) {
			panic("downloader exploded")
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())

	var res queue.Result
	assert.NotPanics(t, func() { res = r.Process(t.Context(), userID, new(reportRecorder).report) })

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, m.IsProcessing(userID), "loop ownership must be released even on panic")
	assert.Empty(t, m.UserTasks(userID))
}

func TestProcessParentContextCancellation(t *testing.T) {
	t.Parallel()

	const userID int64 = 7
	m := queue.NewManager()
	assert.NoError(t, m.Enqueue(newTask("a", userID)))
	assert.NoError(t, m.Enqueue(newTask("b", userID)))

	ctx, cancel := context.WithCancel(t.Context())
	d := &fakeDownloader{
		fetch: func(fetchCtx context.Context, _ queue.Task, _ queue.ProgressFunc) (string, error) {
			cancel()
			<-fetchCtx.Done()
			return "", fetchCtx.Err()
		},
	}
	u := &fakeUploader{
		deliver: func(context.Context, queue.Task, string, queue.ProgressFunc) (string, error) {
			return "", errors.New("must not be called")
		},
	}

	assert.True(t, m.StartProcessing(userID))
	r := queue.NewRunner(m, d, u, &fakeInspector{}, zerolog.Nop())
	res := r.Process(ctx, userID, new(reportRecorder).report)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, int32(1), d.calls.Load(), "shutdown must not reach for the next task")
	assert.False(t, m.IsProcessing(userID))
	assert.Empty(t, m.UserTasks(userID))
}
