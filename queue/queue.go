package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrTaskCanceled = errors.New("task canceled by the user")

type InvalidTaskError struct {
	Reason string
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// Manager keeps an independent FIFO of download tasks per user, with at most
// one active task per user at any time. All methods are safe for concurrent
// use. Tasks handed out by any method are copies. State mutations only happen
// through Manager methods, each holding the owning user's lock.
type Manager struct {
	mu    sync.Mutex
	users map[int64]*userQueue
}

func NewManager() *Manager {
	return &Manager{
		mu:    sync.Mutex{},
		users: make(map[int64]*userQueue),
	}
}

type userQueue struct {
	mu           sync.Mutex
	pending      []*Task
	tasks        []*Task
	active       *Task
	cancelActive context.CancelCauseFunc
	cancelled    bool
	processing   bool
}

func (m *Manager) user(userID int64) *userQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &userQueue{
			mu:           sync.Mutex{},
			pending:      nil,
			tasks:        nil,
			active:       nil,
			cancelActive: nil,
			cancelled:    false,
			processing:   false,
		}
		m.users[userID] = u
	}
	return u
}

func (m *Manager) Enqueue(t *Task) error {
	switch {
	case t == nil:
		return &InvalidTaskError{Reason: "task is nil"}
	case t.ID == "":
		return &InvalidTaskError{Reason: "task id is empty"}
	case t.UserID <= 0:
		return &InvalidTaskError{Reason: fmt.Sprintf("user id %d is not positive", t.UserID)}
	case t.URL == "":
		return &InvalidTaskError{Reason: "task url is empty"}
	}

	c := *t
	c.Status = StatusQueued
	c.Progress = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	u := m.user(c.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, &c)
	u.tasks = append(u.tasks, &c)
	return nil
}

// EnqueueBatch enqueues tasks in order, skipping invalid ones, and returns
// the number of tasks actually added.
func (m *Manager) EnqueueBatch(tasks []*Task) int {
	var added int
	for _, t := range tasks {
		if err := m.Enqueue(t); nil != err {
			continue
		}
		added++
	}
	return added
}

// DequeueNext pops the head of the user's FIFO and promotes it to the active
// slot, deriving the task context from ctx in the same critical section. It
// returns false if the queue kill switch is set or no task is pending. The
// returned context is canceled with ErrTaskCanceled as cause when the task
// gets canceled through CancelCurrent or CancelAll.
func (m *Manager) DequeueNext(ctx context.Context, userID int64) (Task, context.Context, bool) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled || len(u.pending) == 0 {
		var zero Task
		return zero, nil, false
	}

	t := u.pending[0]
	u.pending = u.pending[1:]
	taskCtx, cancel := context.WithCancelCause(ctx)
	u.active = t
	u.cancelActive = cancel
	return *t, taskCtx, true
}

// CancelCurrent cancels the active task, if any. It reports whether a task
// was actually running. Pending tasks are left untouched.
func (m *Manager) CancelCurrent(userID int64) bool {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == nil {
		return false
	}
	u.active.Status = StatusCancelled
	u.cancelActive(ErrTaskCanceled)
	u.active = nil
	u.cancelActive = nil
	return true
}

// CancelAll sets the queue kill switch, cancels the active task, and drains
// the FIFO, returning the total number of canceled tasks. Once it returns, no
// DequeueNext call yields a task until ClearCancelled.
func (m *Manager) CancelAll(userID int64) int {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true

	var n int
	if u.active != nil {
		u.active.Status = StatusCancelled
		u.cancelActive(ErrTaskCanceled)
		u.active = nil
		u.cancelActive = nil
		n++
	}
	for _, t := range u.pending {
		t.Status = StatusCancelled
		n++
	}
	u.pending = nil
	return n
}

func (m *Manager) IsCancelled(userID int64) bool {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

func (m *Manager) ClearCancelled(userID int64) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = false
}

// MarkCompleted transitions the task to completed or failed. Terminal tasks
// are left as they are, so a task canceled mid-flight stays cancelled no
// matter what its worker reports afterwards.
func (m *Manager) MarkCompleted(userID int64, taskID string, ok bool) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.ID != taskID {
			continue
		}
		if !t.Status.IsTerminal() {
			if ok {
				t.Status = StatusCompleted
				t.Progress = 100
			} else {
				t.Status = StatusFailed
			}
		}
		break
	}
	if u.active != nil && u.active.ID == taskID {
		u.cancelActive(nil)
		u.active = nil
		u.cancelActive = nil
	}
}

func (m *Manager) SetStatus(userID int64, taskID string, s Status) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.ID == taskID {
			if !t.Status.IsTerminal() {
				t.Status = s
			}
			return
		}
	}
}

func (m *Manager) SetProgress(userID int64, taskID string, percent int) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.ID == taskID {
			t.Progress = max(0, min(percent, 100))
			return
		}
	}
}

func (m *Manager) SetFileName(userID int64, taskID string, name string) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.ID == taskID {
			t.FileName = name
			return
		}
	}
}

// Active returns a copy of the user's in-flight task, if any.
func (m *Manager) Active(userID int64) (Task, bool) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == nil {
		var zero Task
		return zero, false
	}
	return *u.active, true
}

// UserTasks returns a snapshot of the user's non-terminal tasks, the active
// one first, then the pending ones in FIFO order.
func (m *Manager) UserTasks(userID int64) []Task {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Task, 0, len(u.pending)+1)
	if u.active != nil {
		out = append(out, *u.active)
	}
	for _, t := range u.pending {
		out = append(out, *t)
	}
	return out
}

// Position returns the 1-based position of the task currently being worked
// on, and the total number of tasks seen since the last clear. Both are zero
// for a user without tasks.
func (m *Manager) Position(userID int64) (int, int) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	total := len(u.tasks)
	if total == 0 {
		return 0, 0
	}
	var done int
	for _, t := range u.tasks {
		if t.Status.IsTerminal() {
			done++
		}
	}
	return min(done+1, total), total
}

func (m *Manager) IsProcessing(userID int64) bool {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.processing
}

func (m *Manager) SetProcessing(userID int64, processing bool) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.processing = processing
}

// StartProcessing atomically flips the processing flag from false to true. It
// reports whether the caller won the flip and therefore owns the consumer
// loop for this user.
func (m *Manager) StartProcessing(userID int64) bool {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.processing {
		return false
	}
	u.processing = true
	return true
}

func (m *Manager) Stats(userID int64) Stats {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	s := Stats{
		Total:     len(u.tasks),
		Completed: 0,
		Failed:    0,
		Cancelled: 0,
		Pending:   0,
	}
	for _, t := range u.tasks {
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		case StatusQueued, StatusDownloading, StatusUploading:
			s.Pending++
		}
	}
	return s
}

// ClearUserTasks drops every task the manager knows about for the user,
// canceling the active one if it is still running. The processing flag is
// intentionally left alone, its lifecycle belongs to the consumer loop.
func (m *Manager) ClearUserTasks(userID int64) {
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelActive != nil {
		u.cancelActive(ErrTaskCanceled)
	}
	u.pending = nil
	u.tasks = nil
	u.active = nil
	u.cancelActive = nil
	u.cancelled = false
}
