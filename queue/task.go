package queue

import (
	"time"

	"github.com/xeptore/flaw/v8"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusQueued, StatusDownloading, StatusUploading:
		return false
	default:
		return false
	}
}

type Task struct {
	ID        string
	UserID    int64
	URL       string
	FileName  string
	Status    Status
	Progress  int
	CreatedAt time.Time
	ChatID    int64
	TopicID   int
	ReplyToID int
}

func (t Task) FlawP() flaw.P {
	return flaw.P{
		"id":         t.ID,
		"user_id":    t.UserID,
		"url":        t.URL,
		"file_name":  t.FileName,
		"status":     string(t.Status),
		"created_at": t.CreatedAt,
		"chat_id":    t.ChatID,
	}
}

type Stats struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Pending   int
}
