package ratelimit

import (
	"math/rand/v2"
	"time"
)

const (
	BatchDownloadConcurrency = 4
	UploadThreads            = 4
)

func DownloadRetrySleep() time.Duration {
	const (
		from = 1
		to   = 4
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec
	return time.Duration(millis) * time.Millisecond
}
