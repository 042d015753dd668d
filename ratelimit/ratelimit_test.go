package ratelimit_test

import (
	"testing"

	"github.com/iamrita-ai/Terabox-Drive/ratelimit"
)

func TestDownloadRetrySleep(t *testing.T) {
	t.Parallel()
	for range 100 {
		ms := ratelimit.DownloadRetrySleep().Milliseconds()
		if ms < 1000 || ms > 4000 {
			t.Errorf("expected 1000 <= ms <= 4000, got %d", ms)
		}
	}
}
