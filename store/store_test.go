package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iamrita-ai/Terabox-Drive/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "users.db"))
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "users.db")

	s, err := store.Open(dbPath)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	assert.NoError(t, s.UpsertUser(t.Context(), 42, "someone", "Someone", 991))
	assert.NoError(t, s.Close())

	s, err = store.Open(dbPath)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	defer func() { assert.NoError(t, s.Close()) }()

	u, err := s.User(t.Context(), 42)
	assert.NoError(t, err)
	assert.Equal(t, "someone", u.Username)
}

func TestUpsertUser(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	assert.NoError(t, s.UpsertUser(t.Context(), 7, "old_name", "Old", 100))
	assert.NoError(t, s.UpsertUser(t.Context(), 7, "new_name", "New", 200))

	u, err := s.User(t.Context(), 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "new_name", u.Username)
	assert.Equal(t, "New", u.FirstName)
	assert.False(t, u.Banned)
	assert.False(t, u.Premium)
}

func TestUserNotFound(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	_, err := s.User(t.Context(), 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBanState(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	banned, err := s.IsBanned(t.Context(), 11)
	assert.NoError(t, err)
	assert.False(t, banned)

	assert.NoError(t, s.SetBanned(t.Context(), 11, true))

	banned, err = s.IsBanned(t.Context(), 11)
	assert.NoError(t, err)
	assert.True(t, banned)

	assert.NoError(t, s.SetBanned(t.Context(), 11, false))

	banned, err = s.IsBanned(t.Context(), 11)
	assert.NoError(t, err)
	assert.False(t, banned)
}

func TestPremiumState(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	premium, err := s.IsPremium(t.Context(), 12)
	assert.NoError(t, err)
	assert.False(t, premium)

	assert.NoError(t, s.SetPremium(t.Context(), 12, true))

	premium, err = s.IsPremium(t.Context(), 12)
	assert.NoError(t, err)
	assert.True(t, premium)
}

func TestQuotaWindow(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	day1 := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	used, err := s.QuotaUsed(t.Context(), 21, day1)
	assert.NoError(t, err)
	assert.Zero(t, used)

	assert.NoError(t, s.ConsumeQuota(t.Context(), 21, 1, day1))
	assert.NoError(t, s.ConsumeQuota(t.Context(), 21, 2, day1))

	used, err = s.QuotaUsed(t.Context(), 21, day1)
	assert.NoError(t, err)
	assert.Equal(t, 3, used)

	used, err = s.QuotaUsed(t.Context(), 21, day2)
	assert.NoError(t, err)
	assert.Zero(t, used)

	assert.NoError(t, s.ConsumeQuota(t.Context(), 21, 1, day2))

	used, err = s.QuotaUsed(t.Context(), 21, day2)
	assert.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestUserSettings(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	settings, err := s.UserSettings(t.Context(), 31)
	assert.NoError(t, err)
	assert.Empty(t, settings.Caption)
	assert.Empty(t, settings.Thumbnail)
	assert.Empty(t, settings.TargetChat)

	assert.NoError(t, s.SetCaption(t.Context(), 31, "{filename} | {size}"))
	assert.NoError(t, s.SetThumbnail(t.Context(), 31, "/data/thumbs/31.jpg"))
	assert.NoError(t, s.SetTargetChat(t.Context(), 31, "@my_backup_channel"))

	settings, err = s.UserSettings(t.Context(), 31)
	assert.NoError(t, err)
	assert.Equal(t, "{filename} | {size}", settings.Caption)
	assert.Equal(t, "/data/thumbs/31.jpg", settings.Thumbnail)
	assert.Equal(t, "@my_backup_channel", settings.TargetChat)

	assert.NoError(t, s.SetCaption(t.Context(), 31, ""))

	settings, err = s.UserSettings(t.Context(), 31)
	assert.NoError(t, err)
	assert.Empty(t, settings.Caption)
}

func TestUserCounts(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	counts, err := s.UserCounts(t.Context())
	assert.NoError(t, err)
	assert.Zero(t, counts.Total)

	assert.NoError(t, s.UpsertUser(t.Context(), 1, "a", "A", 10))
	assert.NoError(t, s.UpsertUser(t.Context(), 2, "b", "B", 20))
	assert.NoError(t, s.UpsertUser(t.Context(), 3, "c", "C", 30))
	assert.NoError(t, s.SetBanned(t.Context(), 1, true))
	assert.NoError(t, s.SetPremium(t.Context(), 2, true))
	assert.NoError(t, s.SetPremium(t.Context(), 3, true))

	counts, err = s.UserCounts(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(1), counts.Banned)
	assert.Equal(t, int64(2), counts.Premium)
}

func TestUserPeers(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	peers, err := s.UserPeers(t.Context())
	assert.NoError(t, err)
	assert.Empty(t, peers)

	assert.NoError(t, s.UpsertUser(t.Context(), 5, "e", "E", 55))
	assert.NoError(t, s.UpsertUser(t.Context(), 4, "d", "D", 44))
	assert.NoError(t, s.UpsertUser(t.Context(), 6, "f", "F", 66))
	assert.NoError(t, s.SetBanned(t.Context(), 5, true))

	peers, err = s.UserPeers(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, []store.UserPeer{{ID: 4, AccessHash: 44}, {ID: 6, AccessHash: 66}}, peers)

	assert.NoError(t, s.UpsertUser(t.Context(), 4, "d", "D", 4444))

	peers, err = s.UserPeers(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, []store.UserPeer{{ID: 4, AccessHash: 4444}, {ID: 6, AccessHash: 66}}, peers)
}
