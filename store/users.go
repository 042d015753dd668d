package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID        int64
	Username  string
	FirstName string
	Banned    bool
	Premium   bool
}

// Settings are the per-user upload preferences. Zero values mean the user
// never configured the knob and defaults apply.
type Settings struct {
	Caption    string
	Thumbnail  string
	TargetChat string
}

type Counts struct {
	Total   int64
	Banned  int64
	Premium int64
}

func (s *Store) UpsertUser(ctx context.Context, userID int64, username, firstName string, accessHash int64) error {
	const query = `
		INSERT INTO users (id, username, first_name, access_hash) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			access_hash = excluded.access_hash,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, username, firstName, accessHash); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to upsert user: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) User(ctx context.Context, userID int64) (User, error) {
	const query = `SELECT id, username, first_name, banned, premium FROM users WHERE id = ?`

	var u, none User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Username, &u.FirstName, &u.Banned, &u.Premium)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return none, ErrNotFound
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return none, flaw.From(fmt.Errorf("failed to query user: %v", err)).Append(flawP)
		}
	}
	return u, nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT banned FROM users WHERE id = ?`

	var banned bool
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&banned)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return false, nil
		case errutil.IsContext(ctx):
			return false, ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return false, flaw.From(fmt.Errorf("failed to query user ban state: %v", err)).Append(flawP)
		}
	}
	return banned, nil
}

func (s *Store) SetBanned(ctx context.Context, userID int64, banned bool) error {
	const query = `
		INSERT INTO users (id, banned) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET banned = excluded.banned, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, banned); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to set user ban state: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) IsPremium(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT premium FROM users WHERE id = ?`

	var premium bool
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&premium)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return false, nil
		case errutil.IsContext(ctx):
			return false, ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return false, flaw.From(fmt.Errorf("failed to query user premium state: %v", err)).Append(flawP)
		}
	}
	return premium, nil
}

func (s *Store) SetPremium(ctx context.Context, userID int64, premium bool) error {
	const query = `
		INSERT INTO users (id, premium) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET premium = excluded.premium, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, premium); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to set user premium state: %v", err)).Append(flawP)
		}
	}
	return nil
}

// QuotaUsed reports how many downloads the user has consumed inside the
// current UTC day window. Days that rolled over since the last consumption
// count as a fresh window.
func (s *Store) QuotaUsed(ctx context.Context, userID int64, now time.Time) (int, error) {
	const query = `SELECT daily_used, daily_reset_at FROM users WHERE id = ?`

	var (
		used    int
		resetAt string
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&used, &resetAt)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return 0, nil
		case errutil.IsContext(ctx):
			return 0, ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return 0, flaw.From(fmt.Errorf("failed to query user quota: %v", err)).Append(flawP)
		}
	}

	if resetAt != now.UTC().Format(time.DateOnly) {
		return 0, nil
	}
	return used, nil
}

// ConsumeQuota counts n downloads against the user's current UTC day window,
// opening a fresh window when the day rolled over.
func (s *Store) ConsumeQuota(ctx context.Context, userID int64, n int, now time.Time) error {
	const query = `
		INSERT INTO users (id, daily_used, daily_reset_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_used = CASE
				WHEN users.daily_reset_at = excluded.daily_reset_at THEN users.daily_used + excluded.daily_used
				ELSE excluded.daily_used
			END,
			daily_reset_at = excluded.daily_reset_at,
			updated_at = CURRENT_TIMESTAMP
	`
	day := now.UTC().Format(time.DateOnly)
	if _, err := s.db.ExecContext(ctx, query, userID, n, day); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to consume user quota: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) UserSettings(ctx context.Context, userID int64) (Settings, error) {
	const query = `SELECT caption, thumbnail, target_chat FROM users WHERE id = ?`

	var settings, none Settings
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&settings.Caption, &settings.Thumbnail, &settings.TargetChat)
	if nil != err {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return none, nil
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return none, flaw.From(fmt.Errorf("failed to query user settings: %v", err)).Append(flawP)
		}
	}
	return settings, nil
}

func (s *Store) SetCaption(ctx context.Context, userID int64, caption string) error {
	const query = `
		INSERT INTO users (id, caption) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET caption = excluded.caption, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, caption); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to set user caption: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) SetThumbnail(ctx context.Context, userID int64, thumbnail string) error {
	const query = `
		INSERT INTO users (id, thumbnail) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET thumbnail = excluded.thumbnail, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, thumbnail); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to set user thumbnail: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) SetTargetChat(ctx context.Context, userID int64, target string) error {
	const query = `
		INSERT INTO users (id, target_chat) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET target_chat = excluded.target_chat, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, target); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		default:
			flawP := flaw.P{"user_id": userID, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to set user target chat: %v", err)).Append(flawP)
		}
	}
	return nil
}

func (s *Store) UserCounts(ctx context.Context) (Counts, error) {
	const query = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN banned THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN premium THEN 1 ELSE 0 END), 0)
		FROM users
	`

	var counts, none Counts
	err := s.db.QueryRowContext(ctx, query).Scan(&counts.Total, &counts.Banned, &counts.Premium)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return none, flaw.From(fmt.Errorf("failed to query user counts: %v", err)).Append(flawP)
		}
	}
	return counts, nil
}

// UserPeer carries what it takes to address a user outside of an update
// handler. The access hash is the one Telegram handed us the last time the
// user talked to the bot.
type UserPeer struct {
	ID         int64
	AccessHash int64
}

// UserPeers returns addressable peers of all users that are not banned, in
// ascending user id order.
func (s *Store) UserPeers(ctx context.Context) ([]UserPeer, error) {
	const query = `SELECT id, access_hash FROM users WHERE NOT banned ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to query user peers: %v", err)).Append(flawP)
		}
	}
	defer func() {
		_ = rows.Close()
	}()

	var peers []UserPeer
	for rows.Next() {
		var p UserPeer
		if err := rows.Scan(&p.ID, &p.AccessHash); nil != err {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to scan user peer row: %v", err)).Append(flawP)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to iterate user peer rows: %v", err)).Append(flawP)
		}
	}
	return peers, nil
}
