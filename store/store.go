package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/xeptore/flaw/v8"
	_ "modernc.org/sqlite"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/must"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	flawP := flaw.P{"db_path": dbPath}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to open database: %v", err)).Append(flawP)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); nil != err {
			closeErr := db.Close()
			flawP["pragma"] = pragma
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to set database pragma: %v", errors.Join(err, closeErr))).Append(flawP)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); nil != err {
		closeErr := db.Close()
		if nil != closeErr {
			flawP["close_err_debug_tree"] = errutil.Tree(closeErr).FlawP()
		}
		return nil, must.BeFlaw(err).Append(flawP)
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to close database: %v", err)).Append(flawP)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			access_hash INTEGER NOT NULL DEFAULT 0,
			banned BOOLEAN NOT NULL DEFAULT FALSE,
			premium BOOLEAN NOT NULL DEFAULT FALSE,
			daily_used INTEGER NOT NULL DEFAULT 0,
			daily_reset_at TEXT NOT NULL DEFAULT '',
			caption TEXT NOT NULL DEFAULT '',
			thumbnail TEXT NOT NULL DEFAULT '',
			target_chat TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_banned ON users(banned)`,
		`CREATE INDEX IF NOT EXISTS idx_users_premium ON users(premium)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); nil != err {
			flawP := flaw.P{"migration": migration, "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to run database migration: %v", err)).Append(flawP)
		}
	}
	return nil
}
