package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "usagewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const stateKey = "runtime"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(path string, busyTimeout time.Duration, log logx.Logger) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, session, weekly_all, weekly_sonnet, addon_used, addon_percent, addon_balance)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano),
		nullPtr(e.Session), nullPtr(e.WeeklyAll), nullPtr(e.WeeklySonnet),
		nullPtr(e.AddOnUsed), nullPtr(e.AddOnPercent), nullPtr(e.AddOnBalance),
	)
	if err != nil {
		return err
	}
	cutoff := e.At.Add(-Retention).UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `DELETE FROM history WHERE at < ?`, cutoff)
	return err
}

func (s *sqliteStore) Range(ctx context.Context, since time.Time) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, session, weekly_all, weekly_sonnet, addon_used, addon_percent, addon_balance
		 FROM history WHERE at >= ? ORDER BY at ASC`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var at string
		var e Entry
		var session, weeklyAll, weeklySonnet, used, percent, balance sql.NullString
		if err := rows.Scan(&at, &session, &weeklyAll, &weeklySonnet, &used, &percent, &balance); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			s.log.Warn("skipping history row with bad timestamp", logx.String("at", at))
			continue
		}
		e.At = ts
		e.Session = ptrNull(session)
		e.WeeklyAll = ptrNull(weeklyAll)
		e.WeeklySonnet = ptrNull(weeklySonnet)
		e.AddOnUsed = ptrNull(used)
		e.AddOnPercent = ptrNull(percent)
		e.AddOnBalance = ptrNull(balance)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, error) {
	if s == nil || s.db == nil {
		return State{}, ErrDisabled
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, stateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// Corrupt state is not fatal; start over rather than wedge.
		s.log.Warn("discarding unreadable runtime state", logx.Err(err))
		return State{}, nil
	}
	return st, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		stateKey, string(b),
	)
	return err
}

func nullPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func ptrNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
