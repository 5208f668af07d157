// Package record stores simulation runs in SQLite: one row per run plus the
// AI transitions and navigation events observed during it.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNoRun = errors.New("record: no active run")

// Run describes one simulation run.
type Run struct {
	ID         string     `db:"id"`
	Level      string     `db:"level"`
	Seed       int64      `db:"seed"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Ticks      int64      `db:"ticks"`
}

type Transition struct {
	Tick    int64  `db:"tick"`
	Entity  string `db:"entity"`
	From    string `db:"from_state"`
	To      string `db:"to_state"`
	Trigger string `db:"cause"`
}

type NavEvent struct {
	Tick   int64  `db:"tick"`
	Entity string `db:"entity"`
	Event  string `db:"event"`
	Node   int32  `db:"node"`
}

// Summary counts what a run recorded.
type Summary struct {
	Transitions int            `db:"transitions"`
	NavEvents   int            `db:"nav_events"`
	ByEvent     map[string]int `db:"-"`
}

// Recorder buffers rows in memory and writes them in one transaction per
// Flush. It is not safe for concurrent use.
type Recorder struct {
	conn  *sqlx.DB
	log   *slog.Logger
	run   uuid.UUID
	trans []Transition
	navs  []NavEvent
}

// Open opens or creates a database at path. Use ":memory:" for a throwaway
// recorder.
func Open(path string, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("record: open db: %w", err)
	}
	// one connection keeps :memory: databases alive across calls
	conn.SetMaxOpenConns(1)

	r := &Recorder{conn: conn, log: log.With("component", "recorder")}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("record: migrate: %w", err)
	}
	return r, nil
}

func (r *Recorder) Close() error {
	return r.conn.Close()
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		ticks INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		entity TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		cause TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nav_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		entity TEXT NOT NULL,
		event TEXT NOT NULL,
		node INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_run ON transitions(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_nav_events_run ON nav_events(run_id, tick);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// StartRun opens a new run. Rows recorded afterwards belong to it.
func (r *Recorder) StartRun(ctx context.Context, level string, seed int64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.conn.ExecContext(ctx,
		"INSERT INTO runs (id, level, seed, started_at) VALUES (?, ?, ?, ?)",
		id.String(), level, seed, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record: start run: %w", err)
	}
	r.run = id
	r.log.Info("run started", "run", id, "level", level, "seed", seed)
	return id, nil
}

func (r *Recorder) RunID() uuid.UUID { return r.run }

func (r *Recorder) Transition(t Transition) {
	r.trans = append(r.trans, t)
}

func (r *Recorder) NavEvent(e NavEvent) {
	r.navs = append(r.navs, e)
}

// Pending is the number of buffered rows.
func (r *Recorder) Pending() int {
	return len(r.trans) + len(r.navs)
}

// Flush writes buffered rows to the active run.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.run == uuid.Nil {
		return ErrNoRun
	}
	if r.Pending() == 0 {
		return nil
	}

	tx, err := r.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run := r.run.String()
	for _, t := range r.trans {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO transitions (run_id, tick, entity, from_state, to_state, cause) VALUES (?, ?, ?, ?, ?, ?)",
			run, t.Tick, t.Entity, t.From, t.To, t.Trigger,
		)
		if err != nil {
			return fmt.Errorf("record: insert transition at tick %d: %w", t.Tick, err)
		}
	}

	stmt, err := tx.PreparexContext(ctx, "INSERT INTO nav_events (run_id, tick, entity, event, node) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range r.navs {
		if _, err := stmt.ExecContext(ctx, run, e.Tick, e.Entity, e.Event, e.Node); err != nil {
			return fmt.Errorf("record: insert nav event at tick %d: %w", e.Tick, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.trans = r.trans[:0]
	r.navs = r.navs[:0]
	return nil
}

// FinishRun flushes and stamps the run with its tick count.
func (r *Recorder) FinishRun(ctx context.Context, ticks int64) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	_, err := r.conn.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, ticks = ? WHERE id = ?",
		time.Now().UTC(), ticks, r.run.String(),
	)
	if err != nil {
		return fmt.Errorf("record: finish run: %w", err)
	}
	r.log.Info("run finished", "run", r.run, "ticks", ticks)
	return nil
}

func (r *Recorder) Run(ctx context.Context, id uuid.UUID) (Run, error) {
	var run Run
	err := r.conn.GetContext(ctx, &run,
		"SELECT id, level, seed, started_at, finished_at, ticks FROM runs WHERE id = ?", id.String())
	return run, err
}

func (r *Recorder) Transitions(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	var out []Transition
	err := r.conn.SelectContext(ctx, &out,
		"SELECT tick, entity, from_state, to_state, cause FROM transitions WHERE run_id = ? ORDER BY id",
		id.String(),
	)
	return out, err
}

func (r *Recorder) NavEvents(ctx context.Context, id uuid.UUID) ([]NavEvent, error) {
	var out []NavEvent
	err := r.conn.SelectContext(ctx, &out,
		"SELECT tick, entity, event, node FROM nav_events WHERE run_id = ? ORDER BY id",
		id.String(),
	)
	return out, err
}

func (r *Recorder) Summary(ctx context.Context, id uuid.UUID) (Summary, error) {
	var s Summary
	err := r.conn.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM transitions WHERE run_id = ?) AS transitions,
			(SELECT COUNT(*) FROM nav_events WHERE run_id = ?) AS nav_events`,
		id.String(), id.String(),
	)
	if err != nil {
		return s, err
	}

	rows, err := r.conn.QueryxContext(ctx,
		"SELECT event, COUNT(*) FROM nav_events WHERE run_id = ? GROUP BY event", id.String())
	if err != nil {
		return s, err
	}
	defer rows.Close()
	s.ByEvent = map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return s, err
		}
		s.ByEvent[name] = n
	}
	return s, rows.Err()
}
