package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"meshbench/internal/scenario"
	"meshbench/internal/server"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound は指定した実行結果が存在しない場合のエラー
var ErrNotFound = errors.New("store: run not found")

const initSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	scenario       TEXT    NOT NULL,
	started_at     TEXT    NOT NULL,
	duration_ms    INTEGER NOT NULL,
	clients        INTEGER NOT NULL,
	packets        INTEGER NOT NULL,
	interval_ms    INTEGER NOT NULL,
	loss           REAL    NOT NULL,
	duplicate      REAL    NOT NULL,
	corrupt        REAL    NOT NULL,
	completed      INTEGER NOT NULL,
	timed_out      INTEGER NOT NULL,
	sent           INTEGER NOT NULL,
	received       INTEGER NOT NULL,
	delivered      INTEGER NOT NULL,
	discarded      INTEGER NOT NULL,
	corrupted      INTEGER NOT NULL,
	delivery_ratio REAL    NOT NULL,
	disruptions    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS senders (
	run_id     INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	sender     INTEGER NOT NULL,
	high_water INTEGER NOT NULL,
	delivered  INTEGER NOT NULL,
	corrupted  INTEGER NOT NULL,
	expected   INTEGER NOT NULL,
	ratio      REAL    NOT NULL,
	last_tick  INTEGER NOT NULL,
	PRIMARY KEY (run_id, sender)
);
`

// Store は SQLite の結果保存先
type Store struct {
	db *sql.DB
}

// Run は保存された実行結果
type Run struct {
	ID            int64         `json:"id"`
	Scenario      string        `json:"scenario"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Clients       int           `json:"clients"`
	Packets       int           `json:"packets"`
	IntervalMS    int           `json:"interval_ms"`
	Loss          float64       `json:"loss"`
	Duplicate     float64       `json:"duplicate"`
	Corrupt       float64       `json:"corrupt"`
	Completed     int           `json:"completed"`
	TimedOut      bool          `json:"timed_out"`
	Sent          uint64        `json:"sent"`
	Received      uint64        `json:"received"`
	Delivered     uint64        `json:"delivered"`
	Discarded     uint64        `json:"discarded"`
	Corrupted     uint64        `json:"corrupted"`
	DeliveryRatio float64       `json:"delivery_ratio"`
	Disruptions   uint64        `json:"disruptions"`

	Senders []server.SenderReport `json:"senders,omitempty"`
}

// Open はデータベースを開き、テーブルを作成する
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite は単一の書き込み接続で使う。:memory: は接続ごとに別の DB になる
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun は実行結果を保存し、採番された ID を返す
func (s *Store) SaveRun(ctx context.Context, r *scenario.Result) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO runs (
		scenario, started_at, duration_ms, clients, packets, interval_ms,
		loss, duplicate, corrupt, completed, timed_out,
		sent, received, delivered, discarded, corrupted, delivery_ratio, disruptions
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ScenarioName,
		r.StartTime.UTC().Format(time.RFC3339Nano),
		r.Duration.Milliseconds(),
		r.Clients,
		r.Settings.PacketCount,
		r.Settings.Interval,
		r.Impairments.Loss,
		r.Impairments.Duplicate,
		r.Impairments.Corrupt,
		r.Completed,
		r.TimedOut,
		r.Sent,
		r.Received,
		r.Delivered,
		r.Discarded,
		r.Corrupted,
		r.DeliveryRatio,
		disruptions(r),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO senders (
		run_id, sender, high_water, delivered, corrupted, expected, ratio, last_tick
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare senders: %w", err)
	}
	defer stmt.Close()

	for _, sr := range r.Senders {
		if _, err := stmt.ExecContext(ctx, id, sr.ID, sr.HighWater, sr.Delivered,
			sr.Corrupted, sr.Expected, sr.Ratio, sr.LastTick); err != nil {
			return 0, fmt.Errorf("store: insert sender %d: %w", sr.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

func disruptions(r *scenario.Result) uint64 {
	if r.Chaos == nil {
		return 0
	}
	return r.Chaos.TotalAttacks
}

const runColumns = `id, scenario, started_at, duration_ms, clients, packets, interval_ms,
	loss, duplicate, corrupt, completed, timed_out,
	sent, received, delivered, discarded, corrupted, delivery_ratio, disruptions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r          Run
		startedAt  string
		durationMS int64
	)
	err := row.Scan(&r.ID, &r.Scenario, &startedAt, &durationMS, &r.Clients, &r.Packets,
		&r.IntervalMS, &r.Loss, &r.Duplicate, &r.Corrupt, &r.Completed, &r.TimedOut,
		&r.Sent, &r.Received, &r.Delivered, &r.Discarded, &r.Corrupted, &r.DeliveryRatio,
		&r.Disruptions)
	if err != nil {
		return r, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return r, fmt.Errorf("store: bad timestamp %q: %w", startedAt, err)
	}
	return r, nil
}

// ListRuns は新しい順に最大 limit 件の実行結果を返す（送信元の内訳なし）
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun は ID の実行結果を送信元の内訳付きで返す
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sender, high_water, delivered, corrupted,
		expected, ratio, last_tick FROM senders WHERE run_id = ? ORDER BY sender;`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get senders for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sr server.SenderReport
		if err := rows.Scan(&sr.ID, &sr.HighWater, &sr.Delivered, &sr.Corrupted,
			&sr.Expected, &sr.Ratio, &sr.LastTick); err != nil {
			return nil, err
		}
		r.Senders = append(r.Senders, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRun は実行結果を削除する
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("store: delete run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
