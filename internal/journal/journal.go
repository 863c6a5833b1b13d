package journal

import (
	"context"
	"coursemigrate/internal/components/chrono"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Status string

const (
	StatusMigrated Status = "migrated"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is what happened to a single post during a run.
type Outcome struct {
	Course     string
	PostID     int
	Title      string
	Status     Status
	Reason     string
	RecordID   int
	RecordedAt time.Time
}

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Courses    []string
}

func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

type Tally struct {
	Migrated int
	Skipped  int
	Failed   int
}

func (t Tally) Total() int {
	return t.Migrated + t.Skipped + t.Failed
}

func (t *Tally) Add(status Status) {
	switch status {
	case StatusMigrated:
		t.Migrated++
	case StatusSkipped:
		t.Skipped++
	case StatusFailed:
		t.Failed++
	}
}

// Journal is the sqlite ledger of migration runs.
type Journal struct {
	db    *sql.DB
	clock chrono.API
}

// Open opens (and creates) the journal at path, ":memory:" is accepted.
func Open(path string, clock chrono.API) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// in-memory databases exist per connection
	db.SetMaxOpenConns(1)
	j, err := New(db, clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func New(db *sql.DB, clock chrono.API) (*Journal, error) {
	if clock == nil {
		clock = chrono.NewStandardImpl()
	}
	_, err := db.Exec(Schema)
	if err != nil {
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, clock: clock}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) StartRun(ctx context.Context, courses []string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: j.clock.Now(),
		Courses:   courses,
	}
	_, err := j.db.ExecContext(
		ctx,
		"insert into run(id, started_at, courses) values (?, ?, ?)",
		run.ID, run.StartedAt.UnixMilli(), strings.Join(courses, ","),
	)
	if err != nil {
		return Run{}, fmt.Errorf("journal: start run: %w", err)
	}
	return run, nil
}

func (j *Journal) FinishRun(ctx context.Context, runID string) error {
	res, err := j.db.ExecContext(
		ctx,
		"update run set finished_at = ? where id = ?",
		j.clock.Now().UnixMilli(), runID,
	)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("journal: finish run: unknown run %s", runID)
	}
	return nil
}

// Record stores the outcome of a post, a later outcome of the same post in
// the same run replaces the earlier one.
func (j *Journal) Record(ctx context.Context, runID string, o Outcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = j.clock.Now()
	}
	var recordID sql.NullInt64
	if o.RecordID > 0 {
		recordID = sql.NullInt64{Int64: int64(o.RecordID), Valid: true}
	}
	_, err := j.db.ExecContext(
		ctx,
		`insert or replace into outcome(run_id, course, post_id, title, status, reason, record_id, recorded_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Course, o.PostID, o.Title, string(o.Status), o.Reason, recordID, o.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s/%d: %w", o.Course, o.PostID, err)
	}
	return nil
}

func scanRun(row interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
		courses  string
	)
	err := row.Scan(&run.ID, &started, &finished, &courses)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		run.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	if courses != "" {
		run.Courses = strings.Split(courses, ",")
	}
	return run, nil
}

// Runs lists every run, newest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(
		ctx,
		"select id, started_at, finished_at, courses from run order by started_at desc, rowid desc",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Run returns the run with the given id, an empty id means the latest run.
func (j *Journal) Run(ctx context.Context, runID string) (Run, bool, error) {
	query := "select id, started_at, finished_at, courses from run where id = ?"
	args := []any{runID}
	if runID == "" {
		query = "select id, started_at, finished_at, courses from run order by started_at desc, rowid desc limit 1"
		args = nil
	}
	run, err := scanRun(j.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// Outcomes lists the outcomes of a run, an empty status lists all of them.
func (j *Journal) Outcomes(ctx context.Context, runID string, status Status) ([]Outcome, error) {
	query := `select course, post_id, title, status, reason, record_id, recorded_at
		from outcome where run_id = ?`
	args := []any{runID}
	if status != "" {
		query += " and status = ?"
		args = append(args, string(status))
	}
	query += " order by course, post_id"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o        Outcome
			status   string
			recordID sql.NullInt64
			recorded int64
		)
		err := rows.Scan(&o.Course, &o.PostID, &o.Title, &status, &o.Reason, &recordID, &recorded)
		if err != nil {
			return nil, err
		}
		o.Status = Status(status)
		if recordID.Valid {
			o.RecordID = int(recordID.Int64)
		}
		o.RecordedAt = time.UnixMilli(recorded).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *Journal) Tally(ctx context.Context, runID string) (Tally, error) {
	rows, err := j.db.QueryContext(
		ctx,
		"select status, count(*) from outcome where run_id = ? group by status",
		runID,
	)
	if err != nil {
		return Tally{}, err
	}
	defer rows.Close()

	var tally Tally
	for rows.Next() {
		var (
			status string
			count  int
		)
		err := rows.Scan(&status, &count)
		if err != nil {
			return Tally{}, err
		}
		switch Status(status) {
		case StatusMigrated:
			tally.Migrated = count
		case StatusSkipped:
			tally.Skipped = count
		case StatusFailed:
			tally.Failed = count
		}
	}
	return tally, rows.Err()
}
