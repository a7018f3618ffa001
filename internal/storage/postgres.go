package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"tixwatch/internal/model"
	"tixwatch/migrations"
)

const uniqueViolation = "23505"

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	boolean:     func(b bool) any { return b },
}

// Postgres implements Storage on a shared PostgreSQL database so that several
// worker instances can poll the same task set.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	if err := migrations.Run(db, migrations.Postgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// CreateTask inserts a new task and populates its CreatedAt and UpdatedAt.
func (p *Postgres) CreateTask(ctx context.Context, task *model.WatchTask) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO watch_tasks (id, source_url, canonical_url, recipient_id, recipient_kind, period_seconds,
			next_check_at, last_signature, last_outcome, last_total, last_checked_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		task.ID, task.SourceURL, task.CanonicalURL, task.RecipientID, string(task.RecipientKind),
		task.PeriodSeconds, task.NextCheckAt.Unix(), task.LastSignature, string(task.LastOutcome),
		task.LastTotal, unixOrNil(task.LastCheckedAt), task.Active,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns a single task by its ID.
func (p *Postgres) GetTask(ctx context.Context, id string) (*model.WatchTask, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM watch_tasks WHERE id = $1`, id)
	return scanPgTask(row)
}

// FindTask returns the task a recipient holds for a canonical URL.
func (p *Postgres) FindTask(ctx context.Context, recipientID, canonicalURL string) (*model.WatchTask, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM watch_tasks WHERE recipient_id = $1 AND canonical_url = $2`,
		recipientID, canonicalURL,
	)
	return scanPgTask(row)
}

// ListTasks returns a recipient's tasks, most recently updated first.
func (p *Postgres) ListTasks(ctx context.Context, recipientID string, filter model.ListFilter) ([]model.WatchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM watch_tasks WHERE recipient_id = $1`
	switch filter {
	case model.ListActive:
		query += ` AND active`
	case model.ListInactive:
		query += ` AND NOT active`
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := p.pool.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	return scanPgTasks(rows)
}

// ListActiveDue returns active tasks whose next check is at or before now.
// Instances race for the result through ClaimTask.
func (p *Postgres) ListActiveDue(ctx context.Context, now time.Time, limit int) ([]model.WatchTask, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM watch_tasks
		 WHERE active AND next_check_at <= $1
		 ORDER BY next_check_at, id
		 LIMIT $2`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	return scanPgTasks(rows)
}

// UpdateTask applies a partial update to an existing task.
func (p *Postgres) UpdateTask(ctx context.Context, id string, upd model.TaskUpdate) error {
	sets, args := updateClauses(upd, postgresDialect)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	tag, err := p.pool.Exec(ctx,
		`UPDATE watch_tasks SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTask advances next_check_at only if it still holds the expected value.
func (p *Postgres) ClaimTask(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE watch_tasks SET next_check_at = $1, updated_at = now()
		 WHERE id = $2 AND active AND next_check_at = $3`,
		next.Unix(), id, expected.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPgTask(row pgx.Row) (*model.WatchTask, error) {
	var t model.WatchTask
	var kind, outcome string
	var next int64
	var checked *int64
	err := row.Scan(&t.ID, &t.SourceURL, &t.CanonicalURL, &t.RecipientID, &kind, &t.PeriodSeconds,
		&next, &t.LastSignature, &outcome, &t.LastTotal, &checked, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.RecipientKind = model.RecipientKind(kind)
	t.LastOutcome = model.Outcome(outcome)
	t.NextCheckAt = time.Unix(next, 0).UTC()
	if checked != nil {
		c := time.Unix(*checked, 0).UTC()
		t.LastCheckedAt = &c
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanPgTasks(rows pgx.Rows) ([]model.WatchTask, error) {
	defer rows.Close()
	var tasks []model.WatchTask
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
