package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/driver-console-sync/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS job_transitions (
	job_id      TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	from_status TEXT        NOT NULL,
	to_status   TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, to_status, at)
)`

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresJournal{db: db}, nil
}

// NewPostgresJournalFromDB wraps an open handle.
func NewPostgresJournalFromDB(db *sql.DB) *PostgresJournal { return &PostgresJournal{db: db} }

func (p *PostgresJournal) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// Append is idempotent: replaying the same transition is a no-op.
func (p *PostgresJournal) Append(ctx context.Context, t models.Transition) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO job_transitions(job_id, kind, from_status, to_status, source, at) VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING`,
		t.JobID.String(), string(t.Kind), string(t.From), string(t.To), t.Source, t.At)
	return err
}

func (p *PostgresJournal) ForJob(ctx context.Context, jobID models.ID) ([]models.Transition, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT job_id, kind, from_status, to_status, source, at FROM job_transitions WHERE job_id=$1 ORDER BY at`,
		jobID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transition
	for rows.Next() {
		var t models.Transition
		var id, kind, from, to string
		if err := rows.Scan(&id, &kind, &from, &to, &t.Source, &t.At); err != nil {
			return nil, err
		}
		t.JobID, t.Kind, t.From, t.To = models.ID(id), models.JobKind(kind), models.JobStatus(from), models.JobStatus(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresJournal) Close() error { return p.db.Close() }

func (p *PostgresJournal) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
