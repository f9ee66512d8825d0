package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/pinchy/internal/store"
)

const cronSchemaSQL = `
CREATE TABLE IF NOT EXISTS cron_jobs (
	agent_id TEXT NOT NULL,
	name TEXT NOT NULL,
	schedule TEXT NOT NULL,
	message TEXT,
	PRIMARY KEY (agent_id, name)
);

CREATE TABLE IF NOT EXISTS cron_results (
	ord BIGSERIAL PRIMARY KEY,
	agent_id TEXT NOT NULL,
	name TEXT NOT NULL,
	ran_at BIGINT NOT NULL,
	ok BOOLEAN NOT NULL,
	error TEXT
);
`

// CronStore implements store.CronStore against Postgres, so a scheduler
// running in one process can see runtime-created jobs from another.
type CronStore struct {
	db *sql.DB
}

func NewCronStore(db *sql.DB) (*CronStore, error) {
	if _, err := db.Exec(cronSchemaSQL); err != nil {
		return nil, fmt.Errorf("create cron schema: %w", err)
	}
	return &CronStore{db: db}, nil
}

func (c *CronStore) LoadJobs(ctx context.Context, agentID string) ([]store.CronJob, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, schedule, message FROM cron_jobs WHERE agent_id=$1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query cron jobs: %w", err)
	}
	defer rows.Close()

	var out []store.CronJob
	for rows.Next() {
		var j store.CronJob
		var msg sql.NullString
		if err := rows.Scan(&j.Name, &j.Schedule, &msg); err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		j.Message = msg.String
		out = append(out, j)
	}
	return out, rows.Err()
}

func (c *CronStore) SaveJobs(ctx context.Context, agentID string, jobs []store.CronJob) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cron_jobs WHERE agent_id=$1`, agentID); err != nil {
		return fmt.Errorf("clear cron jobs: %w", err)
	}
	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cron_jobs (agent_id, name, schedule, message) VALUES ($1,$2,$3,$4)`,
			agentID, j.Name, j.Schedule, j.Message,
		); err != nil {
			return fmt.Errorf("insert cron job %q: %w", j.Name, err)
		}
	}
	return tx.Commit()
}

func (c *CronStore) RecordResult(ctx context.Context, agentID string, result store.CronJobResult) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cron_results (agent_id, name, ran_at, ok, error) VALUES ($1,$2,$3,$4,$5)`,
		agentID, result.Name, result.RanAt, result.OK, result.Error,
	)
	return err
}

var _ store.CronStore = (*CronStore)(nil)
