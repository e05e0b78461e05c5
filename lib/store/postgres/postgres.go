// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/por/lib/store"
)

const schema = `CREATE TABLE IF NOT EXISTS verification_runs (
	id              BIGSERIAL PRIMARY KEY,
	exchange_id     BIGINT NOT NULL,
	account         TEXT NOT NULL,
	claimed         DOUBLE PRECISION NOT NULL,
	actual          DOUBLE PRECISION NOT NULL,
	verified        BOOLEAN NOT NULL,
	discrepancy_pct DOUBLE PRECISION NOT NULL,
	state           TEXT NOT NULL,
	commit_tx       TEXT NOT NULL DEFAULT '',
	alert_tx        TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	started         TIMESTAMPTZ NOT NULL,
	finished        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS verification_runs_exchange ON verification_runs (exchange_id, finished DESC);`

const insertRun = `INSERT INTO verification_runs (exchange_id, account, claimed, actual, verified, discrepancy_pct, state,
	commit_tx, alert_tx, error, started, finished) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`

const selectRuns = `SELECT exchange_id, account, claimed, actual, verified, discrepancy_pct, state, commit_tx, alert_tx,
	error, started, finished FROM verification_runs WHERE exchange_id = $1 ORDER BY finished DESC LIMIT $2`

const (
	defaultLimit = 100 // runs returned when GetRuns is called without a limit
	opTimeout    = 10 * time.Second
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and makes sure the runs table
// exists.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SaveRun inserts a finished run and returns its id as a decimal string.
func (p *Postgres) SaveRun(r store.Run) ([]byte, error) {
	var id int64

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := p.db.QueryRowContext(ctx, insertRun, int64(r.ExchangeID), r.Account, r.Claimed, r.Actual, r.Verified,
		r.DiscrepancyPct, r.State, r.CommitTx, r.AlertTx, r.Error, r.Started, r.Finished).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("could not insert run in db: %w", err)
	}

	return []byte(strconv.FormatInt(id, 10)), nil
}

// GetRuns returns the latest runs saved for exchangeID.
func (p *Postgres) GetRuns(exchangeID uint64, limit int64) ([]store.Run, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, selectRuns, int64(exchangeID), limit)
	if err != nil {
		return nil, fmt.Errorf("error getting runs from DB: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}

	for rows.Next() {
		var r store.Run
		var ex int64

		if err = rows.Scan(&ex, &r.Account, &r.Claimed, &r.Actual, &r.Verified, &r.DiscrepancyPct, &r.State,
			&r.CommitTx, &r.AlertTx, &r.Error, &r.Started, &r.Finished); err != nil {
			return nil, fmt.Errorf("error reading run from DB: %w", err)
		}

		r.ExchangeID = uint64(ex)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
