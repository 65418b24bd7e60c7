package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// asset holdings and event payloads are JSONB.
//
// Expected schema:
//
//	CREATE TABLE portfolios (
//	    user_id    TEXT PRIMARY KEY,
//	    balance    NUMERIC NOT NULL CHECK (balance >= 0),
//	    assets     JSONB NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE commitments (
//	    id            TEXT PRIMARY KEY,
//	    user_id       TEXT NOT NULL REFERENCES portfolios (user_id),
//	    goal_name     TEXT NOT NULL,
//	    target_amount NUMERIC NOT NULL,
//	    locked_amount NUMERIC NOT NULL CHECK (locked_amount > 0),
//	    penalty_rate  NUMERIC NOT NULL,
//	    unlock_date   TIMESTAMPTZ NOT NULL,
//	    state         TEXT NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    withdrawn_at  TIMESTAMPTZ
//	);
//	CREATE TABLE simulation_events (
//	    id        TEXT PRIMARY KEY,
//	    user_id   TEXT NOT NULL,
//	    kind      TEXT NOT NULL,
//	    payload   JSONB NOT NULL DEFAULT '{}',
//	    timestamp TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool            *pgxpool.Pool
	startingBalance decimal.Decimal
}

// NewPostgresStore creates a new PostgreSQL-backed store. Portfolios are
// lazily created with the given starting balance on first mutation.
func NewPostgresStore(pool *pgxpool.Pool, startingBalance decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, startingBalance: startingBalance}
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	p, err := scanPortfolio(s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, assets, created_at, updated_at
		 FROM portfolios WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio %s: %w", userID, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", userID, err)
	}
	defer pgTx.Rollback(ctx)

	// Ensure the row exists before locking it: FOR UPDATE cannot lock an
	// absent row, and two concurrent first mutations must not race.
	now := time.Now().UTC()
	if _, err := pgTx.Exec(ctx,
		`INSERT INTO portfolios (user_id, balance, assets, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, '{}', $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, s.startingBalance.String(), now,
	); err != nil {
		return fmt.Errorf("ensure portfolio %s: %w", userID, err)
	}

	tx := &pgTxHandle{ctx: ctx, tx: pgTx, userID: userID}
	if err := fn(tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	c, err := scanCommitment(s.pool.QueryRow(ctx, commitmentSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commitment %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListCommitmentsByUser(ctx context.Context, userID string) ([]model.Commitment, error) {
	rows, err := s.pool.Query(ctx, commitmentSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commitments []model.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, *c)
	}
	return commitments, rows.Err()
}

func (s *PostgresStore) ListEventsByUser(ctx context.Context, userID string) ([]model.SimulationEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, payload, timestamp
		 FROM simulation_events WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.SimulationEvent
	for rows.Next() {
		var e model.SimulationEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// pgTxHandle implements Tx on top of an open pgx transaction.
type pgTxHandle struct {
	ctx    context.Context
	tx     pgx.Tx
	userID string
}

func (t *pgTxHandle) Portfolio() (*model.Portfolio, error) {
	p, err := scanPortfolio(t.tx.QueryRow(t.ctx,
		`SELECT user_id, balance::TEXT, assets, created_at, updated_at
		 FROM portfolios WHERE user_id = $1 FOR UPDATE`, t.userID))
	if err != nil {
		return nil, fmt.Errorf("lock portfolio %s: %w", t.userID, err)
	}
	return p, nil
}

func (t *pgTxHandle) SavePortfolio(p *model.Portfolio) error {
	assets, err := json.Marshal(p.Assets)
	if err != nil {
		return fmt.Errorf("encode assets for %s: %w", p.UserID, err)
	}
	_, err = t.tx.Exec(t.ctx,
		`UPDATE portfolios SET balance = $2::NUMERIC, assets = $3, updated_at = $4
		 WHERE user_id = $1`,
		p.UserID, p.Balance.String(), assets, p.UpdatedAt)
	return err
}

func (t *pgTxHandle) Commitment(id string) (*model.Commitment, error) {
	c, err := scanCommitment(t.tx.QueryRow(t.ctx, commitmentSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock commitment %s: %w", id, err)
	}
	return c, nil
}

func (t *pgTxHandle) InsertCommitment(c *model.Commitment) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO commitments (id, user_id, goal_name, target_amount, locked_amount, penalty_rate, unlock_date, state, created_at, withdrawn_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		c.ID, c.UserID, c.GoalName,
		c.TargetAmount.String(), c.LockedAmount.String(), c.PenaltyRate.String(),
		c.UnlockDate, string(c.State), c.CreatedAt, c.WithdrawnAt)
	return err
}

func (t *pgTxHandle) UpdateCommitment(c *model.Commitment) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE commitments SET state = $2, withdrawn_at = $3 WHERE id = $1`,
		c.ID, string(c.State), c.WithdrawnAt)
	return err
}

func (t *pgTxHandle) AppendEvent(e *model.SimulationEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO simulation_events (id, user_id, kind, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Kind, payload, e.Timestamp)
	return err
}

const commitmentSelect = `SELECT id, user_id, goal_name,
       target_amount::TEXT, locked_amount::TEXT, penalty_rate::TEXT,
       unlock_date, state, created_at, withdrawn_at
  FROM commitments`

// pgRow covers pgx.Row and pgx.Rows for shared scan helpers.
type pgRow interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(row pgRow) (*model.Portfolio, error) {
	var p model.Portfolio
	var balance string
	var assets []byte

	if err := row.Scan(&p.UserID, &balance, &assets, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Balance, _ = decimal.NewFromString(balance)
	p.Assets = make(map[string]decimal.Decimal)
	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &p.Assets); err != nil {
			return nil, fmt.Errorf("decode assets: %w", err)
		}
	}
	return &p, nil
}

func scanCommitment(row pgRow) (*model.Commitment, error) {
	var c model.Commitment
	var target, locked, penalty, state string

	if err := row.Scan(&c.ID, &c.UserID, &c.GoalName,
		&target, &locked, &penalty,
		&c.UnlockDate, &state, &c.CreatedAt, &c.WithdrawnAt); err != nil {
		return nil, err
	}

	c.TargetAmount, _ = decimal.NewFromString(target)
	c.LockedAmount, _ = decimal.NewFromString(locked)
	c.PenaltyRate, _ = decimal.NewFromString(penalty)
	c.State = model.CommitmentState(state)
	return &c, nil
}
