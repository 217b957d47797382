package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call claims and caller identity in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_claims (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL UNIQUE,
			caller_from TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			claimed_by TEXT NOT NULL DEFAULT '',
			offered_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_claims_status ON call_claims (status, offered_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Offer(ctx context.Context, callSid, from string) (*Claim, error) {
	if callSid == "" {
		return nil, errors.New("callSid is required")
	}
	now := time.Now().UTC()
	c := &Claim{
		ID:        uuid.NewString(),
		CallSid:   callSid,
		From:      from,
		Status:    StatusOffered,
		OfferedAt: now,
		UpdatedAt: now,
	}
	// Re-offering an already-known call keeps the existing record.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_claims (id, call_sid, caller_from, status, claimed_by, offered_at, updated_at)
		 VALUES ($1, $2, $3, $4, '', $5, $6)
		 ON CONFLICT (call_sid) DO NOTHING`,
		c.ID, c.CallSid, c.From, c.Status, c.OfferedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("offer claim: %w", err)
	}
	return s.Get(ctx, callSid)
}

func (s *PostgresStore) Take(ctx context.Context, callSid, operatorID string) (*Claim, error) {
	return s.transition(ctx, callSid, operatorID, StatusClaimed)
}

func (s *PostgresStore) Verify(ctx context.Context, callSid, operatorID string) (*Claim, error) {
	return s.transition(ctx, callSid, operatorID, StatusVerified)
}

func (s *PostgresStore) transition(ctx context.Context, callSid, operatorID string, to Status) (*Claim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var c Claim
	err = tx.QueryRow(ctx,
		`SELECT id, call_sid, caller_from, status, claimed_by, offered_at, updated_at
		 FROM call_claims WHERE call_sid=$1 FOR UPDATE`, callSid,
	).Scan(&c.ID, &c.CallSid, &c.From, &c.Status, &c.ClaimedBy, &c.OfferedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load claim: %w", err)
	}

	if err := advance(&c, to, operatorID); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE call_claims SET status=$1, claimed_by=$2, updated_at=$3 WHERE call_sid=$4`,
		c.Status, c.ClaimedBy, c.UpdatedAt, c.CallSid,
	)
	if err != nil {
		return nil, fmt.Errorf("store claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim transition: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, callSid string) (*Claim, error) {
	var c Claim
	err := s.pool.QueryRow(ctx,
		`SELECT id, call_sid, caller_from, status, claimed_by, offered_at, updated_at
		 FROM call_claims WHERE call_sid=$1`, callSid,
	).Scan(&c.ID, &c.CallSid, &c.From, &c.Status, &c.ClaimedBy, &c.OfferedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
