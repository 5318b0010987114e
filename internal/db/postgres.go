package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
	"github.com/svaboev-coder/collecting-contacts/internal/store"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	stmt := strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS contacts (",
		"    identity_key TEXT PRIMARY KEY,",
		"    name TEXT NOT NULL DEFAULT '',",
		"    email TEXT NOT NULL DEFAULT '',",
		"    phone TEXT NOT NULL DEFAULT '',",
		"    company TEXT NOT NULL DEFAULT '',",
		"    notes TEXT NOT NULL DEFAULT '',",
		"    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,",
		"    session_ids TEXT[] NOT NULL DEFAULT '{}',",
		"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
		"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		")",
	}, "\n")

	if _, err := p.Pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}

	return nil
}

// ContactStore is the durable store.ContactStore backed by the contacts
// table. Update runs inside a transaction holding an advisory lock on the
// identity key, so concurrent commits to the same key serialize and the
// second committer observes the first's write. Row locks alone cannot do
// this: FOR UPDATE locks nothing when the row does not exist yet, and two
// first commits would each reconcile against an empty store.
type ContactStore struct {
	pool *pgxpool.Pool
}

func NewContactStore(p *Postgres) *ContactStore {
	return &ContactStore{pool: p.Pool}
}

const contactColumns = "identity_key, name, email, phone, company, notes, confidence, session_ids, created_at, updated_at"

func (s *ContactStore) Get(ctx context.Context, key string) (*models.ContactRecord, error) {
	query := "SELECT " + contactColumns + " FROM contacts WHERE identity_key = $1"
	rec, err := scanContact(s.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get contact: %w", err)
	}
	return rec, nil
}

func (s *ContactStore) Put(ctx context.Context, key string, rec *models.ContactRecord) error {
	if err := upsertContact(ctx, s.pool, key, rec); err != nil {
		return fmt.Errorf("postgres: put contact: %w", err)
	}
	return nil
}

func (s *ContactStore) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	// Held until commit or rollback; covers absent rows, which FOR UPDATE
	// cannot lock.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("postgres: lock identity key: %w", err)
	}

	query := "SELECT " + contactColumns + " FROM contacts WHERE identity_key = $1"
	existing, err := scanContact(tx.QueryRow(ctx, query, key))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: lock contact: %w", err)
	}

	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit(ctx)
	}

	if err := upsertContact(ctx, tx, key, next); err != nil {
		return fmt.Errorf("postgres: write contact: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *ContactStore) List(ctx context.Context) ([]*models.ContactRecord, error) {
	query := "SELECT " + contactColumns + " FROM contacts ORDER BY identity_key"
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contacts: %w", err)
	}
	defer rows.Close()

	var records []*models.ContactRecord
	for rows.Next() {
		rec, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan contact: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.ContactRecord, error) {
	var rec models.ContactRecord
	err := row.Scan(
		&rec.Key,
		&rec.Name,
		&rec.Email,
		&rec.Phone,
		&rec.Company,
		&rec.Notes,
		&rec.Confidence,
		&rec.SessionIDs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertContact(ctx context.Context, db execer, key string, rec *models.ContactRecord) error {
	query := strings.Join([]string{
		"INSERT INTO contacts (" + contactColumns + ")",
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		"ON CONFLICT (identity_key) DO UPDATE SET",
		"    name = EXCLUDED.name,",
		"    email = EXCLUDED.email,",
		"    phone = EXCLUDED.phone,",
		"    company = EXCLUDED.company,",
		"    notes = EXCLUDED.notes,",
		"    confidence = EXCLUDED.confidence,",
		"    session_ids = EXCLUDED.session_ids,",
		"    updated_at = EXCLUDED.updated_at",
	}, "\n")

	_, err := db.Exec(ctx, query,
		key,
		rec.Name,
		rec.Email,
		rec.Phone,
		rec.Company,
		rec.Notes,
		rec.Confidence,
		rec.SessionIDs,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}
