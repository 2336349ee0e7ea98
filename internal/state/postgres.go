package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/coach"
)

const schema = `
CREATE TABLE IF NOT EXISTS coach_state (
	identity   TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coach_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS coach_link (
	platform TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	identity TEXT NOT NULL,
	PRIMARY KEY (platform, user_id)
);
`

// Postgres keeps one JSONB record row per identity.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool and creates the schema.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(context.Background(), schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

func (p *Postgres) loadRecord(ctx context.Context, identity string) (*coach.Record, error) {
	var data []byte
	err := p.db.QueryRow(ctx,
		`SELECT record FROM coach_state WHERE identity = $1`, identity,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	var rec coach.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (p *Postgres) persistRecord(ctx context.Context, identity string, rec *coach.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO coach_state (identity, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identity)
		DO UPDATE SET record = $2, updated_at = now()`,
		identity, data,
	)
	if err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	return nil
}

func (p *Postgres) GetProfile(ctx context.Context, identity string) (*coach.Profile, error) {
	rec, err := p.loadRecord(ctx, identity)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.Profile, nil
}

func (p *Postgres) UpsertProfile(ctx context.Context, identity string, mutate func(*coach.Profile)) (*coach.Profile, error) {
	now := time.Now().UTC()
	rec, err := p.loadRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, now)}
	}
	if mutate != nil {
		mutate(&rec.Profile)
	}
	rec.Profile.UpdatedAt = now
	if err := p.persistRecord(ctx, identity, rec); err != nil {
		return nil, err
	}
	return &rec.Profile, nil
}

func (p *Postgres) EnsureActive(ctx context.Context, identity string) error {
	rec, err := p.loadRecord(ctx, identity)
	if err != nil {
		return err
	}
	if rec == nil {
		fresh := &coach.Record{Profile: *coach.NewProfile(identity, time.Now().UTC())}
		if err := p.persistRecord(ctx, identity, fresh); err != nil {
			return err
		}
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO coach_meta (key, value)
		VALUES ('active', $1)
		ON CONFLICT (key)
		DO UPDATE SET value = $1`,
		identity,
	)
	if err != nil {
		return fmt.Errorf("set active identity: %w", err)
	}
	return nil
}

func (p *Postgres) ActiveIdentity(ctx context.Context) (string, error) {
	var identity string
	err := p.db.QueryRow(ctx,
		`SELECT value FROM coach_meta WHERE key = 'active'`,
	).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active identity: %w", err)
	}
	return identity, nil
}

func (p *Postgres) GetUsage(ctx context.Context, identity string) (*coach.UsageWindow, error) {
	rec, err := p.loadRecord(ctx, identity)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Usage, nil
}

func (p *Postgres) PutUsage(ctx context.Context, identity string, w coach.UsageWindow) error {
	rec, err := p.loadRecord(ctx, identity)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, time.Now().UTC())}
	}
	rec.Usage = &w
	return p.persistRecord(ctx, identity, rec)
}

func (p *Postgres) BindIdentity(ctx context.Context, platform, userID, identity string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO coach_link (platform, user_id, identity)
		VALUES ($1, $2, $3)
		ON CONFLICT (platform, user_id)
		DO UPDATE SET identity = $3`,
		platform, userID, identity,
	)
	if err != nil {
		return fmt.Errorf("set binding: %w", err)
	}
	return nil
}

func (p *Postgres) ResolveBinding(ctx context.Context, platform, userID string) (string, error) {
	var identity string
	err := p.db.QueryRow(ctx,
		`SELECT identity FROM coach_link WHERE platform = $1 AND user_id = $2`,
		platform, userID,
	).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get binding: %w", err)
	}
	return identity, nil
}

func (p *Postgres) Unbind(ctx context.Context, platform, userID string) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM coach_link WHERE platform = $1 AND user_id = $2`,
		platform, userID,
	)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
