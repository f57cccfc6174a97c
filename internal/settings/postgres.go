package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagecast/narrator/internal/voices"
)

// defaultProfile is the row used for the single process-wide selection
const defaultProfile = "default"

// PostgresStore persists the settings in PostgreSQL
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore connects to databaseURL and ensures the schema exists
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS voice_settings (
		profile TEXT PRIMARY KEY,
		settings JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresStore{pool: pool, profile: defaultProfile}, nil
}

func (p *PostgresStore) Get(ctx context.Context) (voices.Settings, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT settings FROM voice_settings WHERE profile = $1`, p.profile,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return voices.DefaultSettings(), nil
	}
	if err != nil {
		return voices.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	var s voices.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return voices.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Set(ctx context.Context, s voices.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO voice_settings (profile, settings, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (profile) DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at`,
		p.profile, raw, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
