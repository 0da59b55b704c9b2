// internal/session/store_postgres.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopauth/pkg/shop"
)

// PostgresStore persists records in the shop_sessions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the sessions table if missing. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS shop_sessions (
  id text PRIMARY KEY,
  shop text NOT NULL,
  is_online boolean NOT NULL DEFAULT false,
  scopes text[] NOT NULL DEFAULT '{}',
  access_token text NOT NULL,
  expires timestamptz,
  user_id text,
  user_email text,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS shop_sessions_shop_idx ON shop_sessions(shop);
`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, shop, is_online, scopes, access_token, expires, user_id, user_email
FROM shop_sessions WHERE id=$1`, id)
	var rec Record
	var shopStr string
	var scopes []string
	var expires *time.Time
	var userID, userEmail *string
	err := row.Scan(&rec.ID, &shopStr, &rec.IsOnline, &scopes, &rec.AccessToken, &expires, &userID, &userEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.Shop = shop.Domain(shopStr)
	rec.Scopes = Scopes(scopes)
	rec.Expires = expires
	if userID != nil {
		rec.User = &AssociatedUser{ID: *userID}
		if userEmail != nil {
			rec.User.Email = *userEmail
		}
	}
	return &rec, nil
}

func (s *PostgresStore) Store(ctx context.Context, rec *Record) error {
	var userID, userEmail *string
	if rec.User != nil {
		userID = &rec.User.ID
		if rec.User.Email != "" {
			userEmail = &rec.User.Email
		}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO shop_sessions(id, shop, is_online, scopes, access_token, expires, user_id, user_email, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (id) DO UPDATE SET
  shop=EXCLUDED.shop, is_online=EXCLUDED.is_online, scopes=EXCLUDED.scopes,
  access_token=EXCLUDED.access_token, expires=EXCLUDED.expires,
  user_id=EXCLUDED.user_id, user_email=EXCLUDED.user_email, updated_at=NOW()`,
		rec.ID, rec.Shop.String(), rec.IsOnline, []string(rec.Scopes), rec.AccessToken, rec.Expires, userID, userEmail)
	if err != nil {
		return fmt.Errorf("store session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM shop_sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
