package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Configuration is a runtime override stored as JSON.
type Configuration struct {
	Key         string
	Value       json.RawMessage
	Description string
	UpdatedBy   *string
	UpdatedAt   time.Time
}

func scanConfiguration(row rowScanner) (Configuration, error) {
	var (
		c   Configuration
		val []byte
		by  sql.NullString
	)
	if err := row.Scan(&c.Key, &val, &c.Description, &by, &c.UpdatedAt); err != nil {
		return Configuration{}, err
	}
	c.Value = json.RawMessage(val)
	c.UpdatedBy = stringPtr(by)
	return c, nil
}

func (s *Store) ListConfigurations(ctx context.Context) ([]Configuration, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value, description, updated_by, updated_at FROM configurations ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Configuration
	for rows.Next() {
		c, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConfiguration(ctx context.Context, key string) (Configuration, bool, error) {
	c, err := scanConfiguration(s.DB.QueryRowContext(ctx,
		`SELECT key, value, description, updated_by, updated_at FROM configurations WHERE key=$1`, key))
	if err == sql.ErrNoRows {
		return Configuration{}, false, nil
	}
	if err != nil {
		return Configuration{}, false, err
	}
	return c, true, nil
}

// UpsertConfiguration writes a value; an empty description keeps the old one.
func (s *Store) UpsertConfiguration(ctx context.Context, key string, value json.RawMessage, description, userID string) (Configuration, error) {
	return scanConfiguration(s.DB.QueryRowContext(ctx, `INSERT INTO configurations (key, value, description, updated_by, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (key) DO UPDATE SET
  value = EXCLUDED.value,
  description = CASE WHEN EXCLUDED.description = '' THEN configurations.description ELSE EXCLUDED.description END,
  updated_by = EXCLUDED.updated_by,
  updated_at = NOW()
RETURNING key, value, description, updated_by, updated_at`, key, []byte(value), description, nullString(userID)))
}
