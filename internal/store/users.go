package store

import (
	"context"
	"strings"
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	IsAdmin      bool
	CreatedAt    time.Time
}

// CreateUser inserts an account; duplicate emails surface as a unique violation.
func (s *Store) CreateUser(ctx context.Context, email, hash, displayName string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, display_name) VALUES ($1,$2,$3) RETURNING id`,
		strings.ToLower(strings.TrimSpace(email)), hash, displayName).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, is_admin, created_at FROM users WHERE email=$1`,
		strings.ToLower(strings.TrimSpace(email))).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.IsAdmin, &u.CreatedAt)
	return u, notFound(err)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, is_admin, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.IsAdmin, &u.CreatedAt)
	return u, notFound(err)
}

// SetUserAdmin grants or revokes the admin flag.
func (s *Store) SetUserAdmin(ctx context.Context, email string, admin bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET is_admin=$2 WHERE email=$1`, strings.ToLower(strings.TrimSpace(email)), admin)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
