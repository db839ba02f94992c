package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

var userRowColumns = []string{"id", "email", "password_hash", "display_name", "is_admin", "created_at"}

func TestSignupValidatesInput(t *testing.T) {
	st, _ := newMockStore(t)
	h := &AuthHandler{Store: st, Secret: []byte("s")}
	ctx, _ := newContext(http.MethodPost, "/api/auth/signup", `{"email":"not-an-email","password":"short"}`)

	err := h.signup(ctx)
	var vErrs validate.Errors
	require.ErrorAs(t, err, &vErrs)
	assert.Contains(t, vErrs, "email")
	assert.Contains(t, vErrs, "password")
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	st, mock := newMockStore(t)
	h := &AuthHandler{Store: st, Secret: []byte("s")}
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("ada@example.org", sqlmock.AnyArg(), "Ada").
		WillReturnError(&pq.Error{Code: "23505"})

	ctx, rec := newContext(http.MethodPost, "/api/auth/signup", `{"email":"Ada@example.org","password":"correct horse","display_name":"Ada"}`)
	err := h.signup(ctx)
	assert.Equal(t, http.StatusConflict, httpStatus(err, rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupCreatesUser(t *testing.T) {
	st, mock := newMockStore(t)
	h := &AuthHandler{Store: st, Secret: []byte("s")}
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-9"))

	ctx, rec := newContext(http.MethodPost, "/api/auth/signup", `{"email":"ada@example.org","password":"correct horse"}`)
	require.NoError(t, h.signup(ctx))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"user-9"}`, rec.Body.String())
}

func TestLoginIssuesAdminScopedToken(t *testing.T) {
	st, mock := newMockStore(t)
	secret := []byte("test-secret")
	h := &AuthHandler{Store: st, Secret: secret}
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery(`FROM users WHERE email=\$1`).
		WithArgs("ada@example.org").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("user-1", "ada@example.org", string(hash), "Ada", true, time.Now()))

	ctx, rec := newContext(http.MethodPost, "/api/auth/login", `{"email":"ada@example.org","password":"correct horse"}`)
	require.NoError(t, h.login(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sub, scopes, err := runtime.ParseJWT(resp.Token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
	assert.Equal(t, []string{runtime.ScopeAdmin}, scopes)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), runtime.AuthCookie+"=")
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	st, mock := newMockStore(t)
	h := &AuthHandler{Store: st, Secret: []byte("s")}
	mock.ExpectQuery(`FROM users WHERE email=\$1`).WillReturnError(sql.ErrNoRows)

	ctx, rec := newContext(http.MethodPost, "/api/auth/login", `{"email":"nobody@example.org","password":"correct horse"}`)
	err := h.login(ctx)
	assert.Equal(t, http.StatusUnauthorized, httpStatus(err, rec))
}
