// Package auth implements credential-backed CONNECT authentication:
// a sqlite-backed username/password store checked against bcrypt
// hashes. The broker consults it through its Auth field, as a gate
// separate from the hook chain; Store is not a hook.
//
// Grounded on internal/auth/auth.go and pkg/hash/hash.go.
package auth

import (
	"database/sql"
	"errors"

	"github.com/goqttd/goqttd/internal/errs"
	"github.com/goqttd/goqttd/pkg/hash"
)

const DefaultBcryptCost = 12

// Store authenticates CONNECT username/password pairs against a
// sqlite users table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the users table if it doesn't already exist.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		secret   TEXT NOT NULL
	)`)
	return err
}

// Authenticate reports whether username/password match a stored
// credential, returning a typed *errs.Err describing the failure
// when they don't.
func (s *Store) Authenticate(username, password string) error {
	var secret string
	err := s.db.QueryRow("SELECT secret FROM users WHERE username = ?", username).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New("Auth", errs.UserNotFound)
		}
		return errs.New("Auth", err)
	}

	if !hash.VerifyPasswd(secret, password) {
		return errs.New("Auth", errs.InvalidPassword)
	}
	return nil
}

// AddUser hashes password and upserts it for username.
func (s *Store) AddUser(username, password string) error {
	secret, err := hash.HashPasswd(password, DefaultBcryptCost)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO users (username, secret) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET secret = excluded.secret`,
		username, secret)
	return err
}

// RemoveUser deletes username's credential, if present.
func (s *Store) RemoveUser(username string) error {
	_, err := s.db.Exec("DELETE FROM users WHERE username = ?", username)
	return err
}
