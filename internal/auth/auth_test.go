package auth

import (
	"database/sql"
	"testing"

	"github.com/goqttd/goqttd/internal/errs"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db)
	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestAddUserAndAuthenticate(t *testing.T) {
	s := openTestStore(t)
	if err := s.AddUser("alice", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.Authenticate("alice", "hunter2"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := openTestStore(t)
	_ = s.AddUser("alice", "hunter2")
	err := s.Authenticate("alice", "wrong")
	if !errs.Is(err, errs.InvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s := openTestStore(t)
	err := s.Authenticate("nobody", "x")
	if !errs.Is(err, errs.UserNotFound) {
		t.Fatalf("expected UserNotFound, got %v", err)
	}
}

func TestAddUserUpsertsSecret(t *testing.T) {
	s := openTestStore(t)
	_ = s.AddUser("alice", "first")
	_ = s.AddUser("alice", "second")
	if err := s.Authenticate("alice", "first"); err == nil {
		t.Fatal("expected old password to be replaced")
	}
	if err := s.Authenticate("alice", "second"); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}

func TestRemoveUser(t *testing.T) {
	s := openTestStore(t)
	_ = s.AddUser("alice", "pw")
	if err := s.RemoveUser("alice"); err != nil {
		t.Fatal(err)
	}
	err := s.Authenticate("alice", "pw")
	if !errs.Is(err, errs.UserNotFound) {
		t.Fatalf("expected UserNotFound after removal, got %v", err)
	}
}
