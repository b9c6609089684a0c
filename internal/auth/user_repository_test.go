package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/homecontrol/homecontrol-core/internal/infrastructure/database"
	_ "github.com/homecontrol/homecontrol-core/migrations"
)

func openTestUserRepo(t *testing.T) *SQLiteUserRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return NewSQLiteUserRepository(db.DB)
}

func createTestUser(t *testing.T, repo *SQLiteUserRepository, email, password string, active bool) *User {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	u := &User{
		Email:        email,
		FullName:     "Test User",
		PasswordHash: hash,
		IsActive:     active,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := openTestUserRepo(t)
	ctx := context.Background()

	u := createTestUser(t, repo, "alice@example.com", "hunter2hunter2", true)

	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", got.Email)
	}

	got, err = repo.GetByEmail(ctx, "ALICE@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetByEmail (uppercase) failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("id = %q, want %q", got.ID, u.ID)
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	repo := openTestUserRepo(t)

	createTestUser(t, repo, "alice@example.com", "password123456", true)

	hash, _ := HashPassword("another-password")
	err := repo.Create(context.Background(), &User{
		Email:        "alice@example.com",
		PasswordHash: hash,
		IsActive:     true,
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("error = %v, want ErrEmailExists", err)
	}
}

func TestUserRepository_Authenticate(t *testing.T) {
	repo := openTestUserRepo(t)
	ctx := context.Background()

	createTestUser(t, repo, "alice@example.com", "correct-password", true)

	u, err := repo.Authenticate(ctx, "alice@example.com", "correct-password")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q", u.Email)
	}

	if _, err := repo.Authenticate(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}

	if _, err := repo.Authenticate(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestUserRepository_AuthenticateInactive(t *testing.T) {
	repo := openTestUserRepo(t)

	createTestUser(t, repo, "bob@example.com", "password123456", false)

	_, err := repo.Authenticate(context.Background(), "bob@example.com", "password123456")
	if !errors.Is(err, ErrUserInactive) {
		t.Errorf("error = %v, want ErrUserInactive", err)
	}
}
