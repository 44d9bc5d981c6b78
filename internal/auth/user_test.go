package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

func newTestUsers(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(ctx)
	require.NoError(t, err)

	s := NewStore(db)
	s.Cost = bcrypt.MinCost
	s.Now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return s
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Jane@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got)

	for _, bad := range []string{"", "jane", "jane@", "@example.com", "Jane <jane@example.com>", "jane@localhost"} {
		_, err := NormalizeEmail(bad)
		assert.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestStore_RegisterAndAuthenticate(t *testing.T) {
	s := newTestUsers(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "Jane@example.com", "correct horse")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "jane@example.com", u.Email)
	assert.False(t, u.IsVerified)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	got, err := s.Authenticate(ctx, "JANE@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = s.Authenticate(ctx, "jane@example.com", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Register(ctx, "jane@example.com", "another pass")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = s.Register(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
