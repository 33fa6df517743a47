package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Rutvik2302/secure-auth/cmd/identity/ids"
	"github.com/Rutvik2302/secure-auth/cmd/security/password"
)

// Requires a migrated database (see cmd/internal/app/migrations).
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SECUREAUTH_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SECUREAUTH_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	return pool
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	pool := openTestPool(t)
	st, err := NewPostgresStore(pool)
	require.NoError(t, err)

	pw := password.DefaultConfig()
	pw.BcryptCost = bcrypt.MinCost
	svc, err := NewService(st, pw)
	require.NoError(t, err)

	ctx := context.Background()
	suffix := strings.ToLower(ids.New(time.Now()))[20:]
	a, err := svc.CreateAccount(ctx, NewAccount{
		Username: "it_" + suffix,
		Email:    "it_" + suffix + "@example.com",
		FullName: "Integration",
		Password: "long enough pw",
	})
	require.NoError(t, err)

	got, err := svc.FindAccountByEmailOrUsername(ctx, a.Email)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	ok, err := svc.VerifyPassword(ctx, got, "long enough pw")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.CreateAccount(ctx, NewAccount{
		Username: a.Username,
		Email:    "other_" + suffix + "@example.com",
		FullName: "Integration",
		Password: "long enough pw",
	})
	assert.True(t, IsConflict(err))

	require.NoError(t, svc.UpdateLastOrigin(ctx, a.ID, Origin{IP: "8.8.8.8", Country: "United States"}, time.Now().UTC()))
	got, err = svc.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "United States", got.LastLogin.Country)
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	_, err := NewPostgresStore(nil, WithSchema("bad-schema;"))
	require.Error(t, err)
}
