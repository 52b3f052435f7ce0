package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchly/internal/database"
	"watchly/models"
)

func newTestStore(t *testing.T, salt string, ttl time.Duration) *Store {
	t.Helper()
	db, err := database.NewDB(database.Config{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.Connection(), salt, ttl)
}

func testPayload() models.CredentialPayload {
	return models.CredentialPayload{
		Username:       "user@example.com",
		Password:       "hunter2",
		IncludeWatched: true,
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	ctx := context.Background()

	token, err := store.Save(ctx, testPayload())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testPayload(), got)
}

func TestSaveIsDeterministic(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	ctx := context.Background()

	first, err := store.Save(ctx, testPayload())
	require.NoError(t, err)

	// Whitespace around the username does not change the token.
	payload := testPayload()
	payload.Username = "  user@example.com "
	second, err := store.Save(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDifferentPayloadsDifferentTokens(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	ctx := context.Background()

	first, err := store.Save(ctx, testPayload())
	require.NoError(t, err)

	payload := testPayload()
	payload.IncludeWatched = false
	second, err := store.Save(ctx, payload)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestInsecureSaltRefused(t *testing.T) {
	for _, salt := range []string{"", "change-me"} {
		store := newTestStore(t, salt, 0)
		_, err := store.Save(context.Background(), testPayload())
		assert.ErrorIs(t, err, ErrInsecureSalt)
		_, err = store.Get(context.Background(), "deadbeef")
		assert.ErrorIs(t, err, ErrInsecureSalt)
	}
}

func TestGetUnknownToken(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	_, err := store.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredTokenBehavesAsAbsent(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", time.Second)
	ctx := context.Background()

	token, err := store.Save(ctx, testPayload())
	require.NoError(t, err)

	// Force the record into the past instead of sleeping.
	_, err = store.db.ExecContext(ctx,
		`UPDATE tokens SET expires_at = ?`, time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	ctx := context.Background()

	token, err := store.Save(ctx, testPayload())
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, token))
}

func TestForEachVisitsLivePayloads(t *testing.T) {
	store := newTestStore(t, "a-proper-salt", 0)
	ctx := context.Background()

	_, err := store.Save(ctx, testPayload())
	require.NoError(t, err)

	other := testPayload()
	other.Username = "second@example.com"
	_, err = store.Save(ctx, other)
	require.NoError(t, err)

	var seen []string
	err = store.ForEach(ctx, func(payload models.CredentialPayload) error {
		seen = append(seen, payload.Username)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user@example.com", "second@example.com"}, seen)
}

func TestWrongSaltCannotReadPayloads(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(database.Config{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	writer := NewStore(db.Connection(), "salt-one", 0)
	_, err = writer.Save(ctx, testPayload())
	require.NoError(t, err)

	reader := NewStore(db.Connection(), "salt-two", 0)
	var count int
	err = reader.ForEach(ctx, func(models.CredentialPayload) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count)
}
