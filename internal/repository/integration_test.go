package repository

// These tests need a real Postgres because advisory locks and the delete
// cascade cannot be faked meaningfully. Point TEST_DATABASE_URL at a
// disposable database to run them; they skip otherwise.

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcpush/relay/internal/migration"
)

func integrationDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	migration.RunMigrations(dsn, zerolog.Nop())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { db.Close() })
	return db
}

func truncateTables(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := db.Exec("TRUNCATE " + table)
		require.NoError(t, err)
	}
}

func countRows(t *testing.T, db *sql.DB, table, token string) int {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT count(*) FROM "+table+" WHERE token = $1", token).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestKillDeadTokenCascade(t *testing.T) {
	db := integrationDB(t)
	truncateTables(t, db, "token_to_address", "token_to_hash", "token_to_txid")

	ctx := context.Background()
	subs := NewSubscriptionRepository(db)

	require.NoError(t, subs.SubscribeAddresses(ctx, "dead-tok", "ios", []string{"addr-1"}))
	require.NoError(t, subs.SubscribeHashes(ctx, "dead-tok", "ios", []string{"hash-1"}))
	require.NoError(t, subs.SubscribeTxids(ctx, "dead-tok", "ios", []string{"txid-1"}))
	require.NoError(t, subs.SubscribeAddresses(ctx, "live-tok", "android", []string{"addr-1"}))
	require.NoError(t, subs.SubscribeHashes(ctx, "live-tok", "android", []string{"hash-1"}))
	require.NoError(t, subs.SubscribeTxids(ctx, "live-tok", "android", []string{"txid-1"}))

	require.NoError(t, subs.KillDeadToken(ctx, "dead-tok"))

	for _, table := range []string{"token_to_address", "token_to_hash", "token_to_txid"} {
		assert.Zero(t, countRows(t, db, table, "dead-tok"), "%s must be purged", table)
		assert.Equal(t, 1, countRows(t, db, table, "live-tok"), "%s must keep other tokens", table)
	}

	// Idempotent on an already-pruned token.
	require.NoError(t, subs.KillDeadToken(ctx, "dead-tok"))

	watchers, err := subs.TokensForHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Len(t, watchers, 1)
	assert.Equal(t, "live-tok", watchers[0].Token)
}

func TestClaimLockSessionPairing(t *testing.T) {
	db := integrationDB(t)
	truncateTables(t, db, "send_queue")

	ctx := context.Background()
	queue := NewQueueRepository(db)

	id, err := queue.Enqueue(ctx, []byte(`{"type":5,"token":"tok","os":"ios","text":"hi"}`))
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.Job.ID)

	// The only pending job is held, so a second claim loses the lock race.
	_, err = queue.Claim(ctx)
	assert.ErrorIs(t, err, ErrJobLocked)

	// Release returns the lock with its session; the job is claimable again.
	claimed.Release()
	reclaimed, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, id, reclaimed.Job.ID)
	reclaimed.Release()
	// Release is a no-op the second time.
	reclaimed.Release()

	require.NoError(t, queue.Delete(ctx, id))
	empty, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
