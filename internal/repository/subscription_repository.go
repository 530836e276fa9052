package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/btcpush/relay/internal/models"
)

// subscriptionTables maps each relation to its value column. All three
// relations share the same shape, only the watched identifier differs.
var subscriptionTables = map[string]string{
	"token_to_address": "address",
	"token_to_hash":    "hash",
	"token_to_txid":    "txid",
}

type SubscriptionRepository interface {
	SubscribeAddresses(ctx context.Context, token, os string, addresses []string) error
	SubscribeHashes(ctx context.Context, token, os string, hashes []string) error
	SubscribeTxids(ctx context.Context, token, os string, txids []string) error

	UnsubscribeAddresses(ctx context.Context, token string, addresses []string) error
	UnsubscribeHashes(ctx context.Context, token string, hashes []string) error
	UnsubscribeTxids(ctx context.Context, token string, txids []string) error

	// TokensForHash resolves a settled payment hash to every device watching
	// it. Used by the invoice-settled producer endpoint.
	TokensForHash(ctx context.Context, hash string) ([]models.Subscription, error)

	// KillDeadToken removes every subscription of a token the push gateway
	// reported as permanently invalid. Idempotent.
	KillDeadToken(ctx context.Context, token string) error

	// PurgeTxidsOlderThan drops stale txid subscriptions; confirmations for
	// months-old transactions are no longer interesting to anyone.
	PurgeTxidsOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type subscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) subscribe(ctx context.Context, table, token, os string, values []string) error {
	column := subscriptionTables[table]
	query := `
		INSERT INTO ` + table + ` (token, os, ` + column + `)
		VALUES ($1, $2, $3)
		ON CONFLICT (token, ` + column + `) DO NOTHING
	`
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, query, token, os, value); err != nil {
			return errors.Wrapf(err, "failed to subscribe %s", column)
		}
	}
	return nil
}

func (r *subscriptionRepository) unsubscribe(ctx context.Context, table, token string, values []string) error {
	column := subscriptionTables[table]
	query := `DELETE FROM ` + table + ` WHERE token = $1 AND ` + column + ` = $2`
	for _, value := range values {
		if _, err := r.db.ExecContext(ctx, query, token, value); err != nil {
			return errors.Wrapf(err, "failed to unsubscribe %s", column)
		}
	}
	return nil
}

func (r *subscriptionRepository) SubscribeAddresses(ctx context.Context, token, os string, addresses []string) error {
	return r.subscribe(ctx, "token_to_address", token, os, addresses)
}

func (r *subscriptionRepository) SubscribeHashes(ctx context.Context, token, os string, hashes []string) error {
	return r.subscribe(ctx, "token_to_hash", token, os, hashes)
}

func (r *subscriptionRepository) SubscribeTxids(ctx context.Context, token, os string, txids []string) error {
	return r.subscribe(ctx, "token_to_txid", token, os, txids)
}

func (r *subscriptionRepository) UnsubscribeAddresses(ctx context.Context, token string, addresses []string) error {
	return r.unsubscribe(ctx, "token_to_address", token, addresses)
}

func (r *subscriptionRepository) UnsubscribeHashes(ctx context.Context, token string, hashes []string) error {
	return r.unsubscribe(ctx, "token_to_hash", token, hashes)
}

func (r *subscriptionRepository) UnsubscribeTxids(ctx context.Context, token string, txids []string) error {
	return r.unsubscribe(ctx, "token_to_txid", token, txids)
}

func (r *subscriptionRepository) TokensForHash(ctx context.Context, hash string) ([]models.Subscription, error) {
	const query = `
		SELECT token, os, hash, created
		FROM token_to_hash
		WHERE hash = $1
	`
	rows, err := r.db.QueryContext(ctx, query, hash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up hash subscribers")
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.Token, &s.OS, &s.Value, &s.Created); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *subscriptionRepository) KillDeadToken(ctx context.Context, token string) error {
	for table := range subscriptionTables {
		query := `DELETE FROM ` + table + ` WHERE token = $1`
		if _, err := r.db.ExecContext(ctx, query, token); err != nil {
			return errors.Wrapf(err, "failed to prune %s for dead token", table)
		}
	}
	return nil
}

func (r *subscriptionRepository) PurgeTxidsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const query = `DELETE FROM token_to_txid WHERE created <= now() - ($1 * interval '1 second')`
	res, err := r.db.ExecContext(ctx, query, int64(age.Seconds()))
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge stale txid subscriptions")
	}
	return res.RowsAffected()
}
