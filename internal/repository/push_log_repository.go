package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/btcpush/relay/internal/models"
)

type PushLogRepository interface {
	// Append records one delivery attempt. Fire-and-forget from the core's
	// point of view; nothing in the send path reads it back.
	Append(ctx context.Context, entry models.PushLog) error
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type pushLogRepository struct {
	db *sql.DB
}

func NewPushLogRepository(db *sql.DB) PushLogRepository {
	return &pushLogRepository{db: db}
}

func (r *pushLogRepository) Append(ctx context.Context, entry models.PushLog) error {
	const query = `
		INSERT INTO push_log (token, os, payload, response, success)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, entry.Token, entry.OS, entry.Payload, entry.Response, entry.Success)
	return errors.Wrap(err, "failed to append push log")
}

func (r *pushLogRepository) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const query = `DELETE FROM push_log WHERE created <= now() - ($1 * interval '1 second')`
	res, err := r.db.ExecContext(ctx, query, int64(age.Seconds()))
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge push log")
	}
	return res.RowsAffected()
}
