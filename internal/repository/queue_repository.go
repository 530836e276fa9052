package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/btcpush/relay/internal/models"
)

// ErrJobLocked is returned by Claim when another sender instance already
// holds the advisory lock for the selected job.
var ErrJobLocked = errors.New("job is locked by another sender")

// ClaimedJob is a queue record together with the session lock that protects
// it. Release must be called exactly once after the job is handled.
type ClaimedJob struct {
	Job    models.Job
	once   sync.Once
	unlock func()
}

func NewClaimedJob(job models.Job, unlock func()) *ClaimedJob {
	return &ClaimedJob{Job: job, unlock: unlock}
}

func (c *ClaimedJob) Release() {
	c.once.Do(func() {
		if c.unlock != nil {
			c.unlock()
		}
	})
}

type QueueRepository interface {
	// Enqueue appends one opaque JSON job record. Called by HTTP handlers;
	// the blockchain watchers insert through the same table.
	Enqueue(ctx context.Context, data []byte) (int64, error)
	// Claim selects one pending job at random and takes the advisory lock
	// named after it. Returns (nil, nil) when the queue is empty and
	// ErrJobLocked when another instance owns the selected job.
	Claim(ctx context.Context) (*ClaimedJob, error)
	Delete(ctx context.Context, id int64) error
}

type queueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Enqueue(ctx context.Context, data []byte) (int64, error) {
	const query = `
		INSERT INTO send_queue (data)
		VALUES ($1)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, string(data)).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to enqueue job")
	}
	return id, nil
}

// Claim picks a random pending record rather than the head of the queue so
// that parallel sender instances do not all fight over the same row. The
// advisory lock is session-scoped, so it is taken and released on one
// dedicated connection that stays checked out for the lifetime of the claim.
func (r *queueRepository) Claim(ctx context.Context) (*ClaimedJob, error) {
	var job models.Job
	const selectQuery = `
		SELECT id, data, created
		FROM send_queue
		ORDER BY random()
		LIMIT 1
	`
	var data string
	err := r.db.QueryRowContext(ctx, selectQuery).Scan(&job.ID, &data, &job.Created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select pending job")
	}
	job.Data = []byte(data)

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check out lock connection")
	}

	lockName := fmt.Sprintf("send%d", job.ID)
	const lockQuery = `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	var locked bool
	if err := conn.QueryRowContext(ctx, lockQuery, lockName).Scan(&locked); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to acquire lock %s", lockName)
	}
	if !locked {
		conn.Close()
		return nil, ErrJobLocked
	}

	unlock := func() {
		// Unlock on the same session that took the lock. Closing the
		// connection would release it anyway, the explicit unlock keeps the
		// pooled connection clean.
		const unlockQuery = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`
		conn.ExecContext(context.Background(), unlockQuery, lockName)
		conn.Close()
	}
	return NewClaimedJob(job, unlock), nil
}

func (r *queueRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM send_queue WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return errors.Wrapf(err, "failed to delete job %d", id)
	}
	return nil
}
