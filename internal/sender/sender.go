package sender

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/btcpush/relay/internal/models"
	"github.com/btcpush/relay/internal/push"
	"github.com/btcpush/relay/internal/repository"
)

// Queue is the slice of the job store the sender needs.
type Queue interface {
	Claim(ctx context.Context) (*repository.ClaimedJob, error)
	Delete(ctx context.Context, id int64) error
}

// TokenConfigurations resolves the per-device opt-in flags.
type TokenConfigurations interface {
	GetOrCreate(ctx context.Context, token, os string) (models.TokenConfiguration, error)
}

// Dispatcher delivers one decoded notification and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification) (push.Outcome, error)
}

// Config tunes one sender instance. Zero values get sane defaults from New.
type Config struct {
	// BackoffMin/BackoffMax bound the randomized sleep when the queue is
	// empty.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// DispatchTimeout arms the watchdog around each gateway call.
	DispatchTimeout time.Duration
	// LockBackoff bounds the pause after losing an advisory-lock race to
	// another instance.
	LockBackoff time.Duration
	// RatePerSecond throttles dispatches across the instance; zero disables
	// the limiter.
	RatePerSecond float64
	RateBurst     int
	// OnStall runs when a dispatch outlives DispatchTimeout. The default
	// policy terminates the process: a hung gateway connection must not be
	// allowed to stall the shared queue, and the process supervisor restarts
	// cheaper than call-level cancellation plumbing.
	OnStall func()
}

// Sender is the queue drainer. One instance handles one job at a time;
// parallelism comes from running more instances, coordinated only through
// the per-job advisory lock.
type Sender struct {
	id         string
	queue      Queue
	configs    TokenConfigurations
	dispatcher Dispatcher
	limiter    *rate.Limiter
	cfg        Config
	logger     zerolog.Logger
}

func New(queue Queue, configs TokenConfigurations, dispatcher Dispatcher, cfg Config, logger zerolog.Logger) *Sender {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin + 59*time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 21 * time.Second
	}
	if cfg.LockBackoff <= 0 {
		cfg.LockBackoff = 100 * time.Millisecond
	}

	id := uuid.NewString()
	instanceLogger := logger.With().Str("component", "sender").Str("instance", id).Logger()

	if cfg.OnStall == nil {
		stallLogger := instanceLogger
		cfg.OnStall = func() {
			stallLogger.Error().Msg("timeout pushing to token, terminating")
			os.Exit(2)
		}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Sender{
		id:         id,
		queue:      queue,
		configs:    configs,
		dispatcher: dispatcher,
		limiter:    limiter,
		cfg:        cfg,
		logger:     instanceLogger,
	}
}

// Run drains the queue until the context is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info().Msg("sender started, draining queue")
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info().Msg("sender stopped")
			return err
		}

		claimed, err := s.queue.Claim(ctx)
		if errors.Is(err, repository.ErrJobLocked) {
			// Another instance owns the selected job, likely mid-dispatch.
			// Back off briefly before picking again so contention does not
			// turn into a claim storm against the database.
			s.pause(ctx, s.cfg.LockBackoff/2, s.cfg.LockBackoff)
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to claim job")
			s.sleep(ctx)
			continue
		}
		if claimed == nil {
			s.sleep(ctx)
			continue
		}

		s.process(ctx, claimed)
	}
}

// process handles one claimed job. The job is deleted on every path except
// lock contention: poison payloads and filtered or failed deliveries cannot
// become deliverable by retrying.
func (s *Sender) process(ctx context.Context, claimed *repository.ClaimedJob) {
	defer claimed.Release()
	job := claimed.Job

	n, err := models.DecodeNotification(job.Data)
	if err != nil {
		s.logger.Warn().Err(err).Int64("job", job.ID).Msg("bad json in job data, dropping")
		s.deleteJob(ctx, job.ID)
		return
	}

	meta := n.Meta()
	if meta.Token == "" || meta.OS == "" {
		s.logger.Warn().Int64("job", job.ID).Msg("no token or os in payload, dropping")
		s.deleteJob(ctx, job.ID)
		return
	}

	cfg, err := s.configs.GetOrCreate(ctx, meta.Token, meta.OS)
	if err != nil {
		s.logger.Error().Err(err).Int64("job", job.ID).Msg("failed to resolve token configuration, dropping")
		s.deleteJob(ctx, job.ID)
		return
	}

	if !cfg.Allows(meta.Level) {
		s.deleteJob(ctx, job.ID)
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.deleteJob(ctx, job.ID)
			return
		}
	}

	s.logger.Debug().Int64("job", job.ID).Str("token", meta.Token).Str("os", meta.OS).Msg("pushing to token")

	watchdog := time.AfterFunc(s.cfg.DispatchTimeout, s.cfg.OnStall)
	outcome, err := s.dispatcher.Dispatch(ctx, n)
	watchdog.Stop()

	if err != nil {
		s.logger.Warn().Err(err).Int64("job", job.ID).Str("outcome", outcome.String()).Msg("dispatch failed")
	}

	// Handled either way; soft failures are not re-enqueued.
	s.deleteJob(ctx, job.ID)
}

func (s *Sender) deleteJob(ctx context.Context, id int64) {
	if err := s.queue.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).Int64("job", id).Msg("failed to delete job")
	}
}

// sleep waits a randomized interval within the configured backoff bounds so
// idle instances do not poll in lockstep.
func (s *Sender) sleep(ctx context.Context) {
	s.pause(ctx, s.cfg.BackoffMin, s.cfg.BackoffMax)
}

func (s *Sender) pause(ctx context.Context, min, max time.Duration) {
	delay := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
