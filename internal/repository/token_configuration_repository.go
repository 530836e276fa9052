package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/btcpush/relay/internal/models"
)

type TokenConfigurationRepository interface {
	// GetOrCreate fetches the configuration row for (token, os), creating it
	// with every opt-in flag defaulting to true when no row exists yet.
	GetOrCreate(ctx context.Context, token, os string) (models.TokenConfiguration, error)
	Update(ctx context.Context, cfg models.TokenConfiguration) error
	TouchLastOnline(ctx context.Context, token, os string) error
}

type tokenConfigurationRepository struct {
	db *sql.DB
}

func NewTokenConfigurationRepository(db *sql.DB) TokenConfigurationRepository {
	return &tokenConfigurationRepository{db: db}
}

func (r *tokenConfigurationRepository) GetOrCreate(ctx context.Context, token, os string) (models.TokenConfiguration, error) {
	var cfg models.TokenConfiguration

	// Concurrent create-if-absent races are resolved by the (token, os)
	// uniqueness constraint; the loser's insert is a no-op.
	const insertQuery = `
		INSERT INTO token_configuration (token, os)
		VALUES ($1, $2)
		ON CONFLICT (token, os) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insertQuery, token, os); err != nil {
		return cfg, errors.Wrap(err, "failed to create token configuration")
	}

	const selectQuery = `
		SELECT id, token, os, level_all, level_transactions, level_news, level_price, level_tips,
		       lang, app_version, created, last_online
		FROM token_configuration
		WHERE token = $1 AND os = $2
	`
	err := r.db.QueryRowContext(ctx, selectQuery, token, os).Scan(
		&cfg.ID,
		&cfg.Token,
		&cfg.OS,
		&cfg.LevelAll,
		&cfg.LevelTransactions,
		&cfg.LevelNews,
		&cfg.LevelPrice,
		&cfg.LevelTips,
		&cfg.Lang,
		&cfg.AppVersion,
		&cfg.Created,
		&cfg.LastOnline,
	)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to fetch token configuration")
	}
	return cfg, nil
}

func (r *tokenConfigurationRepository) Update(ctx context.Context, cfg models.TokenConfiguration) error {
	const query = `
		UPDATE token_configuration
		SET level_all = $1,
		    level_transactions = $2,
		    level_news = $3,
		    level_price = $4,
		    level_tips = $5,
		    lang = $6,
		    app_version = $7,
		    last_online = now()
		WHERE token = $8 AND os = $9
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.LevelAll,
		cfg.LevelTransactions,
		cfg.LevelNews,
		cfg.LevelPrice,
		cfg.LevelTips,
		cfg.Lang,
		cfg.AppVersion,
		cfg.Token,
		cfg.OS,
	)
	return errors.Wrap(err, "failed to update token configuration")
}

func (r *tokenConfigurationRepository) TouchLastOnline(ctx context.Context, token, os string) error {
	const query = `
		UPDATE token_configuration
		SET last_online = now()
		WHERE token = $1 AND os = $2
	`
	_, err := r.db.ExecContext(ctx, query, token, os)
	return errors.Wrap(err, "failed to refresh last_online")
}
