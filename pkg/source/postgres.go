// Package source implements the batch extract port against PostgreSQL.
package source

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/syncerrors"
)

// Extract queries. Dimensions filter on both change columns; the append-only
// fact tables only ever gain rows, so created_at alone suffices.
const (
	advertisersSinceQuery = `
		SELECT id, name, updated_at, created_at
		FROM advertiser
		WHERE updated_at > $1 OR created_at > $1`

	campaignsSinceQuery = `
		SELECT id, name, bid, budget, start_date, end_date, advertiser_id, updated_at, created_at
		FROM campaign
		WHERE updated_at > $1 OR created_at > $1`

	impressionsSinceQuery = `
		SELECT id, campaign_id, created_at
		FROM impressions
		WHERE created_at > $1`

	clicksSinceQuery = `
		SELECT id, campaign_id, created_at
		FROM clicks
		WHERE created_at > $1`
)

// Postgres wraps a pgx connection pool and implements pipeline.Source.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "pinging postgres")
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
	p.logger.Info("closed PostgreSQL connection pool")
}

// Exec runs a statement, for the seeder and other maintenance tooling.
func (p *Postgres) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	return err
}

// QueryRowScan runs a single-row query and scans the result.
func (p *Postgres) QueryRowScan(ctx context.Context, sql string, args []interface{}, dest ...interface{}) error {
	return p.pool.QueryRow(ctx, sql, args...).Scan(dest...)
}

// AdvertisersSince returns advertisers changed after the watermark.
func (p *Postgres) AdvertisersSince(ctx context.Context, since time.Time) ([]models.RawAdvertiser, error) {
	rows, err := p.pool.Query(ctx, advertisersSinceQuery, since)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "querying advertisers")
	}
	defer rows.Close()

	var out []models.RawAdvertiser
	for rows.Next() {
		var r models.RawAdvertiser
		if err := rows.Scan(&r.ID, &r.Name, &r.UpdatedAt, &r.CreatedAt); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeData, "scanning advertiser row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CampaignsSince returns campaigns changed after the watermark.
func (p *Postgres) CampaignsSince(ctx context.Context, since time.Time) ([]models.RawCampaign, error) {
	rows, err := p.pool.Query(ctx, campaignsSinceQuery, since)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "querying campaigns")
	}
	defer rows.Close()

	var out []models.RawCampaign
	for rows.Next() {
		var r models.RawCampaign
		if err := rows.Scan(&r.ID, &r.Name, &r.Bid, &r.Budget, &r.StartDate, &r.EndDate,
			&r.AdvertiserID, &r.UpdatedAt, &r.CreatedAt); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeData, "scanning campaign row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImpressionsSince returns impressions created after the watermark.
func (p *Postgres) ImpressionsSince(ctx context.Context, since time.Time) ([]models.RawImpression, error) {
	rows, err := p.pool.Query(ctx, impressionsSinceQuery, since)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "querying impressions")
	}
	defer rows.Close()

	var out []models.RawImpression
	for rows.Next() {
		var r models.RawImpression
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.CreatedAt); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeData, "scanning impression row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClicksSince returns clicks created after the watermark.
func (p *Postgres) ClicksSince(ctx context.Context, since time.Time) ([]models.RawClick, error) {
	rows, err := p.pool.Query(ctx, clicksSinceQuery, since)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "querying clicks")
	}
	defer rows.Close()

	var out []models.RawClick
	for rows.Next() {
		var r models.RawClick
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.CreatedAt); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeData, "scanning click row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
