// Package sink implements the bulk-write and single-write ports against
// ClickHouse.
//
// The dimension tables use ReplacingMergeTree keyed by id and versioned by
// updated_at, so inserts double as upserts: duplicate versions of a row are
// collapsed at merge time keeping the greatest updated_at. Both pipelines
// write through the same insert methods; the batch engine passes full
// batches, the CDC applier single-row slices.
package sink

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/models"
	"github.com/adtechlabs/adsync/pkg/syncerrors"
)

const (
	insertAdvertisers = `INSERT INTO analytics.dim_advertiser (advertiser_id, name, updated_at, created_at)`
	insertCampaigns   = `INSERT INTO analytics.dim_campaign (campaign_id, name, bid, budget, start_date, end_date, advertiser_id, updated_at, created_at)`
	insertImpressions = `INSERT INTO analytics.fact_impressions (impression_id, campaign_id, event_date, event_time, created_at)`
	insertClicks      = `INSERT INTO analytics.fact_clicks (click_id, campaign_id, event_date, event_time, created_at)`
)

// Clickhouse wraps a native-protocol connection and implements the write
// ports of both pipelines.
type Clickhouse struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Connect opens a connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.ClickhouseConfig, logger *zap.Logger) (*Clickhouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "opening clickhouse connection")
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "pinging clickhouse")
	}

	logger.Info("connected to ClickHouse",
		zap.String("addr", cfg.Addr()),
		zap.String("database", cfg.Database))
	return &Clickhouse{conn: conn, logger: logger}, nil
}

// Close closes the connection.
func (c *Clickhouse) Close() error {
	return c.conn.Close()
}

// InsertAdvertisers bulk-inserts advertiser rows in one batch.
func (c *Clickhouse) InsertAdvertisers(ctx context.Context, rows []models.AdvertiserRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, insertAdvertisers)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "preparing advertiser batch")
	}
	for _, r := range rows {
		if err := batch.Append(uint64(r.ID), r.Name, r.UpdatedAt, r.CreatedAt); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeData, "appending advertiser row")
		}
	}
	return batch.Send()
}

// InsertCampaigns bulk-inserts campaign rows in one batch.
func (c *Clickhouse) InsertCampaigns(ctx context.Context, rows []models.CampaignRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, insertCampaigns)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "preparing campaign batch")
	}
	for _, r := range rows {
		if err := batch.Append(uint64(r.ID), r.Name, r.Bid, r.Budget, r.StartDate, r.EndDate,
			uint64(r.AdvertiserID), r.UpdatedAt, r.CreatedAt); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeData, "appending campaign row")
		}
	}
	return batch.Send()
}

// InsertImpressions bulk-inserts impression rows in one batch.
func (c *Clickhouse) InsertImpressions(ctx context.Context, rows []models.ImpressionRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, insertImpressions)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "preparing impression batch")
	}
	for _, r := range rows {
		if err := batch.Append(uint64(r.ID), uint64(r.CampaignID), r.EventDate, r.EventTime, r.CreatedAt); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeData, "appending impression row")
		}
	}
	return batch.Send()
}

// InsertClicks bulk-inserts click rows in one batch.
func (c *Clickhouse) InsertClicks(ctx context.Context, rows []models.ClickRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, insertClicks)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "preparing click batch")
	}
	for _, r := range rows {
		if err := batch.Append(uint64(r.ID), uint64(r.CampaignID), r.EventDate, r.EventTime, r.CreatedAt); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeData, "appending click row")
		}
	}
	return batch.Send()
}

// ExecScript executes a multi-statement SQL script, one statement at a time.
func (c *Clickhouse) ExecScript(ctx context.Context, script string) error {
	for _, statement := range strings.Split(script, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if err := c.conn.Exec(ctx, statement); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeQuery, "executing DDL statement")
		}
	}
	return nil
}

// ExecFile executes SQL from a file.
func (c *Clickhouse) ExecFile(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "reading SQL file "+path)
	}
	if err := c.ExecScript(ctx, string(script)); err != nil {
		return err
	}
	c.logger.Info("executed SQL script", zap.String("path", path))
	return nil
}
