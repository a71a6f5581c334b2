// Package seed generates sample advertising data in the source PostgreSQL
// database for local end-to-end runs.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/source"
)

// Options controls the volume of generated data.
type Options struct {
	Advertisers            int
	CampaignsPerAdvertiser int
	ImpressionsPerCampaign int
	ClickRatio             float64
}

// DefaultOptions mirrors the canonical local topology: a handful of
// dimensions with a week of event history.
func DefaultOptions() Options {
	return Options{
		Advertisers:            2,
		CampaignsPerAdvertiser: 3,
		ImpressionsPerCampaign: 100,
		ClickRatio:             0.1,
	}
}

// Seeder writes generated rows through the Postgres source connection.
type Seeder struct {
	db     *source.Postgres
	logger *zap.Logger
	rng    *rand.Rand
}

// New creates a seeder.
func New(db *source.Postgres, logger *zap.Logger) *Seeder {
	return &Seeder{
		db:     db,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run populates advertisers, campaigns, impressions and clicks.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	advertiserIDs, err := s.createAdvertisers(ctx, opts.Advertisers)
	if err != nil {
		return err
	}
	campaignIDs, err := s.createCampaigns(ctx, advertiserIDs, opts.CampaignsPerAdvertiser)
	if err != nil {
		return err
	}
	if err := s.createEvents(ctx, campaignIDs, opts.ImpressionsPerCampaign, opts.ClickRatio); err != nil {
		return err
	}

	s.logger.Info("seeded source database",
		zap.Int("advertisers", len(advertiserIDs)),
		zap.Int("campaigns", len(campaignIDs)))
	return nil
}

func (s *Seeder) createAdvertisers(ctx context.Context, n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("Advertiser %c", 'A'+(i-1)%26)
		var id int64
		err := s.db.QueryRowScan(ctx,
			`INSERT INTO advertiser (name, updated_at) VALUES ($1, NOW()) RETURNING id`,
			[]interface{}{name}, &id)
		if err != nil {
			return nil, fmt.Errorf("inserting advertiser: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Seeder) createCampaigns(ctx context.Context, advertiserIDs []int64, perAdvertiser int) ([]int64, error) {
	var ids []int64
	startDate := time.Now().Truncate(24 * time.Hour)

	for _, advID := range advertiserIDs {
		for i := 1; i <= perAdvertiser; i++ {
			name := fmt.Sprintf("Campaign_%d_%d", advID, i)
			bid := 0.5 + s.rng.Float64()*4.5
			budget := 50 + s.rng.Float64()*450
			endDate := startDate.AddDate(0, 0, 7+s.rng.Intn(24))

			var id int64
			err := s.db.QueryRowScan(ctx,
				`INSERT INTO campaign (name, bid, budget, start_date, end_date, advertiser_id, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id`,
				[]interface{}{name, bid, budget, startDate, endDate, advID}, &id)
			if err != nil {
				return nil, fmt.Errorf("inserting campaign: %w", err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// createEvents writes impressions spread over the past week, with a click
// shortly after a sampled fraction of them.
func (s *Seeder) createEvents(ctx context.Context, campaignIDs []int64, perCampaign int, clickRatio float64) error {
	for _, campaignID := range campaignIDs {
		for i := 0; i < perCampaign; i++ {
			impressionTime := time.Now().
				Add(-time.Duration(s.rng.Intn(7*24)) * time.Hour).
				Add(-time.Duration(s.rng.Intn(60)) * time.Minute)

			err := s.db.Exec(ctx,
				`INSERT INTO impressions (campaign_id, created_at) VALUES ($1, $2)`,
				campaignID, impressionTime)
			if err != nil {
				return fmt.Errorf("inserting impression: %w", err)
			}

			if s.rng.Float64() < clickRatio {
				clickTime := impressionTime.Add(time.Duration(1+s.rng.Intn(120)) * time.Second)
				err := s.db.Exec(ctx,
					`INSERT INTO clicks (campaign_id, created_at) VALUES ($1, $2)`,
					campaignID, clickTime)
				if err != nil {
					return fmt.Errorf("inserting click: %w", err)
				}
			}
		}
	}
	return nil
}
