// Package schema provisions the ClickHouse schema from static DDL files at
// startup. The sync pipelines require every table and view to exist before
// their first write; a provisioning failure is fatal.
package schema

import (
	"context"

	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/syncerrors"
)

// Execer runs a SQL script file against the sink.
type Execer interface {
	ExecFile(ctx context.Context, path string) error
}

// Provisioner applies the static schema and view definitions.
type Provisioner struct {
	db     Execer
	cfg    config.SyncConfig
	logger *zap.Logger
}

// NewProvisioner creates a provisioner for the configured script paths.
func NewProvisioner(db Execer, cfg config.SyncConfig, logger *zap.Logger) *Provisioner {
	return &Provisioner{db: db, cfg: cfg, logger: logger}
}

// Setup creates tables and materialized views if they do not exist. The DDL
// is idempotent (CREATE ... IF NOT EXISTS), so repeated startups are safe.
func (p *Provisioner) Setup(ctx context.Context) error {
	if err := p.db.ExecFile(ctx, p.cfg.SchemaPath); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "initializing clickhouse schema")
	}
	p.logger.Info("ClickHouse schema initialized")

	if err := p.db.ExecFile(ctx, p.cfg.ViewsPath); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "creating KPI views")
	}
	p.logger.Info("ClickHouse KPI views created")
	return nil
}
