// Package bootstrap brings up the streaming pipeline's infrastructure
// dependencies: it waits for the Kafka brokers and the Kafka Connect REST
// API to become reachable, then registers the Debezium PostgreSQL connector
// if it does not already exist. Exhausting the retries is a fatal startup
// failure.
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/syncerrors"
)

const (
	connectorName = "postgres-connector"
	maxRetries    = 30
	retryDelay    = 10 * time.Second
)

// WaitForKafka blocks until the brokers answer a metadata request or the
// retries run out.
func WaitForKafka(ctx context.Context, brokers []string, logger *zap.Logger) error {
	cfg := sarama.NewConfig()
	cfg.ClientID = "adsync-bootstrap"

	for attempt := 1; attempt <= maxRetries; attempt++ {
		client, err := sarama.NewClient(brokers, cfg)
		if err == nil {
			_ = client.Close()
			logger.Info("Kafka is available")
			return nil
		}

		logger.Warn("waiting for Kafka to become available",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		if err := sleep(ctx, retryDelay); err != nil {
			return err
		}
	}
	return syncerrors.New(syncerrors.ErrorTypeConnection, "kafka not available after maximum retries")
}

// WaitForConnect blocks until the Kafka Connect REST API responds.
func WaitForConnect(ctx context.Context, connectorURL string, logger *zap.Logger) error {
	client := &http.Client{Timeout: 10 * time.Second}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectorURL, nil)
		if err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "building connect request")
		}

		resp, err := client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				logger.Info("Kafka Connect is available")
				return nil
			}
		}

		logger.Warn("waiting for Kafka Connect to become available",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries))
		if err := sleep(ctx, retryDelay); err != nil {
			return err
		}
	}
	return syncerrors.New(syncerrors.ErrorTypeConnection, "kafka connect not available after maximum retries")
}

// connectorRequest is the Kafka Connect connector creation payload.
type connectorRequest struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config"`
}

// EnsureConnector registers the Debezium PostgreSQL connector unless it is
// already present.
func EnsureConnector(ctx context.Context, cfg config.DebeziumConfig, logger *zap.Logger) error {
	client := &http.Client{Timeout: 30 * time.Second}

	exists, err := connectorExists(ctx, client, cfg.ConnectorURL)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("Debezium connector already exists", zap.String("connector", connectorName))
		return nil
	}

	payload := connectorRequest{
		Name: connectorName,
		Config: map[string]string{
			"connector.class":                        "io.debezium.connector.postgresql.PostgresConnector",
			"tasks.max":                              "1",
			"database.hostname":                      cfg.PgHost,
			"database.port":                          fmt.Sprintf("%d", cfg.PgPort),
			"database.user":                          cfg.PgUser,
			"database.password":                      cfg.PgPassword,
			"database.dbname":                        cfg.PgDatabase,
			"database.server.name":                   "postgres",
			"topic.prefix":                           "postgres",
			"table.include.list":                     "public.advertiser,public.campaign,public.impressions,public.clicks",
			"plugin.name":                            "pgoutput",
			"decimal.handling.mode":                  "string",
			"transforms":                             "unwrap",
			"transforms.unwrap.type":                 "io.debezium.transforms.ExtractNewRecordState",
			"transforms.unwrap.drop.tombstones":      "false",
			"transforms.unwrap.delete.handling.mode": "rewrite",
			"transforms.unwrap.add.fields":           "op,db,table",
			"key.converter":                          "org.apache.kafka.connect.json.JsonConverter",
			"value.converter":                        "org.apache.kafka.connect.json.JsonConverter",
			"value.converter.schemas.enable":         "false",
			"key.converter.schemas.enable":           "false",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeInternal, "encoding connector config")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ConnectorURL, bytes.NewReader(body))
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "building connector request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "creating debezium connector")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return syncerrors.New(syncerrors.ErrorTypeConnection,
			fmt.Sprintf("connector creation failed: %d - %s", resp.StatusCode, string(text)))
	}

	logger.Info("created Debezium connector", zap.String("connector", connectorName))
	return nil
}

// connectorExists checks the connector list endpoint for our connector.
func connectorExists(ctx context.Context, client *http.Client, connectorURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectorURL, nil)
	if err != nil {
		return false, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "building connector list request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "listing connectors")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var connectors []string
	if err := json.NewDecoder(resp.Body).Decode(&connectors); err != nil {
		return false, syncerrors.Wrap(err, syncerrors.ErrorTypeData, "decoding connector list")
	}
	for _, name := range connectors {
		if name == connectorName {
			return true, nil
		}
	}
	return false, nil
}

// sleep waits for the delay or context cancellation, whichever first.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
