package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/retry"
)

// MongoDB wraps a mongo client plus the database it serves.
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// MongoConfig holds document store connection configuration.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// NewMongoConnection creates a mongo client and verifies it with a ping.
// Dial and ping failures are retried with backoff.
func NewMongoConnection(ctx context.Context, cfg *MongoConfig, logger *zap.Logger) (*MongoDB, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*mongo.Client, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		if err := c.Ping(dialCtx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		logger.Error("mongo connection failed",
			zap.String("uri", logging.SanitizeConnectionString(cfg.URI)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	logger.Info("mongo connected",
		zap.String("uri", logging.SanitizeConnectionString(cfg.URI)),
		zap.String("database", cfg.Database))
	return &MongoDB{Client: client, Database: client.Database(cfg.Database)}, nil
}

// Close disconnects the client.
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
