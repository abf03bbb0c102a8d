package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Client represents a MongoDB client bound to one database
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewClient connects to MongoDB and verifies the connection with a ping
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Connecting to MongoDB",
		slog.String("database", config.Database),
	)

	clientOpts := options.Client().ApplyURI(config.URI)
	mc, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := mc.Ping(ctx, nil); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("Successfully connected to MongoDB")

	return &Client{
		client: mc,
		db:     mc.Database(config.Database),
		logger: logger,
	}, nil
}

// Collection returns a handle to the named collection
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// HealthCheck pings the primary
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (c *Client) Close() error {
	c.logger.Info("Closing MongoDB connection")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect MongoDB",
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
