package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	c "github.com/life-stream-dev/bizfolio/internal/config"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"github.com/life-stream-dev/bizfolio/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is the MongoDB-backed Store. Live queries need change streams, so the
// server must run as a replica set.
type Mongo struct {
	client           *mongo.Client
	db               *mongo.Database
	operationTimeout time.Duration
}

func connectionURL(config c.DatabaseConfig) string {
	query := url.Values{}
	if config.Username != "" {
		query.Set("authSource", "admin")
	}
	if config.ReplicaSet != "" {
		query.Set("replicaSet", config.ReplicaSet)
	}

	u := url.URL{
		Scheme:   "mongodb",
		Host:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Path:     "/",
		RawQuery: query.Encode(),
	}
	if config.Username != "" {
		u.User = url.UserPassword(config.Username, config.Password)
	}
	return u.String()
}

func clientOptions(config c.Config) *options.ClientOptions {
	db := config.Database
	clientOptions := options.Client().ApplyURI(connectionURL(db)).SetAppName(config.AppName)
	// pool
	clientOptions.SetMinPoolSize(db.MinPoolSize)
	clientOptions.SetMaxPoolSize(db.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTimeOr(db.ConnectIdleTimeout, 5*time.Minute))
	// timeouts
	clientOptions.SetConnectTimeout(utils.ParseStringTimeOr(db.ConnectTimeout, 10*time.Second))
	clientOptions.SetSocketTimeout(utils.ParseStringTimeOr(db.SocketTimeout, 30*time.Second))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTimeOr(db.Heartbeat, 10*time.Second))
	if db.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: address=%s id=%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: address=%s id=%d reason=%s", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return clientOptions
}

// ConnectDatabase dials MongoDB, verifies the connection and ensures indexes.
func ConnectDatabase(ctx context.Context, config c.Config) (*Mongo, error) {
	logger.DebugF("Connecting to database %s:%d", config.Database.Host, config.Database.Port)

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions(config))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	m := &Mongo{
		client:           client,
		db:               client.Database(config.Database.Database),
		operationTimeout: utils.ParseStringTimeOr(config.Database.OperationTimeout, 10*time.Second),
	}

	if err := m.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}

	logger.InfoF("Database connected, collections: %v", collectionsList)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(NotificationCollectionName).Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("notifications_owner_created"),
		},
	)
	if err != nil {
		return fmt.Errorf("error occured while creating database indexes: %w", err)
	}
	return nil
}

// Close disconnects the client; it satisfies event.Callable through event.CallableFunc.
func (m *Mongo) Close(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	return m.client.Disconnect(ctx)
}

func (m *Mongo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.operationTimeout)
}
