package mgo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"CProject/global/config"
	"CProject/logger"
)

type Manager struct {
	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
}

var globalMgr Manager

// Init connects with bounded retry and keeps the database handle for the
// model layer. Reconnects on transient drops are handled by the driver pool.
func Init(ctx context.Context, cfg config.MongoConfig) error {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)
	if cfg.Username != "" {
		opts = opts.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	var cli *mongo.Client
	var err error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cli, err = mongo.Connect(cctx, opts)
		if err == nil {
			err = cli.Ping(cctx, readpref.Primary())
		}
		cancel()
		if err == nil {
			break
		}
		logger.Warnf("[mgo] connect attempt %d failed: %v", attempt+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	if err != nil {
		return err
	}

	globalMgr.mu.Lock()
	globalMgr.client = cli
	globalMgr.db = cli.Database(cfg.Database)
	globalMgr.mu.Unlock()
	return nil
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not initialized, call Init first")
	}
	return globalMgr.db
}

func Client() *mongo.Client {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	return globalMgr.client
}

// Ping reports store reachability for the health endpoint.
func Ping(ctx context.Context) error {
	globalMgr.mu.RLock()
	cli := globalMgr.client
	globalMgr.mu.RUnlock()
	if cli == nil {
		return context.Canceled
	}
	return cli.Ping(ctx, readpref.Primary())
}

func Close(ctx context.Context) error {
	globalMgr.mu.Lock()
	defer globalMgr.mu.Unlock()
	if globalMgr.client == nil {
		return nil
	}
	err := globalMgr.client.Disconnect(ctx)
	globalMgr.client = nil
	globalMgr.db = nil
	return err
}
