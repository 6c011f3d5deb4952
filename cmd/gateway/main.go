package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"CProject/global/config"
	"CProject/logger"
	"CProject/module/chat/conversation"
	"CProject/module/chat/message"
	"CProject/module/chat/model"
	"CProject/module/notify"
	"CProject/service/chat"
	"CProject/service/dispatcher/kafka"
	"CProject/service/mgo"
	"CProject/service/natsx"
	"CProject/service/offline"
	"CProject/service/presence"
	"CProject/service/queue"
	rds "CProject/service/storage/redis"
	"CProject/tools/ids"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("[gateway] load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.Node.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rds.Init(rds.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("[gateway] redis init: %v", err)
		os.Exit(1)
	}
	if err := mgo.Init(ctx, cfg.Mongo); err != nil {
		logger.Errorf("[gateway] mongo init: %v", err)
		os.Exit(1)
	}
	if err := natsx.Init(cfg.Nats.URL); err != nil {
		logger.Errorf("[gateway] nats init: %v", err)
		os.Exit(1)
	}
	if err := kafka.Init(cfg.Kafka); err != nil {
		logger.Errorf("[gateway] kafka init: %v", err)
		os.Exit(1)
	}
	if err := ensureIndexes(ctx); err != nil {
		logger.Errorf("[gateway] ensure indexes: %v", err)
		os.Exit(1)
	}

	rdb := rds.Get()
	q := queue.New(queue.NewRedisStore(rdb))
	tracker := presence.NewTracker(
		presence.NewRedisStore(rdb),
		cfg.Node.GatewayID,
		cfg.Presence.TTL,
		presence.NewNatsBroadcaster(cfg.Nats.PresenceSubject, cfg.Node.GatewayID),
	)
	offRouter := offline.NewRouter(rdb, cfg.Offline.MaxQueueLen)
	svc := message.NewService(conversation.NewResolver(), q)

	dispatcher := notify.NewDispatcher(
		cfg.Notify.App,
		notify.NewDefaultRegistry(cfg.Notify.App),
		notify.NewRedisPrefStore(rdb),
		notify.NewMongoTokenStore(),
		notify.NewMongoLogStore(),
		q,
	)

	mgr := chat.NewConnManager(cfg.Node.GatewayID, chat.ManagerConf{})
	deliverer := message.NewDeliverer(
		cfg.Node.GatewayID, tracker, offRouter, dispatcher, mgr, kafka.NewForwarder(),
	)
	server := chat.NewServer(cfg, mgr, tracker, offRouter, svc, deliverer)

	if err := server.StartPresenceFeed(); err != nil {
		logger.Errorf("[gateway] presence feed: %v", err)
		os.Exit(1)
	}
	if err := kafka.StartConsumerGroup(ctx, cfg.Kafka, func(user string, payload []byte) {
		if mgr.HasUser(user) {
			_ = mgr.SendToUser(user, payload)
		}
	}); err != nil {
		logger.Errorf("[gateway] fan-out consumer: %v", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	server.Routes(r, dispatcher)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[gateway] %s listening on %s", cfg.Node.GatewayID, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[gateway] http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("[gateway] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	mgr.Close()
	kafka.Close()
	natsx.Close()
	_ = mgo.Close(shutCtx)
	_ = rds.Close()
}

func ensureIndexes(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, ensure := range []func(context.Context) error{
		(&model.Conversation{}).EnsureIndexes,
		(&model.Participant{}).EnsureIndexes,
		(&model.Message{}).EnsureIndexes,
		(&model.DeviceToken{}).EnsureIndexes,
	} {
		if err := ensure(ictx); err != nil {
			return err
		}
	}
	return nil
}
