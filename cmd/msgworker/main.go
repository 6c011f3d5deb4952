package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CProject/global/config"
	"CProject/logger"
	"CProject/module/chat/conversation"
	"CProject/module/chat/message"
	"CProject/module/notify"
	"CProject/service/dispatcher/kafka"
	"CProject/service/mgo"
	"CProject/service/natsx"
	"CProject/service/offline"
	"CProject/service/presence"
	"CProject/service/queue"
	rds "CProject/service/storage/redis"
	"CProject/tools/ids"
	"CProject/tools/safe"
)

// noLocal is the worker's LocalSender: the worker process holds no websocket
// connections, so every online recipient goes out over the Kafka leg.
type noLocal struct{}

func (noLocal) SendToUser(string, []byte) error {
	return errors.New("no local connections in worker process")
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("[msgworker] load config: %v", err)
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
		logger.Errorf("[msgworker] redis init: %v", err)
		os.Exit(1)
	}
	if err := mgo.Init(ctx, cfg.Mongo); err != nil {
		logger.Errorf("[msgworker] mongo init: %v", err)
		os.Exit(1)
	}
	if err := natsx.Init(cfg.Nats.URL); err != nil {
		logger.Errorf("[msgworker] nats init: %v", err)
		os.Exit(1)
	}
	if err := kafka.Init(cfg.Kafka); err != nil {
		logger.Errorf("[msgworker] kafka init: %v", err)
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
	deliverer := message.NewDeliverer(
		cfg.Node.GatewayID, tracker, offRouter, dispatcher, noLocal{}, kafka.NewForwarder(),
	)
	handlers := message.NewHandlers(svc, deliverer)

	sender := notify.NewSender(
		notify.NewMongoTokenStore(),
		notify.NewMongoLogStore(),
		notify.NewFCMProvider(cfg.Notify.FCM),
		notify.NewAPNSProvider(cfg.Notify.APNS),
	)

	wconf := queue.WorkerConf{
		BatchSize:   cfg.Queue.BatchSize,
		RetryDelay:  cfg.Queue.RetryDelay,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
	sup := queue.NewSupervisor("fanout", queue.QueueMessage, q, handlers.HandleNewMessage, queue.SupervisorConf{
		BatchSize:    cfg.Queue.BatchSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		InitialDelay: cfg.Queue.RetryDelay,
		DLQInterval:  cfg.Queue.DLQInterval,
	})
	deliveryW := queue.NewWorker("delivery", queue.QueueDelivery, q, handlers.HandleDelivery, wconf)
	readW := queue.NewWorker("read", queue.QueueRead, q, handlers.HandleRead, wconf)
	notifyW := queue.NewWorker("notify", queue.QueueNotify, q, sender.HandleNotificationJob, wconf)

	safe.Go("supervisor.fanout", func() { sup.Run(ctx) })
	safe.Go("supervisor.dlq", func() { sup.RunDLQRecovery(ctx) })
	safe.Go("worker.delivery", func() { deliveryW.Run(ctx) })
	safe.Go("worker.read", func() { readW.Run(ctx) })
	safe.Go("worker.notify", func() { notifyW.Run(ctx) })

	logger.Infof("[msgworker] %s draining queues", cfg.Node.GatewayID)
	<-ctx.Done()
	logger.Infof("[msgworker] shutting down")

	sup.Stop()
	deliveryW.Stop()
	readW.Stop()
	notifyW.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	kafka.Close()
	natsx.Close()
	_ = mgo.Close(shutCtx)
	_ = rds.Close()
}
