package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat/global/config"
	"pulsechat/logger"
	chatservice "pulsechat/module/chat/service"
	chatstore "pulsechat/module/chat/store"
	"pulsechat/module/maintenance"
	roomservice "pulsechat/module/room/service"
	roomstore "pulsechat/module/room/store"
	"pulsechat/module/search"
	"pulsechat/service/api"
	"pulsechat/service/kafka"
	mgoSrv "pulsechat/service/mgo"
	"pulsechat/service/natsx"
	"pulsechat/service/storage"
	rds "pulsechat/service/storage/redis"
	"pulsechat/tools/ids"
)

const presenceTTL = 5 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.Load()
	ids.SetNodeID(config.Global.NodeID)

	// —— 存储层 —— //
	mgoSrv.StartAsync(ctx, &config.Global.Mongo)
	if err := mgoSrv.WaitReady(ctx, mgoSrv.Manager()); err != nil {
		logger.Error("mongo not ready", zap.Error(err))
		return
	}
	db := mgoSrv.GetDB()

	if err := rds.InitRedis(config.Global.Redis); err != nil {
		logger.Error("redis init failed", zap.Error(err))
		return
	}
	defer rds.CloseRedis()

	// —— 消息中间件（索引事件走 kafka，房间瞬态事件走 nats） —— //
	kafkaUp := true
	if err := kafka.InitKafkaClient(config.Global.KafkaBrokers); err != nil {
		logger.Warn("kafka unavailable, search indexing disabled", zap.Error(err))
		kafkaUp = false
	} else if err := kafka.InitSyncProducerFromClient(); err != nil {
		logger.Warn("kafka producer init failed, search indexing disabled", zap.Error(err))
		kafkaUp = false
	}

	if err := natsx.InitNatsx(natsx.NatsxConfig{
		Servers: config.Global.NatsServers,
		Name:    "pulsechat",
	}); err != nil {
		logger.Warn("nats unavailable, room events disabled", zap.Error(err))
	}
	defer natsx.Close()

	// —— 索引与集合准备 —— //
	msgRepo := chatstore.NewMessageRepo(db)
	roomRepo := roomstore.NewRoomRepo(db)
	idx := search.NewIndex(db)
	if err := msgRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("message indexes", zap.Error(err))
	}
	if err := roomRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("room indexes", zap.Error(err))
	}
	if err := idx.EnsureIndexes(ctx); err != nil {
		logger.Warn("search indexes", zap.Error(err))
	}

	// —— 服务装配 —— //
	var msgIdx chatservice.IndexPublisher
	var roomIdx roomservice.IndexPublisher
	if kafkaUp {
		msgIdx = chatservice.IndexPublisher{
			Upsert: search.PublishMessageUpsert,
			Delete: search.PublishMessageDelete,
		}
		roomIdx = search.PublishRoomUpsert

		search.NewIndexer(idx).Register()
		go func() {
			if err := kafka.StartConsumerGroup(ctx, config.Global.KafkaBrokers,
				config.Global.KafkaGroupID, []string{search.Topic}); err != nil {
				logger.Error("indexer consumer stopped", zap.Error(err))
			}
		}()
	}

	msgSvc := chatservice.NewMessageService(msgRepo, msgIdx)

	// 房间事件出口：NATS 广播之外顺带维护 redis 在线态
	roomEvents := func(ev natsx.RoomEvent) error {
		switch {
		case ev.Kind == "left" || ev.Status == "disconnected":
			if err := storage.PresenceLeave(ctx, ev.RoomID, ev.UserID); err != nil {
				logger.Warn("presence clear failed", zap.String("room_id", ev.RoomID), zap.Error(err))
			}
		case ev.Kind == "joined" || ev.Kind == "status":
			if err := storage.PresenceJoin(ctx, ev.RoomID, ev.UserID, "", presenceTTL); err != nil {
				logger.Warn("presence renew failed", zap.String("room_id", ev.RoomID), zap.Error(err))
			}
		}
		return natsx.PublishRoomEvent(ev)
	}
	roomSvc := roomservice.NewRoomService(roomRepo, roomEvents, roomIdx)

	// 媒体网关凭证：未对接上游签发方时本地发随机票据
	mediaCred := storage.NewCredentialCache("media", func(context.Context) (string, time.Duration, error) {
		return uuid.NewString(), 10 * time.Minute, nil
	})

	// —— 维护调度 —— //
	job := maintenance.NewJob(db, idx)
	cancelSched, err := maintenance.Start(ctx, job, config.Global.MaintenanceCron)
	if err != nil {
		logger.Error("maintenance scheduler", zap.Error(err))
		return
	}
	defer cancelSched()

	// —— 对外薄壳 —— //
	router := api.NewRouter(api.Deps{
		Messages:  msgSvc,
		Rooms:     roomSvc,
		Search:    idx,
		Job:       job,
		MediaCred: mediaCred,
	})

	addr := fmt.Sprintf(":%d", config.Global.HTTPPort)
	logger.Infof("listening on %s", addr)
	if err := router.Run(addr); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
}
