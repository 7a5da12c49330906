package search

import (
	"context"
	"encoding/json"
	"time"

	"pulsechat/logger"
	"pulsechat/metrics"
	"pulsechat/service/kafka"
	"pulsechat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Indexer 把 kafka 上的索引事件落到派生检索集合。
// 索引维护对权威写路径是异步的：写后立刻查询可能还看不到（受消费滞后约束）。
type Indexer struct {
	idx *Index
}

func NewIndexer(idx *Index) *Indexer { return &Indexer{idx: idx} }

// Register 把本 Indexer 挂到消费路由上
func (ix *Indexer) Register() {
	kafka.RegisterHandler(Topic, ix.handle)
}

func (ix *Indexer) handle(ctx context.Context, key, value []byte) error {
	var ev IndexEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		metrics.Fail(metrics.IndexEventsConsumed, "decode")
		// 脏事件丢弃并继续消费，不能卡住分区
		logger.Warn("drop malformed index event", zap.ByteString("key", key))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch {
	case ev.Entity == EntityMessage && ev.Op == OpUpsert && ev.Msg != nil:
		err = ix.upsertMsg(ctx, ev.Msg)
	case ev.Entity == EntityMessage && ev.Op == OpDelete:
		err = ix.deleteMsg(ctx, ev.ID)
	case ev.Entity == EntityRoom && ev.Op == OpUpsert && ev.Room != nil:
		err = ix.upsertRoom(ctx, ev.Room)
	default:
		metrics.Fail(metrics.IndexEventsConsumed, "unknown")
		return nil
	}
	if err != nil {
		metrics.Fail(metrics.IndexEventsConsumed, "apply")
		return errs.WrapMsg(err, "apply index event", "entity", ev.Entity, "op", ev.Op)
	}
	metrics.Ok(metrics.IndexEventsConsumed, "apply")
	return nil
}

func (ix *Indexer) upsertMsg(ctx context.Context, doc *MsgDoc) error {
	_, err := ix.idx.msgColl().ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (ix *Indexer) deleteMsg(ctx context.Context, id string) error {
	_, err := ix.idx.msgColl().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (ix *Indexer) upsertRoom(ctx context.Context, doc *RoomDoc) error {
	_, err := ix.idx.roomColl().ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}
