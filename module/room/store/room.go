package store

import (
	"context"

	"pulsechat/metrics"
	"pulsechat/module/room/model"
	"pulsechat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxCASRetry = 3

type RoomRepo struct {
	DB *mongo.Database
}

func NewRoomRepo(db *mongo.Database) *RoomRepo { return &RoomRepo{DB: db} }

func (r *RoomRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.RoomTableName)
}

func (r *RoomRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at_ms", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	return mapMongoErr(err)
}

func (r *RoomRepo) Insert(ctx context.Context, room *model.Room) error {
	_, err := r.coll().InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrConflict.WrapMsg("room id already exists", "id", room.ID)
	}
	return mapMongoErr(err)
}

func (r *RoomRepo) Get(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("room not found", "id", id)
	}
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return &room, nil
}

// Update 与消息仓一致的 CAS 读-改-写；同一房间的并发写在此线性化
func (r *RoomRepo) Update(ctx context.Context, id string, apply func(*model.Room) error) (*model.Room, error) {
	for attempt := 0; attempt < maxCASRetry; attempt++ {
		room, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		readVer := room.Version
		if err := apply(room); err != nil {
			return nil, err
		}
		room.Version = readVer + 1

		res, err := r.coll().ReplaceOne(ctx, bson.M{"_id": id, "version": readVer}, room)
		if err != nil {
			return nil, mapMongoErr(err)
		}
		if res.MatchedCount == 1 {
			return room, nil
		}
		metrics.StoreConflicts.Inc()
	}
	return nil, errs.ErrConflict.WrapMsg("update retries exhausted", "id", id)
}

// ListFilter 房间发现列表
type ListFilter struct {
	GroupID string
	Status  model.RoomStatus
	Skip    int64
	Limit   int64
	Preview bool // 省略参与者明细与聊天日志
}

func (r *RoomRepo) List(ctx context.Context, f ListFilter) ([]*model.Room, error) {
	q := bson.M{}
	if f.GroupID != "" {
		q["group_id"] = f.GroupID
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetSkip(f.Skip).
		SetLimit(limit)
	if f.Preview {
		opts.SetProjection(bson.M{"participants": 0, "chat_log": 0, "reports": 0})
	}

	cur, err := r.coll().Find(ctx, q, opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	var out []*model.Room
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err)
	}
	return out, nil
}

func mapMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return errs.ErrStoreUnavailable.WrapMsg(err.Error())
	}
	return errs.Wrap(err)
}
