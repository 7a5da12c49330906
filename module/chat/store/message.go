package store

import (
	"context"

	"pulsechat/metrics"
	"pulsechat/module/chat/model"
	"pulsechat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxCASRetry CAS 失败后的店内重试上限；用尽后把 Conflict 抛给调用方
const maxCASRetry = 3

type MessageRepo struct {
	DB *mongo.Database
}

func NewMessageRepo(db *mongo.Database) *MessageRepo { return &MessageRepo{DB: db} }

func (r *MessageRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.MessageTableName)
}

// EnsureIndexes 身份字段唯一性由 _id 兜底；其余为查询辅助索引
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at_ms", Value: -1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at_ms", Value: -1}}},
		{Keys: bson.D{{Key: "archived", Value: 1}, {Key: "deleted", Value: 1}, {Key: "created_at_ms", Value: 1}}},
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at_ms", Value: 1}}},
	})
	return mapMongoErr(err)
}

func (r *MessageRepo) Insert(ctx context.Context, m *model.Message) error {
	_, err := r.coll().InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrConflict.WrapMsg("message id already exists", "id", m.ID)
	}
	return mapMongoErr(err)
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return &m, nil
}

// Update 读-改-写：以 {_id, version} 作为写入条件实现乐观并发。
// 失败的写方基于新读到的状态重试，最多 maxCASRetry 次。
func (r *MessageRepo) Update(ctx context.Context, id string, apply func(*model.Message) error) (*model.Message, error) {
	for attempt := 0; attempt < maxCASRetry; attempt++ {
		m, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		readVer := m.Version
		if err := apply(m); err != nil {
			return nil, err
		}
		m.Version = readVer + 1

		res, err := r.coll().ReplaceOne(ctx, bson.M{"_id": id, "version": readVer}, m)
		if err != nil {
			return nil, mapMongoErr(err)
		}
		if res.MatchedCount == 1 {
			return m, nil
		}
		// 输掉了竞争：重读后重放变换
		metrics.StoreConflicts.Inc()
	}
	return nil, errs.ErrConflict.WrapMsg("update retries exhausted", "id", id)
}

// ListFilter 条件过滤 + 时间序分页 + 读重型列表的字段投影
type ListFilter struct {
	GroupID        string
	RecipientID    string
	SenderID       string
	ThreadID       string
	IncludeDeleted bool
	BeforeMS       int64 // 0 表示不限
	Skip           int64
	Limit          int64
	Preview        bool // 列表预览省略编辑历史与回执明细
}

func (f ListFilter) query() bson.M {
	q := bson.M{"archived": false}
	if !f.IncludeDeleted {
		q["deleted"] = false
	}
	if f.GroupID != "" {
		q["group_id"] = f.GroupID
	}
	if f.RecipientID != "" {
		q["recipient_id"] = f.RecipientID
	}
	if f.SenderID != "" {
		q["sender_id"] = f.SenderID
	}
	if f.ThreadID != "" {
		q["thread_id"] = f.ThreadID
	}
	if f.BeforeMS > 0 {
		q["created_at_ms"] = bson.M{"$lt": f.BeforeMS}
	}
	return q
}

func (r *MessageRepo) List(ctx context.Context, f ListFilter) ([]*model.Message, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetSkip(f.Skip).
		SetLimit(limit)
	if f.Preview {
		opts.SetProjection(bson.M{
			"edit_history":      0,
			"delivery_receipts": 0,
			"read_receipts":     0,
		})
	}

	cur, err := r.coll().Find(ctx, f.query(), opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err)
	}
	return out, nil
}

// CountReplies thread 内回复数（派生 reply_count 的数据源）
func (r *MessageRepo) CountReplies(ctx context.Context, threadID string) (int64, error) {
	n, err := r.coll().CountDocuments(ctx, bson.M{"thread_id": threadID, "deleted": false})
	return n, mapMongoErr(err)
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
