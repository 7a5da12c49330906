package search

import (
	"context"

	"pulsechat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 派生检索集合；非权威状态，可随时重建
const (
	MsgSearchTableName  = "message_search"
	RoomSearchTableName = "room_search"

	msgIndexName  = "msg_text"
	roomIndexName = "room_text"
)

type Index struct {
	DB *mongo.Database
}

func NewIndex(db *mongo.Database) *Index { return &Index{DB: db} }

func (s *Index) msgColl() *mongo.Collection  { return s.DB.Collection(MsgSearchTableName) }
func (s *Index) roomColl() *mongo.Collection { return s.DB.Collection(RoomSearchTableName) }

// EnsureIndexes 加权文本索引：消息正文权重最高，标签次之
func (s *Index) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgColl().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "content", Value: "text"}, {Key: "tags", Value: "text"}},
		Options: options.Index().
			SetName(msgIndexName).
			SetWeights(bson.D{{Key: "content", Value: 10}, {Key: "tags", Value: 4}}),
	})
	if err != nil && !indexAlreadyExists(err) {
		return errs.WrapMsg(err, "create message text index")
	}
	_, err = s.roomColl().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: "text"}, {Key: "tags", Value: "text"}},
		Options: options.Index().
			SetName(roomIndexName).
			SetWeights(bson.D{{Key: "name", Value: 8}, {Key: "tags", Value: 3}}),
	})
	if err != nil && !indexAlreadyExists(err) {
		return errs.WrapMsg(err, "create room text index")
	}
	return nil
}

// Rebuild 幂等重建：drop 缺失的索引不报错，再按同名同定义重建
func (s *Index) Rebuild(ctx context.Context) error {
	for _, pair := range []struct {
		coll *mongo.Collection
		name string
	}{
		{s.msgColl(), msgIndexName},
		{s.roomColl(), roomIndexName},
	} {
		if _, err := pair.coll.Indexes().DropOne(ctx, pair.name); err != nil && !indexMissing(err) {
			return errs.WrapMsg(err, "drop index", "index", pair.name)
		}
	}
	return s.EnsureIndexes(ctx)
}

// indexMissing NamespaceNotFound(26) / IndexNotFound(27)：重建路径上视为成功
func indexMissing(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 26 || ce.Code == 27
	}
	return false
}

// indexAlreadyExists IndexOptionsConflict(85) / IndexKeySpecsConflict(86)
func indexAlreadyExists(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 85 || ce.Code == 86
	}
	return false
}
