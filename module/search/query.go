package search

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Query 发现查询参数
type Query struct {
	Text    string
	GroupID string // 可选：限定群
	Skip    int64
	Limit   int64
}

// Messages 加权全文检索；按文本得分降序。只读派生集合，鲜度尽力而为。
func (s *Index) Messages(ctx context.Context, q Query) ([]*MsgDoc, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	filter := bson.M{
		"$text":   bson.M{"$search": q.Text},
		"deleted": false,
	}
	if q.GroupID != "" {
		filter["group_id"] = q.GroupID
	}

	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}).
		SetSkip(q.Skip).
		SetLimit(limit)

	cur, err := s.msgColl().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*MsgDoc
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rooms 房间元数据检索
func (s *Index) Rooms(ctx context.Context, q Query) ([]*RoomDoc, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	filter := bson.M{"$text": bson.M{"$search": q.Text}}
	if q.GroupID != "" {
		filter["group_id"] = q.GroupID
	}

	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}).
		SetSkip(q.Skip).
		SetLimit(limit)

	cur, err := s.roomColl().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*RoomDoc
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
