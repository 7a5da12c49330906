package search

import (
	"encoding/json"

	chatmodel "pulsechat/module/chat/model"
	roommodel "pulsechat/module/room/model"
	"pulsechat/service/kafka"
)

// Topic 索引事件流；以实体ID为分区键，同一实体的事件保持有序
const Topic = "search-index-events"

const (
	OpUpsert = "upsert"
	OpDelete = "delete"

	EntityMessage = "message"
	EntityRoom    = "room"
)

// IndexEvent 权威写之后发出的派生索引事件；索引滞后于权威状态（最终一致）
type IndexEvent struct {
	Op     string   `json:"op"`
	Entity string   `json:"entity"`
	Msg    *MsgDoc  `json:"msg,omitempty"`
	Room   *RoomDoc `json:"room,omitempty"`
	ID     string   `json:"id,omitempty"` // delete 时只带ID
}

// MsgDoc 消息的可检索投影
type MsgDoc struct {
	ID          string   `bson:"_id"           json:"id"`
	GroupID     string   `bson:"group_id,omitempty"     json:"group_id,omitempty"`
	RecipientID string   `bson:"recipient_id,omitempty" json:"recipient_id,omitempty"`
	SenderID    string   `bson:"sender_id"     json:"sender_id"`
	Content     string   `bson:"content"       json:"content"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Deleted     bool     `bson:"deleted"       json:"deleted"`
	CreatedAtMS int64    `bson:"created_at_ms" json:"created_at_ms"`
}

// RoomDoc 房间元数据的可检索投影
type RoomDoc struct {
	ID          string   `bson:"_id"      json:"id"`
	GroupID     string   `bson:"group_id" json:"group_id"`
	Name        string   `bson:"name"     json:"name"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Status      string   `bson:"status"   json:"status"`
	CreatedAtMS int64    `bson:"created_at_ms" json:"created_at_ms"`
}

func msgDocOf(m *chatmodel.Message) *MsgDoc {
	return &MsgDoc{
		ID:          m.ID,
		GroupID:     m.GroupID,
		RecipientID: m.RecipientID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		Tags:        m.Tags,
		Deleted:     m.Deleted,
		CreatedAtMS: m.CreatedAtMS,
	}
}

func roomDocOf(r *roommodel.Room) *RoomDoc {
	return &RoomDoc{
		ID:          r.ID,
		GroupID:     r.GroupID,
		Name:        r.Name,
		Tags:        r.Tags,
		Status:      string(r.Status),
		CreatedAtMS: r.CreatedAtMS,
	}
}

func publish(key string, ev IndexEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return kafka.SendSync(Topic, key, payload)
}

// PublishMessageUpsert 权威变更后的尽力而为通知；失败由调用方记日志
func PublishMessageUpsert(m *chatmodel.Message) error {
	return publish(m.ID, IndexEvent{Op: OpUpsert, Entity: EntityMessage, Msg: msgDocOf(m)})
}

func PublishMessageDelete(id string) error {
	return publish(id, IndexEvent{Op: OpDelete, Entity: EntityMessage, ID: id})
}

func PublishRoomUpsert(r *roommodel.Room) error {
	return publish(r.ID, IndexEvent{Op: OpUpsert, Entity: EntityRoom, Room: roomDocOf(r)})
}
