package model

import (
	"pulsechat/tools/errs"
)

// 集合与边界常量
const (
	MessageTableName = "messages"
	ArchiveTableName = "messages_archive"

	MaxContentLen = 5000 // 文本内容上限（字符数）
)

// MessageStatus 投递状态，单调推进 sent→delivered→read；failed 仅能从 sent 进入且终态
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// MediaInfo 媒体引用（不做转码，只存元信息）
type MediaInfo struct {
	URL        string `bson:"url"         json:"url"`
	SizeBytes  int64  `bson:"size_bytes"  json:"size_bytes"`
	MimeType   string `bson:"mime_type"   json:"mime_type"`
	DurationMS int64  `bson:"duration_ms,omitempty" json:"duration_ms,omitempty"` // 音视频时长
}

// Receipt 每用户回执，delivery/read 两个列表各自按 user_id 去重
type Receipt struct {
	UserID string `bson:"user_id" json:"user_id"`
	AtMS   int64  `bson:"at_ms"   json:"at_ms"`
}

// Reaction 每用户至多一条，后写覆盖前写
type Reaction struct {
	UserID string `bson:"user_id" json:"user_id"`
	Emoji  string `bson:"emoji"   json:"emoji"`
	AtMS   int64  `bson:"at_ms"   json:"at_ms"`
}

// EditRecord 编辑前内容快照，只追加
type EditRecord struct {
	Content  string `bson:"content"    json:"content"`
	EditorID string `bson:"editor_id"  json:"editor_id"`
	AtMS     int64  `bson:"at_ms"      json:"at_ms"`
}

// Message 自包含文档：回执/表态/编辑历史全部内嵌，无关联表。
// db.messages.createIndex({ group_id: 1, created_at_ms: -1 })
// db.messages.createIndex({ recipient_id: 1, created_at_ms: -1 })
// db.messages.createIndex({ archived: 1, deleted: 1, created_at_ms: 1 })
type Message struct {
	ID      string `bson:"_id"     json:"id"`
	Version int64  `bson:"version" json:"version"` // 乐观并发版本号

	// —— 路由/标识 —— //
	SenderID    string `bson:"sender_id"              json:"sender_id"`
	RecipientID string `bson:"recipient_id,omitempty" json:"recipient_id,omitempty"` // 单聊对端（与 group_id 互斥）
	GroupID     string `bson:"group_id,omitempty"     json:"group_id,omitempty"`     // 群聊（与 recipient_id 互斥）

	// —— 内容 —— //
	Content string     `bson:"content,omitempty" json:"content,omitempty"`
	Media   *MediaInfo `bson:"media,omitempty"   json:"media,omitempty"`
	Tags    []string   `bson:"tags,omitempty"    json:"tags,omitempty"`

	// —— 会话线程 —— //
	ReplyTo  string `bson:"reply_to,omitempty"  json:"reply_to,omitempty"`
	ThreadID string `bson:"thread_id,omitempty" json:"thread_id,omitempty"` // 未显式给出时回落到被回复消息的ID

	// —— 投递状态 —— //
	Status           MessageStatus `bson:"status"            json:"status"`
	Delivered        bool          `bson:"delivered"         json:"delivered"` // 至少一条 delivery 回执
	Read             bool          `bson:"read"              json:"read"`      // 至少一条 read 回执
	DeliveryReceipts []Receipt     `bson:"delivery_receipts" json:"delivery_receipts"`
	ReadReceipts     []Receipt     `bson:"read_receipts"     json:"read_receipts"`

	// —— 表态 —— //
	Reactions []Reaction `bson:"reactions" json:"reactions"`

	// —— 编辑痕迹 —— //
	Edited      bool         `bson:"edited"                 json:"edited"`
	EditedAtMS  int64        `bson:"edited_at_ms,omitempty" json:"edited_at_ms,omitempty"`
	EditHistory []EditRecord `bson:"edit_history,omitempty" json:"edit_history,omitempty"`

	// —— 软删除（审计保留） —— //
	Deleted     bool   `bson:"deleted"                  json:"deleted"`
	DeletedAtMS int64  `bson:"deleted_at_ms,omitempty"  json:"deleted_at_ms,omitempty"`
	DeletedBy   string `bson:"deleted_by,omitempty"     json:"deleted_by,omitempty"`

	// —— 派生计数（每次变更由源列表重算） —— //
	ReactionCount int `bson:"reaction_count" json:"reaction_count"`
	ReplyCount    int `bson:"reply_count"    json:"reply_count"`
	ViewCount     int `bson:"view_count"     json:"view_count"`

	// —— 归档 —— //
	Archived     bool  `bson:"archived"                 json:"archived"`
	ArchivedAtMS int64 `bson:"archived_at_ms,omitempty" json:"archived_at_ms,omitempty"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
	UpdatedAtMS int64 `bson:"updated_at_ms" json:"updated_at_ms"`
}

func (*Message) TableName() string { return MessageTableName }

// Validate 持久化前的硬校验：寻址互斥 + 内容边界
func (m *Message) Validate() error {
	hasRecipient := m.RecipientID != ""
	hasGroup := m.GroupID != ""
	if hasRecipient == hasGroup {
		return errs.ErrValidation.WrapMsg("exactly one of recipient_id/group_id must be set",
			"recipient_id", m.RecipientID, "group_id", m.GroupID)
	}
	if m.Content == "" && m.Media == nil {
		return errs.ErrValidation.WrapMsg("message needs content or media")
	}
	if len([]rune(m.Content)) > MaxContentLen {
		return errs.ErrValidation.WrapMsg("content exceeds max length", "max", MaxContentLen)
	}
	if m.SenderID == "" {
		return errs.ErrValidation.WrapMsg("sender_id is required")
	}
	return nil
}

// escalate 仅向前推进；failed 为终态不再变化
func (m *Message) escalate(to MessageStatus) {
	if m.Status == StatusFailed {
		return
	}
	if statusRank[to] > statusRank[m.Status] {
		m.Status = to
	}
}

// MarkFailed 仅允许 sent→failed
func (m *Message) MarkFailed() error {
	if m.Status != StatusSent {
		return errs.ErrInvalidTransition.WrapMsg("failed is only reachable from sent", "status", string(m.Status))
	}
	m.Status = StatusFailed
	return nil
}

// MarkDelivered 幂等：同一用户的回执不重复；返回是否首次登记
func (m *Message) MarkDelivered(userID string, nowMS int64) bool {
	for _, r := range m.DeliveryReceipts {
		if r.UserID == userID {
			return false
		}
	}
	m.DeliveryReceipts = append(m.DeliveryReceipts, Receipt{UserID: userID, AtMS: nowMS})
	m.Delivered = true
	m.escalate(StatusDelivered)
	m.UpdatedAtMS = nowMS
	return true
}

// MarkRead 幂等；read 在聚合层面同时满足 delivered
func (m *Message) MarkRead(userID string, nowMS int64) bool {
	for _, r := range m.ReadReceipts {
		if r.UserID == userID {
			return false
		}
	}
	m.ReadReceipts = append(m.ReadReceipts, Receipt{UserID: userID, AtMS: nowMS})
	m.Read = true
	m.Delivered = true
	m.escalate(StatusRead)
	m.ViewCount = len(m.ReadReceipts)
	m.UpdatedAtMS = nowMS
	return true
}

// React 同一用户后写覆盖前写，净效果恒为每用户至多一条
func (m *Message) React(userID, emoji string, nowMS int64) {
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.Reactions = append(kept, Reaction{UserID: userID, Emoji: emoji, AtMS: nowMS})
	m.Recount()
	m.UpdatedAtMS = nowMS
}

// Unreact 不存在时为 no-op，不报错
func (m *Message) Unreact(userID string, nowMS int64) {
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
	m.Recount()
	m.UpdatedAtMS = nowMS
}

// ApplyEdit 旧内容进入只追加的历史快照
func (m *Message) ApplyEdit(editorID, newContent string, nowMS int64) error {
	if m.Deleted {
		return errs.ErrNotFound.WrapMsg("message is deleted", "id", m.ID)
	}
	if len([]rune(newContent)) > MaxContentLen {
		return errs.ErrValidation.WrapMsg("content exceeds max length", "max", MaxContentLen)
	}
	m.EditHistory = append(m.EditHistory, EditRecord{
		Content:  m.Content,
		EditorID: editorID,
		AtMS:     nowMS,
	})
	m.Content = newContent
	m.Edited = true
	m.EditedAtMS = nowMS
	m.UpdatedAtMS = nowMS
	return nil
}

// SoftDelete 审计保留；默认读取与搜索路径排除
func (m *Message) SoftDelete(actorID string, nowMS int64) {
	m.Deleted = true
	m.DeletedAtMS = nowMS
	m.DeletedBy = actorID
	m.UpdatedAtMS = nowMS
}

// Recount 由源列表重算派生计数，防漂移
func (m *Message) Recount() {
	m.ReactionCount = len(m.Reactions)
	m.ViewCount = len(m.ReadReceipts)
}
