package model

// 集合名
const (
	UserTableName         = "users"
	GroupTableName        = "groups"
	NotificationTableName = "notifications"
)

// Status
const (
	UserNormal   int32 = 0
	UserBanned   int32 = 1
	UserClosed   int32 = 2
	UserReadOnly int32 = 3
)

// User 用户主档。核心只依赖：身份、在线状态、位置、活跃时间
// （后两者是维护任务的重置目标）。
type User struct {
	UserID   string `bson:"_id"      json:"user_id"` // 全局唯一、不可变（主键）
	Nickname string `bson:"nickname" json:"nickname"`
	FaceURL  string `bson:"face_url,omitempty" json:"face_url,omitempty"`

	Status       int32  `bson:"status"             json:"status"`
	Presence     string `bson:"presence,omitempty" json:"presence,omitempty"` // online/away/offline
	Location     string `bson:"location,omitempty" json:"location,omitempty"` // 客户端上报的粗粒度位置
	LastActiveMS int64  `bson:"last_active_ms"     json:"last_active_ms"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
}

func (*User) TableName() string { return UserTableName }

// Group 群元数据。成员列表内嵌（孤儿扫描校验 member_ids 的有效性）。
type Group struct {
	GroupID   string   `bson:"_id"        json:"group_id"`
	GroupName string   `bson:"group_name" json:"group_name"`
	OwnerID   string   `bson:"owner_id"   json:"owner_id"`
	MemberIDs []string `bson:"member_ids" json:"member_ids"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
}

func (*Group) TableName() string { return GroupTableName }

// Notification 通知记录；超过短期保留窗口后由维护任务硬删除。
type Notification struct {
	ID      string `bson:"_id"     json:"id"`
	UserID  string `bson:"user_id" json:"user_id"`
	Kind    string `bson:"kind"    json:"kind"` // mention / reaction / room_invite ...
	Payload string `bson:"payload,omitempty" json:"payload,omitempty"`
	ReadFlg bool   `bson:"read"    json:"read"`

	CreatedAtMS int64 `bson:"created_at_ms" json:"created_at_ms"`
}

func (*Notification) TableName() string { return NotificationTableName }
