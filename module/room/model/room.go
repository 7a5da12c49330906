package model

import (
	"pulsechat/tools/errs"
)

const (
	RoomTableName = "rooms"

	ChatLogCap         = 100 // 房间内嵌聊天环形缓冲上限
	MinMaxParticipants = 1
	MaxMaxParticipants = 1000
)

// RoomStatus 房间状态机：idle→joining→connecting→live→ended；
// error 可从任意非终态进入。ended/error 为终态（只读）。
type RoomStatus string

const (
	RoomIdle       RoomStatus = "idle"
	RoomJoining    RoomStatus = "joining"
	RoomConnecting RoomStatus = "connecting"
	RoomLive       RoomStatus = "live"
	RoomEnded      RoomStatus = "ended"
	RoomError      RoomStatus = "error"
)

// ParticipantStatus 参与者状态
type ParticipantStatus string

const (
	PartJoining      ParticipantStatus = "joining"
	PartConnected    ParticipantStatus = "connected"
	PartMuted        ParticipantStatus = "muted"
	PartSpeaking     ParticipantStatus = "speaking"
	PartDisconnected ParticipantStatus = "disconnected"
)

func ValidParticipantStatus(s ParticipantStatus) bool {
	switch s {
	case PartJoining, PartConnected, PartMuted, PartSpeaking, PartDisconnected:
		return true
	}
	return false
}

// AudioState 参与者音频元数据，客户端以动态 map 上报后合并进来
type AudioState struct {
	Muted      bool   `bson:"muted"       json:"muted"`
	InputLevel int    `bson:"input_level" json:"input_level"` // 0~100
	Codec      string `bson:"codec,omitempty" json:"codec,omitempty"`
}

// ClientInfo 加入时客户端上报的设备信息，经宽松解码后入档
type ClientInfo struct {
	Platform   string `bson:"platform,omitempty"    json:"platform,omitempty"`
	DeviceID   string `bson:"device_id,omitempty"   json:"device_id,omitempty"`
	AppVersion string `bson:"app_version,omitempty" json:"app_version,omitempty"`
}

// Participant 每用户唯一；重进复用同一条记录
type Participant struct {
	UserID        string            `bson:"user_id"      json:"user_id"`
	Status        ParticipantStatus `bson:"status"       json:"status"`
	JoinedAtMS    int64             `bson:"joined_at_ms" json:"joined_at_ms"`
	LeftAtMS      int64             `bson:"left_at_ms,omitempty"       json:"left_at_ms,omitempty"`
	LastSpokeAtMS int64             `bson:"last_spoke_at_ms,omitempty" json:"last_spoke_at_ms,omitempty"`
	Audio         AudioState        `bson:"audio"        json:"audio"`
	CanSpeak      bool              `bson:"can_speak"    json:"can_speak"`
	CanModerate   bool              `bson:"can_moderate" json:"can_moderate"`
	Client        *ClientInfo       `bson:"client,omitempty" json:"client,omitempty"`
}

// Ban 封禁记录
type Ban struct {
	UserID string `bson:"user_id" json:"user_id"`
	Reason string `bson:"reason"  json:"reason"`
	ByID   string `bson:"by_id"   json:"by_id"`
	AtMS   int64  `bson:"at_ms"   json:"at_ms"`
}

// ReportResolution 举报处理三态
type ReportResolution string

const (
	ReportPending   ReportResolution = "pending"
	ReportResolved  ReportResolution = "resolved"
	ReportDismissed ReportResolution = "dismissed"
)

// Report 房间内举报
type Report struct {
	ID         string           `bson:"id"          json:"id"`
	ReporterID string           `bson:"reporter_id" json:"reporter_id"`
	TargetID   string           `bson:"target_id"   json:"target_id"`
	Reason     string           `bson:"reason"      json:"reason"`
	Resolution ReportResolution `bson:"resolution"  json:"resolution"`
	AtMS       int64            `bson:"at_ms"       json:"at_ms"`
}

// ChatEntry 内嵌聊天日志条目（最近 ChatLogCap 条，旧的被逐出）
type ChatEntry struct {
	SenderID string `bson:"sender_id" json:"sender_id"`
	Content  string `bson:"content"   json:"content"`
	AtMS     int64  `bson:"at_ms"     json:"at_ms"`
}

// RoomMetrics 全部派生：每次变更或房间结束时重算
type RoomMetrics struct {
	TotalParticipants        int   `bson:"total_participants"          json:"total_participants"` // 去重后的累计进入人数
	PeakParticipants         int   `bson:"peak_participants"           json:"peak_participants"`  // 只增不减
	TotalDurationMS          int64 `bson:"total_duration_ms"           json:"total_duration_ms"`
	AverageSessionDurationMS int64 `bson:"average_session_duration_ms" json:"average_session_duration_ms"`
	MessageCount             int64 `bson:"message_count"               json:"message_count"`
	RecordingDurationMS      int64 `bson:"recording_duration_ms"       json:"recording_duration_ms"`
}

// Room 自包含文档：参与者/封禁/举报/聊天日志全部内嵌。
// db.rooms.createIndex({ group_id: 1, created_at_ms: -1 })
// db.rooms.createIndex({ status: 1 })
type Room struct {
	ID      string `bson:"_id"     json:"id"`
	Version int64  `bson:"version" json:"version"` // 乐观并发版本号

	GroupID   string   `bson:"group_id"   json:"group_id"`
	CreatorID string   `bson:"creator_id" json:"creator_id"`
	Name      string   `bson:"name,omitempty" json:"name,omitempty"`
	Tags      []string `bson:"tags,omitempty" json:"tags,omitempty"`

	Status      RoomStatus `bson:"status"       json:"status"`
	ErrorReason string     `bson:"error_reason,omitempty" json:"error_reason,omitempty"`

	MaxParticipants     int `bson:"max_participants"     json:"max_participants"`
	CurrentParticipants int `bson:"current_participants" json:"current_participants"` // 派生：status != disconnected 的数量

	Participants []Participant `bson:"participants" json:"participants"`

	Metrics RoomMetrics `bson:"metrics" json:"metrics"`

	// —— 治理 —— //
	Moderators []string `bson:"moderators,omitempty" json:"moderators,omitempty"`
	Bans       []Ban    `bson:"bans,omitempty"       json:"bans,omitempty"`
	Reports    []Report `bson:"reports,omitempty"    json:"reports,omitempty"`

	ChatLog []ChatEntry `bson:"chat_log,omitempty" json:"chat_log,omitempty"`

	StartedAtMS int64 `bson:"started_at_ms,omitempty" json:"started_at_ms,omitempty"`
	EndedAtMS   int64 `bson:"ended_at_ms,omitempty"   json:"ended_at_ms,omitempty"`
	CreatedAtMS int64 `bson:"created_at_ms"           json:"created_at_ms"`
	UpdatedAtMS int64 `bson:"updated_at_ms"           json:"updated_at_ms"`
}

func (*Room) TableName() string { return RoomTableName }

func (r *Room) Validate() error {
	if r.GroupID == "" || r.CreatorID == "" {
		return errs.ErrValidation.WrapMsg("group_id and creator_id are required")
	}
	if r.MaxParticipants < MinMaxParticipants || r.MaxParticipants > MaxMaxParticipants {
		return errs.ErrValidation.WrapMsg("max_participants out of range",
			"min", MinMaxParticipants, "max", MaxMaxParticipants)
	}
	return nil
}

func (r *Room) IsTerminal() bool {
	return r.Status == RoomEnded || r.Status == RoomError
}

// canStart start 仅在 idle/joining/connecting 合法
func (r *Room) canStart() bool {
	switch r.Status {
	case RoomIdle, RoomJoining, RoomConnecting:
		return true
	}
	return false
}

// Start 记录 started_at 并进入 live
func (r *Room) Start(nowMS int64) error {
	if !r.canStart() {
		return errs.ErrInvalidTransition.WrapMsg("start not allowed", "status", string(r.Status))
	}
	r.Status = RoomLive
	r.StartedAtMS = nowMS
	r.UpdatedAtMS = nowMS
	return nil
}

// End 仅 live→ended；结算 total/average 时长
func (r *Room) End(nowMS int64) error {
	if r.Status != RoomLive {
		return errs.ErrInvalidTransition.WrapMsg("end not allowed", "status", string(r.Status))
	}
	r.Status = RoomEnded
	r.EndedAtMS = nowMS
	if r.StartedAtMS > 0 && nowMS > r.StartedAtMS {
		r.Metrics.TotalDurationMS = nowMS - r.StartedAtMS
	}
	if r.Metrics.TotalParticipants > 0 {
		r.Metrics.AverageSessionDurationMS = r.Metrics.TotalDurationMS / int64(r.Metrics.TotalParticipants)
	} else {
		r.Metrics.AverageSessionDurationMS = 0
	}
	r.UpdatedAtMS = nowMS
	return nil
}

// Fail 任意非终态→error；之后房间只读
func (r *Room) Fail(reason string, nowMS int64) error {
	if r.IsTerminal() {
		return errs.ErrInvalidTransition.WrapMsg("room already terminal", "status", string(r.Status))
	}
	r.Status = RoomError
	r.ErrorReason = reason
	r.UpdatedAtMS = nowMS
	return nil
}

// MarkJoining idle→joining：首个参与者开始连接时的状态推进
func (r *Room) MarkJoining(nowMS int64) {
	if r.Status == RoomIdle {
		r.Status = RoomJoining
		r.UpdatedAtMS = nowMS
	}
}

// MarkConnecting joining→connecting：信令/协商阶段（外部执行，仅记状态）
func (r *Room) MarkConnecting(nowMS int64) error {
	if r.Status != RoomJoining {
		return errs.ErrInvalidTransition.WrapMsg("connecting only follows joining", "status", string(r.Status))
	}
	r.Status = RoomConnecting
	r.UpdatedAtMS = nowMS
	return nil
}

func (r *Room) findParticipant(userID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Room) Participant(userID string) (*Participant, bool) {
	p := r.findParticipant(userID)
	return p, p != nil
}

// UpsertParticipant upsert 语义：已有记录原地更新，状态归位 connected、
// left_at 清零；新用户追加并计入累计人数。容量在计入前校验。
func (r *Room) UpsertParticipant(userID string, client *ClientInfo, nowMS int64) error {
	if r.IsTerminal() {
		return errs.ErrInvalidTransition.WrapMsg("room is read-only", "status", string(r.Status))
	}
	if r.IsBanned(userID) {
		return errs.ErrValidation.WrapMsg("user is banned from room", "user_id", userID)
	}

	if p := r.findParticipant(userID); p != nil {
		wasCounted := p.Status != PartDisconnected
		if !wasCounted && r.activeCount() >= r.MaxParticipants {
			return errs.ErrCapacityExceeded.WrapMsg("room is full", "max", r.MaxParticipants)
		}
		p.Status = PartConnected
		p.LeftAtMS = 0
		if client != nil {
			p.Client = client
		}
	} else {
		if r.activeCount() >= r.MaxParticipants {
			return errs.ErrCapacityExceeded.WrapMsg("room is full", "max", r.MaxParticipants)
		}
		r.Participants = append(r.Participants, Participant{
			UserID:     userID,
			Status:     PartConnected,
			JoinedAtMS: nowMS,
			CanSpeak:   true,
			Client:     client,
		})
		r.Metrics.TotalParticipants++
	}

	r.MarkJoining(nowMS)
	r.Recount()
	r.UpdatedAtMS = nowMS
	return nil
}

// MarkLeft 标记 disconnected 并打 left_at；记录保留不删除
func (r *Room) MarkLeft(userID string, nowMS int64) error {
	if r.IsTerminal() {
		return errs.ErrInvalidTransition.WrapMsg("room is read-only", "status", string(r.Status))
	}
	p := r.findParticipant(userID)
	if p == nil {
		return errs.ErrNotFound.WrapMsg("participant not found", "user_id", userID)
	}
	p.Status = PartDisconnected
	p.LeftAtMS = nowMS
	r.Recount()
	r.UpdatedAtMS = nowMS
	return nil
}

// SetParticipantStatus 部分更新；进入 speaking 时打 last_spoke_at
func (r *Room) SetParticipantStatus(userID string, status ParticipantStatus, nowMS int64) (*Participant, error) {
	if !ValidParticipantStatus(status) {
		return nil, errs.ErrValidation.WrapMsg("invalid participant status", "status", string(status))
	}
	if r.IsTerminal() {
		return nil, errs.ErrInvalidTransition.WrapMsg("room is read-only", "status", string(r.Status))
	}
	p := r.findParticipant(userID)
	if p == nil {
		return nil, errs.ErrNotFound.WrapMsg("participant not found", "user_id", userID)
	}
	p.Status = status
	if status == PartSpeaking {
		p.LastSpokeAtMS = nowMS
	}
	if status == PartDisconnected {
		p.LeftAtMS = nowMS
	}
	r.Recount()
	r.UpdatedAtMS = nowMS
	return p, nil
}

func (r *Room) activeCount() int {
	n := 0
	for i := range r.Participants {
		if r.Participants[i].Status != PartDisconnected {
			n++
		}
	}
	return n
}

// Recount 不变式 4/5：current = 非 disconnected 数量；peak 只增不减
func (r *Room) Recount() {
	r.CurrentParticipants = r.activeCount()
	if r.CurrentParticipants > r.Metrics.PeakParticipants {
		r.Metrics.PeakParticipants = r.CurrentParticipants
	}
}

// AppendChat 环形缓冲：满 ChatLogCap 时逐出最旧一条
func (r *Room) AppendChat(e ChatEntry) {
	r.ChatLog = append(r.ChatLog, e)
	if len(r.ChatLog) > ChatLogCap {
		r.ChatLog = r.ChatLog[len(r.ChatLog)-ChatLogCap:]
	}
	r.Metrics.MessageCount++
}

// —— 治理 —— //

func (r *Room) IsBanned(userID string) bool {
	for _, b := range r.Bans {
		if b.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Room) AddBan(userID, reason, byID string, nowMS int64) {
	if r.IsBanned(userID) {
		return
	}
	r.Bans = append(r.Bans, Ban{UserID: userID, Reason: reason, ByID: byID, AtMS: nowMS})
}

func (r *Room) RemoveBan(userID string) {
	kept := r.Bans[:0]
	for _, b := range r.Bans {
		if b.UserID != userID {
			kept = append(kept, b)
		}
	}
	r.Bans = kept
}

func (r *Room) IsModerator(userID string) bool {
	if userID == r.CreatorID {
		return true
	}
	for _, m := range r.Moderators {
		if m == userID {
			return true
		}
	}
	return false
}

func (r *Room) AddModerator(userID string) {
	for _, m := range r.Moderators {
		if m == userID {
			return
		}
	}
	r.Moderators = append(r.Moderators, userID)
}

func (r *Room) AddReport(rep Report) {
	rep.Resolution = ReportPending
	r.Reports = append(r.Reports, rep)
}

// ResolveReport pending→resolved|dismissed
func (r *Room) ResolveReport(reportID string, res ReportResolution) error {
	if res != ReportResolved && res != ReportDismissed {
		return errs.ErrValidation.WrapMsg("invalid resolution", "resolution", string(res))
	}
	for i := range r.Reports {
		if r.Reports[i].ID == reportID {
			if r.Reports[i].Resolution != ReportPending {
				return errs.ErrInvalidTransition.WrapMsg("report already settled",
					"resolution", string(r.Reports[i].Resolution))
			}
			r.Reports[i].Resolution = res
			return nil
		}
	}
	return errs.ErrNotFound.WrapMsg("report not found", "report_id", reportID)
}
