package service

import (
	"context"
	"time"

	"pulsechat/logger"
	"pulsechat/metrics"
	"pulsechat/module/room/model"
	"pulsechat/module/room/store"
	"pulsechat/service/natsx"
	"pulsechat/tools/decode"
	"pulsechat/tools/errs"
	"pulsechat/tools/ids"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomStore 服务层对实体存储的窄依赖；mongo 实现见 module/room/store
type RoomStore interface {
	Insert(ctx context.Context, r *model.Room) error
	Get(ctx context.Context, id string) (*model.Room, error)
	Update(ctx context.Context, id string, apply func(*model.Room) error) (*model.Room, error)
	List(ctx context.Context, f store.ListFilter) ([]*model.Room, error)
}

// EventPublisher 房间瞬态事件出口（NATS）；nil 则不发
type EventPublisher func(natsx.RoomEvent) error

// IndexPublisher 房间元数据进检索集合（kafka）；nil 则不发
type IndexPublisher func(*model.Room) error

type RoomService struct {
	Store      RoomStore
	Events     EventPublisher
	Index      IndexPublisher
	DefaultMax int // settings 未给 max_participants 时的缺省
}

func NewRoomService(st RoomStore, ev EventPublisher, idx IndexPublisher) *RoomService {
	return &RoomService{Store: st, Events: ev, Index: idx, DefaultMax: 50}
}

func (s *RoomService) emit(ev natsx.RoomEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events(ev); err != nil {
		logger.Warn("room event publish failed", zap.String("room_id", ev.RoomID), zap.Error(err))
	}
}

func (s *RoomService) indexUpsert(r *model.Room) {
	if s.Index == nil {
		return
	}
	if err := s.Index(r); err != nil {
		logger.Warn("room index publish failed", zap.String("room_id", r.ID), zap.Error(err))
	}
}

// Settings 创建房间时的可配置项
type Settings struct {
	Name            string   `json:"name"`
	MaxParticipants int      `json:"max_participants"`
	Tags            []string `json:"tags"`
	Moderators      []string `json:"moderators"`
}

// Create 新房间恒为 idle
func (s *RoomService) Create(ctx context.Context, groupID, creatorID string, cfg Settings) (*model.Room, error) {
	now := time.Now().UnixMilli()
	maxP := cfg.MaxParticipants
	if maxP == 0 {
		maxP = s.DefaultMax
	}
	r := &model.Room{
		ID:              uuid.NewString(),
		GroupID:         groupID,
		CreatorID:       creatorID,
		Name:            cfg.Name,
		Tags:            cfg.Tags,
		Status:          model.RoomIdle,
		MaxParticipants: maxP,
		Moderators:      cfg.Moderators,
		CreatedAtMS:     now,
		UpdatedAtMS:     now,
	}
	if err := r.Validate(); err != nil {
		metrics.Fail(metrics.RoomOps, "create")
		return nil, err
	}
	if err := s.Store.Insert(ctx, r); err != nil {
		metrics.Fail(metrics.RoomOps, "create")
		return nil, err
	}
	s.indexUpsert(r)
	metrics.Ok(metrics.RoomOps, "create")
	return r, nil
}

// Start idle/joining/connecting→live，非法状态返回 InvalidTransition
func (s *RoomService) Start(ctx context.Context, roomID string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.Start(now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "start")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, Kind: "started", AtMS: now})
	s.indexUpsert(r)
	metrics.Ok(metrics.RoomOps, "start")
	return r, nil
}

// Connect joining→connecting：信令/协商开始（协商本身由网关侧执行）
func (s *RoomService) Connect(ctx context.Context, roomID string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.MarkConnecting(now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "connect")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, Kind: "connecting", AtMS: now})
	metrics.Ok(metrics.RoomOps, "connect")
	return r, nil
}

// End live→ended，结算时长指标
func (s *RoomService) End(ctx context.Context, roomID string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.End(now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "end")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, Kind: "ended", AtMS: now})
	s.indexUpsert(r)
	metrics.Ok(metrics.RoomOps, "end")
	return r, nil
}

// Fail 任意非终态→error；之后房间只读
func (s *RoomService) Fail(ctx context.Context, roomID, reason string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.Fail(reason, now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "fail")
		return nil, err
	}
	s.indexUpsert(r)
	metrics.Ok(metrics.RoomOps, "fail")
	return r, nil
}

// Join upsert 语义：重进复用原记录；容量与封禁在模型内校验。
// 客户端上报的动态 map 宽松解码成设备档案后入档。
func (s *RoomService) Join(ctx context.Context, roomID, userID string, clientData map[string]any) (*model.Room, error) {
	var client *model.ClientInfo
	if clientData != nil {
		c, err := decode.DecodeMap[model.ClientInfo](clientData)
		if err != nil {
			metrics.Fail(metrics.RoomOps, "join")
			return nil, errs.ErrValidation.WrapMsg("bad client data", "err", err)
		}
		client = c
	}

	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.UpsertParticipant(userID, client, now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "join")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, UserID: userID, Kind: "joined", AtMS: now})
	metrics.Ok(metrics.RoomOps, "join")
	return r, nil
}

// Leave 标记 disconnected，保留历史记录
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		return r.MarkLeft(userID, now)
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "leave")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, UserID: userID, Kind: "left", AtMS: now})
	metrics.Ok(metrics.RoomOps, "leave")
	return r, nil
}

// SetParticipantStatus 部分更新；audioData 为客户端上报的动态 map，
// 宽松解码后合并进参与者的音频元数据
func (s *RoomService) SetParticipantStatus(ctx context.Context, roomID, userID string,
	status model.ParticipantStatus, audioData map[string]any) (*model.Room, error) {

	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		p, err := r.SetParticipantStatus(userID, status, now)
		if err != nil {
			return err
		}
		if audioData != nil {
			if err := decode.MergeMap(&p.Audio, audioData); err != nil {
				return errs.ErrValidation.WrapMsg("bad audio data", "err", err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "set_status")
		return nil, err
	}
	s.emit(natsx.RoomEvent{RoomID: roomID, UserID: userID, Kind: "status", Status: string(status), AtMS: now})
	metrics.Ok(metrics.RoomOps, "set_status")
	return r, nil
}

// PostChat 内嵌聊天日志（环形缓冲，满额逐旧）
func (s *RoomService) PostChat(ctx context.Context, roomID, senderID, content string) (*model.Room, error) {
	if content == "" {
		return nil, errs.ErrValidation.WrapMsg("content is required")
	}
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		if r.IsTerminal() {
			return errs.ErrInvalidTransition.WrapMsg("room is read-only", "status", string(r.Status))
		}
		if _, ok := r.Participant(senderID); !ok {
			return errs.ErrNotFound.WrapMsg("participant not found", "user_id", senderID)
		}
		r.AppendChat(model.ChatEntry{SenderID: senderID, Content: content, AtMS: now})
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "post_chat")
		return nil, err
	}
	metrics.Ok(metrics.RoomOps, "post_chat")
	return r, nil
}

// Ban 需要主持人权限；被封禁用户同时被踢出
func (s *RoomService) Ban(ctx context.Context, roomID, targetID, byID, reason string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	r, err := s.Store.Update(ctx, roomID, func(r *model.Room) error {
		if !r.IsModerator(byID) {
			return errs.ErrValidation.WrapMsg("not a moderator", "user_id", byID)
		}
		r.AddBan(targetID, reason, byID, now)
		if p, ok := r.Participant(targetID); ok && p.Status != model.PartDisconnected {
			return r.MarkLeft(targetID, now)
		}
		r.Recount()
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.RoomOps, "ban")
		return nil, err
	}
	metrics.Ok(metrics.RoomOps, "ban")
	return r, nil
}

func (s *RoomService) Unban(ctx context.Context, roomID, targetID, byID string) (*model.Room, error) {
	return s.Store.Update(ctx, roomID, func(r *model.Room) error {
		if !r.IsModerator(byID) {
			return errs.ErrValidation.WrapMsg("not a moderator", "user_id", byID)
		}
		r.RemoveBan(targetID)
		return nil
	})
}

func (s *RoomService) AddModerator(ctx context.Context, roomID, targetID, byID string) (*model.Room, error) {
	return s.Store.Update(ctx, roomID, func(r *model.Room) error {
		if !r.IsModerator(byID) {
			return errs.ErrValidation.WrapMsg("not a moderator", "user_id", byID)
		}
		r.AddModerator(targetID)
		return nil
	})
}

// Report 新举报恒为 pending
func (s *RoomService) Report(ctx context.Context, roomID, reporterID, targetID, reason string) (*model.Room, error) {
	now := time.Now().UnixMilli()
	return s.Store.Update(ctx, roomID, func(r *model.Room) error {
		r.AddReport(model.Report{
			ID:         ids.GenerateString(),
			ReporterID: reporterID,
			TargetID:   targetID,
			Reason:     reason,
			AtMS:       now,
		})
		return nil
	})
}

// ResolveReport pending→resolved|dismissed；需要主持人权限
func (s *RoomService) ResolveReport(ctx context.Context, roomID, reportID, byID string,
	res model.ReportResolution) (*model.Room, error) {
	return s.Store.Update(ctx, roomID, func(r *model.Room) error {
		if !r.IsModerator(byID) {
			return errs.ErrValidation.WrapMsg("not a moderator", "user_id", byID)
		}
		return r.ResolveReport(reportID, res)
	})
}

func (s *RoomService) Get(ctx context.Context, roomID string) (*model.Room, error) {
	return s.Store.Get(ctx, roomID)
}

func (s *RoomService) List(ctx context.Context, f store.ListFilter) ([]*model.Room, error) {
	return s.Store.List(ctx, f)
}
