package service

import (
	"context"
	"time"

	"pulsechat/logger"
	"pulsechat/metrics"
	"pulsechat/module/chat/model"
	"pulsechat/module/chat/store"
	"pulsechat/tools/errs"
	"pulsechat/tools/ids"

	"go.uber.org/zap"
)

// MessageStore 服务层对实体存储的窄依赖；mongo 实现见 module/chat/store
type MessageStore interface {
	Insert(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	Update(ctx context.Context, id string, apply func(*model.Message) error) (*model.Message, error)
	List(ctx context.Context, f store.ListFilter) ([]*model.Message, error)
	CountReplies(ctx context.Context, threadID string) (int64, error)
}

// IndexPublisher 权威写之后的派生索引通知（尽力而为）
type IndexPublisher struct {
	Upsert func(*model.Message) error
	Delete func(id string) error
}

type MessageService struct {
	Store MessageStore
	Index IndexPublisher // 任一字段为 nil 则跳过
}

func NewMessageService(st MessageStore, idx IndexPublisher) *MessageService {
	return &MessageService{Store: st, Index: idx}
}

func (s *MessageService) indexUpsert(m *model.Message) {
	if s.Index.Upsert == nil {
		return
	}
	if err := s.Index.Upsert(m); err != nil {
		logger.Warn("index upsert publish failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

func (s *MessageService) indexDelete(id string) {
	if s.Index.Delete == nil {
		return
	}
	if err := s.Index.Delete(id); err != nil {
		logger.Warn("index delete publish failed", zap.String("message_id", id), zap.Error(err))
	}
}

// SendInput 发送入参；Content 与 Media 二选一，RecipientID/GroupID 互斥
type SendInput struct {
	SenderID    string
	RecipientID string
	GroupID     string
	Content     string
	Media       *model.MediaInfo
	ReplyTo     string
	ThreadID    string
	Tags        []string
}

// Send 构建并落库一条消息。
// 线程回落：reply_to 给了而 thread_id 没给时，线程取被回复消息的ID。
func (s *MessageService) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m := &model.Message{
		ID:          ids.GenerateString(),
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		GroupID:     in.GroupID,
		Content:     in.Content,
		Media:       in.Media,
		ReplyTo:     in.ReplyTo,
		ThreadID:    in.ThreadID,
		Tags:        in.Tags,
		Status:      model.StatusSent,
		CreatedAtMS: now,
		UpdatedAtMS: now,
	}
	if err := m.Validate(); err != nil {
		metrics.Fail(metrics.MessageOps, "send")
		return nil, err
	}

	if m.ReplyTo != "" {
		parent, err := s.Store.Get(ctx, m.ReplyTo)
		if err != nil {
			metrics.Fail(metrics.MessageOps, "send")
			return nil, err
		}
		if m.ThreadID == "" {
			m.ThreadID = parent.ID
		}
	}

	if err := s.Store.Insert(ctx, m); err != nil {
		metrics.Fail(metrics.MessageOps, "send")
		return nil, err
	}

	// 父消息的 reply_count 由 thread 成员数重算（派生计数不独立计数）
	if m.ReplyTo != "" {
		n, err := s.Store.CountReplies(ctx, m.ThreadID)
		if err == nil {
			if _, err := s.Store.Update(ctx, m.ReplyTo, func(p *model.Message) error {
				p.ReplyCount = int(n)
				return nil
			}); err != nil {
				logger.Warn("reply_count update failed", zap.String("parent", m.ReplyTo), zap.Error(err))
			}
		}
	}

	s.indexUpsert(m)
	metrics.Ok(metrics.MessageOps, "send")
	return m, nil
}

// React 后写覆盖前写：同一用户恒至多一条表态
func (s *MessageService) React(ctx context.Context, messageID, userID, emoji string) (*model.Message, error) {
	if emoji == "" {
		return nil, errs.ErrValidation.WrapMsg("emoji is required")
	}
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		if m.Deleted {
			return errs.ErrNotFound.WrapMsg("message is deleted", "id", m.ID)
		}
		m.React(userID, emoji, now)
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "react")
		return nil, err
	}
	metrics.Ok(metrics.MessageOps, "react")
	return m, nil
}

// Unreact 无表态时为 no-op
func (s *MessageService) Unreact(ctx context.Context, messageID, userID string) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		m.Unreact(userID, now)
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "unreact")
		return nil, err
	}
	metrics.Ok(metrics.MessageOps, "unreact")
	return m, nil
}

// MarkDelivered 幂等回执登记
func (s *MessageService) MarkDelivered(ctx context.Context, messageID, userID string) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		m.MarkDelivered(userID, now)
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "mark_delivered")
		return nil, err
	}
	metrics.Ok(metrics.MessageOps, "mark_delivered")
	return m, nil
}

// MarkRead 幂等；聚合层面 read 蕴含 delivered
func (s *MessageService) MarkRead(ctx context.Context, messageID, userID string) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		m.MarkRead(userID, now)
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "mark_read")
		return nil, err
	}
	metrics.Ok(metrics.MessageOps, "mark_read")
	return m, nil
}

// Edit 已删除的消息不可编辑（NotFound）
func (s *MessageService) Edit(ctx context.Context, messageID, editorID, newContent string) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		return m.ApplyEdit(editorID, newContent, now)
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "edit")
		return nil, err
	}
	s.indexUpsert(m)
	metrics.Ok(metrics.MessageOps, "edit")
	return m, nil
}

// Delete 软删除；审计保留，默认读取与检索路径排除
func (s *MessageService) Delete(ctx context.Context, messageID, actorID string) (*model.Message, error) {
	now := time.Now().UnixMilli()
	m, err := s.Store.Update(ctx, messageID, func(m *model.Message) error {
		m.SoftDelete(actorID, now)
		return nil
	})
	if err != nil {
		metrics.Fail(metrics.MessageOps, "delete")
		return nil, err
	}
	s.indexDelete(messageID)
	metrics.Ok(metrics.MessageOps, "delete")
	return m, nil
}

func (s *MessageService) Get(ctx context.Context, messageID string) (*model.Message, error) {
	m, err := s.Store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, errs.ErrNotFound.WrapMsg("message is deleted", "id", messageID)
	}
	return m, nil
}

// List 时间序分页；默认排除已删除与已归档
func (s *MessageService) List(ctx context.Context, f store.ListFilter) ([]*model.Message, error) {
	return s.Store.List(ctx, f)
}
