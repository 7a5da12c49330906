package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat/module/chat/model"
	"pulsechat/module/chat/store"
	"pulsechat/tools/errs"
)

// memStore 内存版实体存储，复刻 mongo 仓的 CAS 语义（读-改-版本检查-写，
// 失败重读重试，上限3次）。interleave 在写回前注入竞争写方。
type memStore struct {
	mu         sync.Mutex
	docs       map[string]*model.Message
	interleave func(s *memStore, id string)
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*model.Message{}}
}

func cloneMsg(m *model.Message) *model.Message {
	b, _ := json.Marshal(m)
	var out model.Message
	_ = json.Unmarshal(b, &out)
	return &out
}

func (s *memStore) Insert(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[m.ID]; ok {
		return errs.ErrConflict.WrapMsg("message id already exists", "id", m.ID)
	}
	s.docs[m.ID] = cloneMsg(m)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docs[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	return cloneMsg(m), nil
}

func (s *memStore) Update(ctx context.Context, id string, apply func(*model.Message) error) (*model.Message, error) {
	for attempt := 0; attempt < 3; attempt++ {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		readVer := m.Version
		if err := apply(m); err != nil {
			return nil, err
		}
		m.Version = readVer + 1

		if s.interleave != nil {
			s.interleave(s, id)
		}

		s.mu.Lock()
		cur := s.docs[id]
		if cur.Version != readVer {
			s.mu.Unlock()
			continue // 输了竞争，重读重放
		}
		s.docs[id] = cloneMsg(m)
		s.mu.Unlock()
		return m, nil
	}
	return nil, errs.ErrConflict.WrapMsg("update retries exhausted", "id", id)
}

func (s *memStore) List(_ context.Context, f store.ListFilter) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, m := range s.docs {
		if m.Archived || (m.Deleted && !f.IncludeDeleted) {
			continue
		}
		if f.GroupID != "" && m.GroupID != f.GroupID {
			continue
		}
		if f.ThreadID != "" && m.ThreadID != f.ThreadID {
			continue
		}
		out = append(out, cloneMsg(m))
	}
	return out, nil
}

func (s *memStore) CountReplies(_ context.Context, threadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.docs {
		if m.ThreadID == threadID && !m.Deleted {
			n++
		}
	}
	return n, nil
}

func newSvc() (*MessageService, *memStore) {
	st := newMemStore()
	return NewMessageService(st, IndexPublisher{}), st
}

func TestSendRejectsBadAddressing(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	_, err := svc.Send(ctx, SendInput{SenderID: "alice", Content: "hi"})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))

	_, err = svc.Send(ctx, SendInput{SenderID: "alice", Content: "hi", RecipientID: "bob", GroupID: "g1"})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestSendRejectsOversizedContent(t *testing.T) {
	svc, _ := newSvc()
	_, err := svc.Send(context.Background(), SendInput{
		SenderID: "alice", GroupID: "g1",
		Content: strings.Repeat("x", model.MaxContentLen+1),
	})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestSendThreadDefaultsToParent(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	parent, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "root"})
	require.NoError(t, err)

	reply, err := svc.Send(ctx, SendInput{SenderID: "bob", GroupID: "g1", Content: "re", ReplyTo: parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reply.ThreadID)

	// reply_count 由 thread 重算
	got, err := svc.Store.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReplyCount)
}

func TestSendExplicitThreadKept(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	parent, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "root"})
	require.NoError(t, err)

	reply, err := svc.Send(ctx, SendInput{
		SenderID: "bob", GroupID: "g1", Content: "re",
		ReplyTo: parent.ID, ThreadID: "custom-thread",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom-thread", reply.ThreadID)
}

func TestReactTwiceLatestWins(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "hi"})
	require.NoError(t, err)

	_, err = svc.React(ctx, m.ID, "bob", "👍")
	require.NoError(t, err)
	got, err := svc.React(ctx, m.ID, "bob", "🔥")
	require.NoError(t, err)

	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🔥", got.Reactions[0].Emoji)
	assert.Equal(t, 1, got.ReactionCount)
}

func TestMarkReadIdempotentThroughService(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: "alice", RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	first, err := svc.MarkRead(ctx, m.ID, "bob")
	require.NoError(t, err)
	second, err := svc.MarkRead(ctx, m.ID, "bob")
	require.NoError(t, err)

	assert.Len(t, first.ReadReceipts, 1)
	assert.Len(t, second.ReadReceipts, 1)
	assert.Equal(t, model.StatusRead, second.Status)
}

func TestConcurrentReactsBothPersist(t *testing.T) {
	svc, st := newSvc()
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "hi"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, user := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := svc.React(ctx, m.ID, u, "👍")
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	got, err := st.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions, 2)
	assert.Equal(t, 2, got.ReactionCount)
}

func TestConflictSurfacedWhenRetriesExhausted(t *testing.T) {
	svc, st := newSvc()
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "hi"})
	require.NoError(t, err)

	// 每次写回前都有竞争写方抢先提交：调用方注定在3次重试内失败
	st.interleave = func(s *memStore, id string) {
		s.mu.Lock()
		s.docs[id].Version++
		s.mu.Unlock()
	}

	_, err = svc.React(ctx, m.ID, "bob", "👍")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrConflict))
}

func TestEditDeletedMessageNotFound(t *testing.T) {
	svc, _ := newSvc()
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{SenderID: "alice", GroupID: "g1", Content: "hi"})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, m.ID, "alice")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, m.ID, "alice", "new text")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrNotFound))

	_, err = svc.Get(ctx, m.ID)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrNotFound))
}
