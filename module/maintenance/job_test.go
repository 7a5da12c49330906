package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	chatmodel "pulsechat/module/chat/model"
)

// memArchive 内存版归档存储，记录操作顺序以便校验先复制后打标
type memArchive struct {
	msgs    map[string]*chatmodel.Message
	archive map[string]chatmodel.Message
	ops     []string
}

func newMemArchive() *memArchive {
	return &memArchive{
		msgs:    map[string]*chatmodel.Message{},
		archive: map[string]chatmodel.Message{},
	}
}

func (a *memArchive) FindUnarchived(_ context.Context, beforeMS, limit int64) ([]chatmodel.Message, error) {
	var out []chatmodel.Message
	for _, m := range a.msgs {
		if m.Archived || m.Deleted || m.CreatedAtMS >= beforeMS {
			continue
		}
		out = append(out, *m)
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (a *memArchive) CopyToArchive(_ context.Context, docs []chatmodel.Message) error {
	for _, d := range docs {
		// 重复键视作成功，对齐 InsertMany(ordered=false) 的重跑语义
		if _, dup := a.archive[d.ID]; dup {
			continue
		}
		a.archive[d.ID] = d
		a.ops = append(a.ops, "copy:"+d.ID)
	}
	return nil
}

func (a *memArchive) FlagArchived(_ context.Context, ids []string, nowMS int64) (int64, error) {
	var n int64
	for _, id := range ids {
		m, ok := a.msgs[id]
		if !ok || m.Archived {
			continue
		}
		m.Archived = true
		m.ArchivedAtMS = nowMS
		m.Version++
		a.ops = append(a.ops, "flag:"+id)
		n++
	}
	return n, nil
}

func msgAgedDays(id string, days int) *chatmodel.Message {
	return &chatmodel.Message{
		ID:          id,
		SenderID:    "alice",
		GroupID:     "g1",
		Content:     "hi",
		Status:      chatmodel.StatusSent,
		CreatedAtMS: time.Now().AddDate(0, 0, -days).UnixMilli(),
	}
}

func archiveJob(store ArchiveStore) *Job {
	return &Job{Archive: store, ArchiveHorizon: DefaultArchiveHorizon}
}

func TestArchiveStepCopyThenFlag(t *testing.T) {
	mem := newMemArchive()
	mem.msgs["old"] = msgAgedDays("old", 200)
	mem.msgs["fresh"] = msgAgedDays("fresh", 10)
	deleted := msgAgedDays("gone", 200)
	deleted.Deleted = true
	mem.msgs["gone"] = deleted

	j := archiveJob(mem)
	rep := &Report{StepErrors: map[string]string{}}
	require.NoError(t, j.stepArchive(context.Background(), rep))

	assert.Equal(t, int64(1), rep.Archived)
	_, copied := mem.archive["old"]
	assert.True(t, copied)
	assert.True(t, mem.msgs["old"].Archived)
	assert.NotZero(t, mem.msgs["old"].ArchivedAtMS)
	// 打标抬版本号，让归档前读走的 CAS 写方落败
	assert.Equal(t, int64(1), mem.msgs["old"].Version)

	// 未到期与已删除的都不动
	assert.False(t, mem.msgs["fresh"].Archived)
	_, freshCopied := mem.archive["fresh"]
	assert.False(t, freshCopied)
	assert.False(t, mem.msgs["gone"].Archived)

	// 先复制后打标
	require.Equal(t, []string{"copy:old", "flag:old"}, mem.ops)
}

func TestArchiveStepRerunIdempotent(t *testing.T) {
	mem := newMemArchive()
	mem.msgs["old"] = msgAgedDays("old", 200)

	j := archiveJob(mem)
	rep1 := &Report{StepErrors: map[string]string{}}
	require.NoError(t, j.stepArchive(context.Background(), rep1))
	assert.Equal(t, int64(1), rep1.Archived)

	rep2 := &Report{StepErrors: map[string]string{}}
	require.NoError(t, j.stepArchive(context.Background(), rep2))
	assert.Equal(t, int64(0), rep2.Archived)
	assert.Len(t, mem.archive, 1)
	assert.Equal(t, int64(1), mem.msgs["old"].Version)
}

func TestArchiveStepResumesAfterPartialCopy(t *testing.T) {
	// 上一轮在复制后打标前中断：副本已存在但源未打标
	mem := newMemArchive()
	mem.msgs["old"] = msgAgedDays("old", 200)
	mem.archive["old"] = *mem.msgs["old"]

	j := archiveJob(mem)
	rep := &Report{StepErrors: map[string]string{}}
	require.NoError(t, j.stepArchive(context.Background(), rep))

	assert.Equal(t, int64(1), rep.Archived)
	assert.True(t, mem.msgs["old"].Archived)
	assert.Len(t, mem.archive, 1)
}

func TestFragmentation(t *testing.T) {
	// 空集合视作无碎片
	assert.Equal(t, 1.0, Fragmentation(0, 0))
	assert.Equal(t, 1.0, Fragmentation(-1, 100))

	assert.Equal(t, 1.0, Fragmentation(1000, 1000))
	assert.Equal(t, 2.0, Fragmentation(1000, 2000))
	assert.InDelta(t, 0.5, Fragmentation(2000, 1000), 1e-9)
}

func TestOnlyDuplicateKeys(t *testing.T) {
	assert.False(t, onlyDuplicateKeys(errors.New("network down")))

	dupOnly := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Code: 11000}},
			{WriteError: mongo.WriteError{Code: 11000}},
		},
	}
	assert.True(t, onlyDuplicateKeys(dupOnly))

	mixed := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Code: 11000}},
			{WriteError: mongo.WriteError{Code: 121}}, // schema validation
		},
	}
	assert.False(t, onlyDuplicateKeys(mixed))

	wcFailed := mongo.BulkWriteException{
		WriteErrors:       []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}},
		WriteConcernError: &mongo.WriteConcernError{Code: 64},
	}
	assert.False(t, onlyDuplicateKeys(wcFailed))
}

func TestNewJobDefaults(t *testing.T) {
	j := NewJob(nil, nil)
	assert.NotNil(t, j.Archive)
	assert.Equal(t, DefaultArchiveHorizon, j.ArchiveHorizon)
	assert.Equal(t, DefaultNotifHorizon, j.NotifHorizon)
	assert.Equal(t, DefaultIdleHorizon, j.IdleHorizon)
}
