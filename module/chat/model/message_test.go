package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat/tools/errs"
)

func validMessage() *Message {
	return &Message{
		ID:       "m1",
		SenderID: "alice",
		GroupID:  "g1",
		Content:  "hello",
		Status:   StatusSent,
	}
}

func TestValidateAddressing(t *testing.T) {
	m := validMessage()
	require.NoError(t, m.Validate())

	// 两个都给：拒绝
	m.RecipientID = "bob"
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))

	// 两个都不给：拒绝
	m.RecipientID = ""
	m.GroupID = ""
	err = m.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestValidateContentLength(t *testing.T) {
	m := validMessage()
	m.Content = strings.Repeat("x", MaxContentLen)
	require.NoError(t, m.Validate())

	m.Content = strings.Repeat("x", MaxContentLen+1)
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestValidateMediaOnly(t *testing.T) {
	m := validMessage()
	m.Content = ""
	m.Media = &MediaInfo{URL: "https://cdn/x.ogg", SizeBytes: 1024, MimeType: "audio/ogg", DurationMS: 3000}
	require.NoError(t, m.Validate())
}

func TestReactLatestWins(t *testing.T) {
	m := validMessage()
	m.React("bob", "👍", 100)
	m.React("bob", "🔥", 200)

	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "🔥", m.Reactions[0].Emoji)
	assert.Equal(t, 1, m.ReactionCount)

	// 不同用户互不影响
	m.React("carol", "👍", 300)
	require.Len(t, m.Reactions, 2)
	assert.Equal(t, 2, m.ReactionCount)
}

func TestUnreactNoop(t *testing.T) {
	m := validMessage()
	m.Unreact("nobody", 100)
	assert.Empty(t, m.Reactions)
	assert.Equal(t, 0, m.ReactionCount)

	m.React("bob", "👍", 100)
	m.Unreact("bob", 200)
	assert.Empty(t, m.Reactions)
	assert.Equal(t, 0, m.ReactionCount)
}

func TestMarkReadIdempotent(t *testing.T) {
	m := validMessage()
	require.True(t, m.MarkRead("bob", 100))
	require.False(t, m.MarkRead("bob", 200))

	assert.Len(t, m.ReadReceipts, 1)
	assert.Equal(t, int64(100), m.ReadReceipts[0].AtMS)
	assert.True(t, m.Read)
	// 聚合层面 read 蕴含 delivered
	assert.True(t, m.Delivered)
	assert.Equal(t, StatusRead, m.Status)
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	m := validMessage()
	require.True(t, m.MarkDelivered("bob", 100))
	require.False(t, m.MarkDelivered("bob", 200))

	assert.Len(t, m.DeliveryReceipts, 1)
	assert.True(t, m.Delivered)
	assert.False(t, m.Read)
	assert.Equal(t, StatusDelivered, m.Status)
}

func TestStatusNeverRegresses(t *testing.T) {
	m := validMessage()
	m.MarkRead("bob", 100)
	assert.Equal(t, StatusRead, m.Status)

	// 晚到的 delivered 回执不把状态拉回去
	m.MarkDelivered("carol", 200)
	assert.Equal(t, StatusRead, m.Status)
}

func TestMarkFailedOnlyFromSent(t *testing.T) {
	m := validMessage()
	require.NoError(t, m.MarkFailed())
	assert.Equal(t, StatusFailed, m.Status)

	m2 := validMessage()
	m2.MarkDelivered("bob", 100)
	err := m2.MarkFailed()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))
}

func TestApplyEditKeepsHistory(t *testing.T) {
	m := validMessage()
	require.NoError(t, m.ApplyEdit("alice", "hello world", 100))
	require.NoError(t, m.ApplyEdit("alice", "hello again", 200))

	assert.True(t, m.Edited)
	assert.Equal(t, "hello again", m.Content)
	require.Len(t, m.EditHistory, 2)
	assert.Equal(t, "hello", m.EditHistory[0].Content)
	assert.Equal(t, "hello world", m.EditHistory[1].Content)
}

func TestEditDeletedFails(t *testing.T) {
	m := validMessage()
	m.SoftDelete("alice", 100)
	err := m.ApplyEdit("alice", "nope", 200)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrNotFound))
}

func TestSoftDeleteRetainsAudit(t *testing.T) {
	m := validMessage()
	m.SoftDelete("mod1", 100)
	assert.True(t, m.Deleted)
	assert.Equal(t, "mod1", m.DeletedBy)
	assert.Equal(t, int64(100), m.DeletedAtMS)
	// 内容保留作审计
	assert.Equal(t, "hello", m.Content)
}
