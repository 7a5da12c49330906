package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat/tools/errs"
)

func newRoom(max int) *Room {
	return &Room{
		ID:              "r1",
		GroupID:         "g1",
		CreatorID:       "alice",
		Status:          RoomIdle,
		MaxParticipants: max,
	}
}

func TestValidateCapacityBounds(t *testing.T) {
	r := newRoom(0)
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))

	r.MaxParticipants = 1001
	require.Error(t, r.Validate())

	r.MaxParticipants = 50
	require.NoError(t, r.Validate())
}

func TestStartFromIdle(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.Start(1000))
	assert.Equal(t, RoomLive, r.Status)
	assert.Equal(t, int64(1000), r.StartedAtMS)
}

func TestStartFromEndedFails(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.Start(1000))
	require.NoError(t, r.End(2000))

	err := r.Start(3000)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))
}

func TestConnectingOnlyFromJoining(t *testing.T) {
	r := newRoom(10)
	err := r.MarkConnecting(100)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))

	// 首个参与者进入把房间推到 joining
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	assert.Equal(t, RoomJoining, r.Status)

	require.NoError(t, r.MarkConnecting(200))
	assert.Equal(t, RoomConnecting, r.Status)

	require.NoError(t, r.Start(300))
	assert.Equal(t, RoomLive, r.Status)
}

func TestEndFromIdleFails(t *testing.T) {
	r := newRoom(10)
	err := r.End(1000)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))
}

func TestEndFinalizesMetrics(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.UpsertParticipant("alice", nil, 500))
	require.NoError(t, r.UpsertParticipant("bob", nil, 600))
	require.NoError(t, r.Start(1000))
	require.NoError(t, r.End(61000))

	assert.Equal(t, int64(60000), r.Metrics.TotalDurationMS)
	assert.Equal(t, int64(30000), r.Metrics.AverageSessionDurationMS)
}

func TestEndWithoutParticipantsAverageZero(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.Start(1000))
	require.NoError(t, r.End(5000))
	assert.Equal(t, int64(0), r.Metrics.AverageSessionDurationMS)
}

func TestFailFromAnyNonTerminal(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.Fail("signaling lost", 100))
	assert.Equal(t, RoomError, r.Status)

	// 终态只读
	err := r.Fail("again", 200)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))

	err = r.UpsertParticipant("bob", nil, 300)
	require.Error(t, err)
}

func TestLeaveAfterEndRejected(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	require.NoError(t, r.Start(1000))
	require.NoError(t, r.End(61000))

	// 终态只读：结算后的指标不能再被离场动作改动
	err := r.MarkLeft("a", 70000)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))
	assert.Equal(t, 1, r.CurrentParticipants)

	p, ok := r.Participant("a")
	require.True(t, ok)
	assert.Equal(t, PartConnected, p.Status)
	assert.Zero(t, p.LeftAtMS)
}

func TestLeaveAfterFailRejected(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	require.NoError(t, r.Fail("signaling lost", 200))

	err := r.MarkLeft("a", 300)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))
	assert.Equal(t, 1, r.CurrentParticipants)
}

func TestCurrentParticipantsInvariant(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	require.NoError(t, r.UpsertParticipant("b", nil, 110))
	require.NoError(t, r.UpsertParticipant("c", nil, 120))
	assert.Equal(t, 3, r.CurrentParticipants)

	require.NoError(t, r.MarkLeft("b", 200))
	assert.Equal(t, 2, r.CurrentParticipants)

	// 重进：复用记录，不新增
	require.NoError(t, r.UpsertParticipant("b", nil, 300))
	assert.Equal(t, 3, r.CurrentParticipants)
	assert.Len(t, r.Participants, 3)
	assert.Equal(t, 3, r.Metrics.TotalParticipants)

	p, ok := r.Participant("b")
	require.True(t, ok)
	assert.Equal(t, PartConnected, p.Status)
	assert.Zero(t, p.LeftAtMS)
}

func TestPeakMonotone(t *testing.T) {
	r := newRoom(10)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.UpsertParticipant(fmt.Sprintf("u%d", i), nil, int64(i)))
	}
	assert.Equal(t, 5, r.Metrics.PeakParticipants)

	require.NoError(t, r.MarkLeft("u0", 100))
	require.NoError(t, r.MarkLeft("u1", 110))
	assert.Equal(t, 3, r.CurrentParticipants)
	assert.Equal(t, 5, r.Metrics.PeakParticipants)
}

func TestCapacityExceeded(t *testing.T) {
	r := newRoom(2)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	require.NoError(t, r.UpsertParticipant("b", nil, 110))

	err := r.UpsertParticipant("c", nil, 120)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCapacityExceeded))

	// 有人离开后可进
	require.NoError(t, r.MarkLeft("a", 200))
	require.NoError(t, r.UpsertParticipant("c", nil, 210))
}

func TestRejoinWhenFullOnlyIfSeated(t *testing.T) {
	r := newRoom(2)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))
	require.NoError(t, r.UpsertParticipant("b", nil, 110))

	// 在座用户重复 join 不算新增
	require.NoError(t, r.UpsertParticipant("a", nil, 120))
	assert.Equal(t, 2, r.CurrentParticipants)

	// 已断开的用户重进要重新过容量检查
	require.NoError(t, r.MarkLeft("a", 200))
	require.NoError(t, r.UpsertParticipant("c", nil, 210))
	err := r.UpsertParticipant("a", nil, 220)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCapacityExceeded))
}

func TestSetParticipantStatusSpeaking(t *testing.T) {
	r := newRoom(10)
	require.NoError(t, r.UpsertParticipant("a", nil, 100))

	p, err := r.SetParticipantStatus("a", PartSpeaking, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.LastSpokeAtMS)

	_, err = r.SetParticipantStatus("ghost", PartMuted, 600)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrNotFound))

	_, err = r.SetParticipantStatus("a", "flying", 700)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestChatLogRingBuffer(t *testing.T) {
	r := newRoom(10)
	for i := 0; i < ChatLogCap+20; i++ {
		r.AppendChat(ChatEntry{SenderID: "a", Content: fmt.Sprintf("msg %d", i), AtMS: int64(i)})
	}
	require.Len(t, r.ChatLog, ChatLogCap)
	// 最旧的被逐出
	assert.Equal(t, "msg 20", r.ChatLog[0].Content)
	assert.Equal(t, int64(ChatLogCap+20), r.Metrics.MessageCount)
}

func TestBanBlocksJoin(t *testing.T) {
	r := newRoom(10)
	r.AddBan("troll", "spam", "alice", 100)
	err := r.UpsertParticipant("troll", nil, 200)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))

	r.RemoveBan("troll")
	require.NoError(t, r.UpsertParticipant("troll", nil, 300))
}

func TestReportResolution(t *testing.T) {
	r := newRoom(10)
	r.AddReport(Report{ID: "rep1", ReporterID: "a", TargetID: "b", Reason: "noise"})
	assert.Equal(t, ReportPending, r.Reports[0].Resolution)

	require.NoError(t, r.ResolveReport("rep1", ReportDismissed))
	assert.Equal(t, ReportDismissed, r.Reports[0].Resolution)

	// 已处理的举报不能再改
	err := r.ResolveReport("rep1", ReportResolved)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrInvalidTransition))

	err = r.ResolveReport("missing", ReportResolved)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrNotFound))

	err = r.ResolveReport("rep1", "maybe")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrValidation))
}

func TestModeratorSet(t *testing.T) {
	r := newRoom(10)
	assert.True(t, r.IsModerator("alice")) // creator 恒为主持人
	assert.False(t, r.IsModerator("bob"))

	r.AddModerator("bob")
	r.AddModerator("bob")
	assert.Len(t, r.Moderators, 1)
	assert.True(t, r.IsModerator("bob"))
}
