package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	chatmodel "pulsechat/module/chat/model"
	chatservice "pulsechat/module/chat/service"
	chatstore "pulsechat/module/chat/store"
	roommodel "pulsechat/module/room/model"
	roomservice "pulsechat/module/room/service"
	roomstore "pulsechat/module/room/store"
	"pulsechat/module/search"
	"pulsechat/service/storage"
	"pulsechat/tools/errs"
)

// —— messages —— //

type sendMessageReq struct {
	SenderID    string               `json:"sender_id" binding:"required"`
	RecipientID string               `json:"recipient_id"`
	GroupID     string               `json:"group_id"`
	Content     string               `json:"content"`
	Media       *chatmodel.MediaInfo `json:"media"`
	ReplyTo     string               `json:"reply_to"`
	ThreadID    string               `json:"thread_id"`
	Tags        []string             `json:"tags"`
}

func (d Deps) sendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.Send(c.Request.Context(), chatservice.SendInput{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		GroupID:     req.GroupID,
		Content:     req.Content,
		Media:       req.Media,
		ReplyTo:     req.ReplyTo,
		ThreadID:    req.ThreadID,
		Tags:        req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (d Deps) listMessages(c *gin.Context) {
	f := chatstore.ListFilter{
		GroupID:     c.Query("group_id"),
		RecipientID: c.Query("recipient_id"),
		SenderID:    c.Query("sender_id"),
		ThreadID:    c.Query("thread_id"),
		Skip:        qInt64(c, "skip"),
		Limit:       qInt64(c, "limit"),
		BeforeMS:    qInt64(c, "before_ms"),
		Preview:     c.Query("preview") != "false",
	}
	out, err := d.Messages.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (d Deps) getMessage(c *gin.Context) {
	m, err := d.Messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type editMessageReq struct {
	UserID  string `json:"user_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (d Deps) editMessage(c *gin.Context) {
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.Edit(c.Request.Context(), c.Param("id"), req.UserID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type userReq struct {
	UserID string `json:"user_id" binding:"required"`
}

func (d Deps) deleteMessage(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.Delete(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type reactReq struct {
	UserID string `json:"user_id" binding:"required"`
	Emoji  string `json:"emoji" binding:"required"`
}

func (d Deps) react(c *gin.Context) {
	var req reactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.React(c.Request.Context(), c.Param("id"), req.UserID, req.Emoji)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (d Deps) unreact(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.Unreact(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (d Deps) markDelivered(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.MarkDelivered(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (d Deps) markRead(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	m, err := d.Messages.MarkRead(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (d Deps) searchMessages(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		fail(c, errs.ErrValidation.WrapMsg("q is required"))
		return
	}
	out, err := d.Search.Messages(c.Request.Context(), search.Query{
		Text:    q,
		GroupID: c.Query("group_id"),
		Skip:    qInt64(c, "skip"),
		Limit:   qInt64(c, "limit"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// —— rooms —— //

type createRoomReq struct {
	GroupID   string               `json:"group_id" binding:"required"`
	CreatorID string               `json:"creator_id" binding:"required"`
	Settings  roomservice.Settings `json:"settings"`
}

func (d Deps) createRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Create(c.Request.Context(), req.GroupID, req.CreatorID, req.Settings)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (d Deps) listRooms(c *gin.Context) {
	out, err := d.Rooms.List(c.Request.Context(), roomstore.ListFilter{
		GroupID: c.Query("group_id"),
		Status:  roommodel.RoomStatus(c.Query("status")),
		Skip:    qInt64(c, "skip"),
		Limit:   qInt64(c, "limit"),
		Preview: c.Query("preview") != "false",
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (d Deps) getRoom(c *gin.Context) {
	r, err := d.Rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) connectRoom(c *gin.Context) {
	r, err := d.Rooms.Connect(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) startRoom(c *gin.Context) {
	r, err := d.Rooms.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) endRoom(c *gin.Context) {
	r, err := d.Rooms.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type failRoomReq struct {
	Reason string `json:"reason" binding:"required"`
}

func (d Deps) failRoom(c *gin.Context) {
	var req failRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type joinRoomReq struct {
	UserID     string         `json:"user_id" binding:"required"`
	ClientData map[string]any `json:"client_data"`
}

func (d Deps) joinRoom(c *gin.Context) {
	var req joinRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Join(c.Request.Context(), c.Param("id"), req.UserID, req.ClientData)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) leaveRoom(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Leave(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type setStatusReq struct {
	UserID    string         `json:"user_id" binding:"required"`
	Status    string         `json:"status" binding:"required"`
	AudioData map[string]any `json:"audio_data"`
}

func (d Deps) setParticipantStatus(c *gin.Context) {
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.SetParticipantStatus(c.Request.Context(), c.Param("id"),
		req.UserID, roommodel.ParticipantStatus(req.Status), req.AudioData)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type roomChatReq struct {
	UserID  string `json:"user_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (d Deps) postRoomChat(c *gin.Context) {
	var req roomChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.PostChat(c.Request.Context(), c.Param("id"), req.UserID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type banReq struct {
	TargetID string `json:"target_id" binding:"required"`
	ByID     string `json:"by_id" binding:"required"`
	Reason   string `json:"reason"`
}

func (d Deps) banUser(c *gin.Context) {
	var req banReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Ban(c.Request.Context(), c.Param("id"), req.TargetID, req.ByID, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type unbanReq struct {
	TargetID string `json:"target_id" binding:"required"`
	ByID     string `json:"by_id" binding:"required"`
}

func (d Deps) unbanUser(c *gin.Context) {
	var req unbanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Unban(c.Request.Context(), c.Param("id"), req.TargetID, req.ByID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) addModerator(c *gin.Context) {
	var req unbanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.AddModerator(c.Request.Context(), c.Param("id"), req.TargetID, req.ByID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reportReq struct {
	ReporterID string `json:"reporter_id" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	Reason     string `json:"reason"`
}

func (d Deps) reportIncident(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.Report(c.Request.Context(), c.Param("id"), req.ReporterID, req.TargetID, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type resolveReq struct {
	ByID       string `json:"by_id" binding:"required"`
	Resolution string `json:"resolution" binding:"required"`
}

func (d Deps) resolveReport(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrValidation.WrapMsg(err.Error()))
		return
	}
	r, err := d.Rooms.ResolveReport(c.Request.Context(), c.Param("id"),
		c.Param("reportId"), req.ByID, roommodel.ReportResolution(req.Resolution))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (d Deps) lookupPresence(c *gin.Context) {
	platform, present, err := storage.PresenceLookup(c.Request.Context(),
		c.Param("id"), c.Param("userId"))
	if err != nil {
		fail(c, errs.ErrStoreUnavailable.WrapMsg(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": present, "platform": platform})
}

// mediaToken 音频接入凭证；同一凭证在有效期内对全部房间共用
func (d Deps) mediaToken(c *gin.Context) {
	if d.MediaCred == nil {
		fail(c, errs.ErrStoreUnavailable.WrapMsg("media credentials not configured"))
		return
	}
	if _, err := d.Rooms.Get(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	token, err := d.MediaCred.Get(c.Request.Context())
	if err != nil {
		fail(c, errs.ErrStoreUnavailable.WrapMsg(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (d Deps) searchRooms(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		fail(c, errs.ErrValidation.WrapMsg("q is required"))
		return
	}
	out, err := d.Search.Rooms(c.Request.Context(), search.Query{
		Text:    q,
		GroupID: c.Query("group_id"),
		Skip:    qInt64(c, "skip"),
		Limit:   qInt64(c, "limit"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// —— maintenance —— //

func (d Deps) runMaintenance(c *gin.Context) {
	rep := d.Job.RunCycle(c.Request.Context())
	c.JSON(http.StatusOK, rep)
}

func qInt64(c *gin.Context, key string) int64 {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
