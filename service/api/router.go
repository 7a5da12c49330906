package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chatservice "pulsechat/module/chat/service"
	"pulsechat/module/maintenance"
	roomservice "pulsechat/module/room/service"
	"pulsechat/module/search"
	"pulsechat/service/storage"
	"pulsechat/tools/errs"
)

// Deps 对外薄壳的全部依赖；鉴权/会话校验由上游网关完成，这里不做业务
type Deps struct {
	Messages  *chatservice.MessageService
	Rooms     *roomservice.RoomService
	Search    *search.Index
	Job       *maintenance.Job
	MediaCred *storage.CredentialCache // 媒体接入凭证；未配置则相关端点不可用
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	{
		api.POST("/messages", d.sendMessage)
		api.GET("/messages", d.listMessages)
		api.GET("/messages/:id", d.getMessage)
		api.PUT("/messages/:id", d.editMessage)
		api.DELETE("/messages/:id", d.deleteMessage)
		api.POST("/messages/:id/reactions", d.react)
		api.DELETE("/messages/:id/reactions", d.unreact)
		api.POST("/messages/:id/delivered", d.markDelivered)
		api.POST("/messages/:id/read", d.markRead)
		api.GET("/search/messages", d.searchMessages)

		api.POST("/rooms", d.createRoom)
		api.GET("/rooms", d.listRooms)
		api.GET("/rooms/:id", d.getRoom)
		api.POST("/rooms/:id/connect", d.connectRoom)
		api.POST("/rooms/:id/start", d.startRoom)
		api.POST("/rooms/:id/end", d.endRoom)
		api.POST("/rooms/:id/fail", d.failRoom)
		api.POST("/rooms/:id/join", d.joinRoom)
		api.POST("/rooms/:id/leave", d.leaveRoom)
		api.POST("/rooms/:id/status", d.setParticipantStatus)
		api.POST("/rooms/:id/chat", d.postRoomChat)
		api.POST("/rooms/:id/bans", d.banUser)
		api.DELETE("/rooms/:id/bans", d.unbanUser)
		api.POST("/rooms/:id/moderators", d.addModerator)
		api.POST("/rooms/:id/reports", d.reportIncident)
		api.POST("/rooms/:id/reports/:reportId/resolve", d.resolveReport)
		api.GET("/rooms/:id/presence/:userId", d.lookupPresence)
		api.GET("/rooms/:id/media-token", d.mediaToken)
		api.GET("/search/rooms", d.searchRooms)
	}

	admin := r.Group("/admin")
	{
		// 运维手工触发一轮维护；常规触发走调度器
		admin.POST("/maintenance/run", d.runMaintenance)
	}

	return r
}

// fail 错误码→HTTP 状态映射
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsCode(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errs.IsCode(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errs.IsCode(err, errs.ErrConflict):
		status = http.StatusConflict
	case errs.IsCode(err, errs.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errs.IsCode(err, errs.ErrCapacityExceeded):
		status = http.StatusConflict
	case errs.IsCode(err, errs.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
