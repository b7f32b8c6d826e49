package http

import (
	"net/http"

	"github.com/dkeye/squadlink/internal/adapters/session"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/gin-gonic/gin"
)

type groupHandlers struct {
	groups *app.GroupManager
}

type channelRequest struct {
	ChannelID  string          `json:"channelId"`
	InviteCode string          `json:"inviteCode"`
	Name       string          `json:"name"`
	IsMuted    *bool           `json:"isMuted"`
	UserIDs    []domain.UserID `json:"userIds"`
}

func bindChannel(c *gin.Context, needID bool) (channelRequest, bool) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return req, false
	}
	if needID && req.ChannelID == "" {
		badRequest(c, "channelId is required")
		return req, false
	}
	return req, true
}

func (h *groupHandlers) create(c *gin.Context) {
	req, ok := bindChannel(c, false)
	if !ok {
		return
	}
	ch, err := h.groups.Create(c.Request.Context(), session.UserFrom(c), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *groupHandlers) channels(c *gin.Context) {
	list, err := h.groups.ChannelsOf(c.Request.Context(), session.UserFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": list})
}

func (h *groupHandlers) channel(c *gin.Context) {
	ch, members, err := h.groups.Channel(c.Request.Context(), session.UserFrom(c), c.Param("channelId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch, "members": members})
}

// byCode is public so invite links can be previewed before signing in.
func (h *groupHandlers) byCode(c *gin.Context) {
	preview, err := h.groups.ByInviteCode(c.Request.Context(), c.Param("inviteCode"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *groupHandlers) acceptLink(c *gin.Context) {
	req, ok := bindChannel(c, false)
	if !ok {
		return
	}
	if req.InviteCode == "" {
		badRequest(c, "inviteCode is required")
		return
	}
	ch, err := h.groups.AcceptInviteLink(c.Request.Context(), session.UserFrom(c), req.InviteCode)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *groupHandlers) join(c *gin.Context) {
	req, ok := bindChannel(c, false)
	if !ok {
		return
	}
	if req.ChannelID == "" && req.InviteCode == "" {
		badRequest(c, "channelId or inviteCode is required")
		return
	}
	res, err := h.groups.Join(c.Request.Context(), session.UserFrom(c), req.ChannelID, req.InviteCode)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *groupHandlers) leave(c *gin.Context) {
	req, ok := bindChannel(c, true)
	if !ok {
		return
	}
	if err := h.groups.Leave(c.Request.Context(), session.UserFrom(c), req.ChannelID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *groupHandlers) exit(c *gin.Context) {
	req, ok := bindChannel(c, true)
	if !ok {
		return
	}
	deleted, err := h.groups.Exit(c.Request.Context(), session.UserFrom(c), req.ChannelID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (h *groupHandlers) mute(c *gin.Context) {
	req, ok := bindChannel(c, true)
	if !ok {
		return
	}
	if req.IsMuted == nil {
		badRequest(c, "isMuted is required")
		return
	}
	if err := h.groups.SetMuted(c.Request.Context(), session.UserFrom(c), req.ChannelID, *req.IsMuted); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "isMuted": *req.IsMuted})
}

func (h *groupHandlers) invite(c *gin.Context) {
	req, ok := bindChannel(c, true)
	if !ok {
		return
	}
	if len(req.UserIDs) == 0 {
		badRequest(c, "userIds is required")
		return
	}
	res, err := h.groups.Invite(c.Request.Context(), session.UserFrom(c), req.ChannelID, req.UserIDs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *groupHandlers) invites(c *gin.Context) {
	list, err := h.groups.Invites(c.Request.Context(), session.UserFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": list})
}

func (h *groupHandlers) cancelInvite(c *gin.Context) {
	if err := h.groups.CancelInvite(c.Request.Context(), session.UserFrom(c), c.Param("inviteId")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *groupHandlers) respond(accept bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := h.groups.RespondInvite(c.Request.Context(), session.UserFrom(c), c.Param("inviteId"), accept)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invite": inv})
	}
}

func (h *groupHandlers) deleteChannel(c *gin.Context) {
	if err := h.groups.Delete(c.Request.Context(), session.UserFrom(c), c.Param("channelId")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *groupHandlers) members(c *gin.Context) {
	members, err := h.groups.Members(c.Request.Context(), session.UserFrom(c), c.Param("channelId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *groupHandlers) removeMember(c *gin.Context) {
	target, err := domain.ParseUserID(c.Param("userId"))
	if err != nil {
		badRequest(c, "invalid userId")
		return
	}
	if err := h.groups.RemoveMember(c.Request.Context(), session.UserFrom(c), c.Param("channelId"), target); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
