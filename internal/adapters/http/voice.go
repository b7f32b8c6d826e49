package http

import (
	"net/http"
	"strconv"

	"github.com/dkeye/squadlink/internal/adapters/session"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/gin-gonic/gin"
)

type voiceHandlers struct {
	voice *app.VoiceManager
	notes NotificationLister
}

// conversationRequest accepts the older connectionId name as well.
type conversationRequest struct {
	ConversationID string `json:"conversationId"`
	ConnectionID   string `json:"connectionId"`
	IsMuted        *bool  `json:"isMuted"`
}

func (r conversationRequest) conversation() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ConnectionID
}

func bindConversation(c *gin.Context) (conversationRequest, bool) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.conversation() == "" {
		badRequest(c, "conversationId is required")
		return req, false
	}
	return req, true
}

func (h *voiceHandlers) join(c *gin.Context) {
	req, ok := bindConversation(c)
	if !ok {
		return
	}
	res, err := h.voice.Join(c.Request.Context(), session.UserFrom(c), req.conversation())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *voiceHandlers) leave(c *gin.Context) {
	req, ok := bindConversation(c)
	if !ok {
		return
	}
	if err := h.voice.Leave(c.Request.Context(), session.UserFrom(c), req.conversation()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *voiceHandlers) mute(c *gin.Context) {
	req, ok := bindConversation(c)
	if !ok {
		return
	}
	if req.IsMuted == nil {
		badRequest(c, "isMuted is required")
		return
	}
	p, all, err := h.voice.SetMuted(c.Request.Context(), session.UserFrom(c), req.conversation(), *req.IsMuted)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": p, "participants": all})
}

func (h *voiceHandlers) channel(c *gin.Context) {
	ch, parts, err := h.voice.Channel(c.Request.Context(), session.UserFrom(c), c.Param("conversationId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch, "participants": parts})
}

func (h *voiceHandlers) notifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.notes.Notifications(c.Request.Context(), session.UserFrom(c), unread, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}
