package http

import (
	"net/http"

	"github.com/dkeye/squadlink/internal/adapters/session"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/gin-gonic/gin"
)

// mountDev registers login and graph seeding shortcuts. Production identity
// comes from the main application writing the same session cookie.
func mountDev(g *gin.RouterGroup, d Deps) {
	g.POST("/login", func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "userId is required")
			return
		}
		user, err := domain.ParseUserID(req.UserID)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := session.Login(c, user); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": user})
	})

	g.POST("/logout", func(c *gin.Context) {
		if err := session.Logout(c); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	if d.Seeder == nil {
		return
	}
	g.POST("/relationships", func(c *gin.Context) {
		var req struct {
			ID     string                `json:"id"`
			Kind   domain.RelationKind   `json:"kind"`
			UserA  domain.UserID         `json:"userA"`
			UserB  domain.UserID         `json:"userB"`
			Status domain.RelationStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || req.UserA == "" || req.UserB == "" {
			badRequest(c, "id, userA and userB are required")
			return
		}
		if req.Status == "" {
			req.Status = domain.StatusAccepted
		}
		var rel domain.Relationship
		if req.Kind == domain.KindDirect {
			rel = domain.ConnectionRequest{RequestID: req.ID, SenderID: req.UserA, ReceiverID: req.UserB, State: req.Status}
		} else {
			rel = domain.MatchConnection{MatchID: req.ID, RequesterID: req.UserA, AccepterID: req.UserB, State: req.Status}
		}
		if err := d.Seeder.PutRelationship(c.Request.Context(), rel); err != nil {
			abortWithError(c, err)
			return
		}
		if d.Gateway != nil {
			d.Gateway.NotifyRelationshipChanged(rel, relationshipChange(req.Status))
		}
		c.JSON(http.StatusOK, gin.H{"id": rel.ID(), "kind": rel.Kind(), "status": rel.Status()})
	})
}

// A pending edge is new; any other status is a response to one.
func relationshipChange(status domain.RelationStatus) app.RelationshipChange {
	if status == domain.StatusPending {
		return app.RelationshipCreated
	}
	return app.RelationshipUpdated
}
