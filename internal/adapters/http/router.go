package http

import (
	"context"
	"net/http"

	"github.com/dkeye/squadlink/internal/adapters/session"
	"github.com/dkeye/squadlink/internal/adapters/signal"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/dkeye/squadlink/internal/config"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type NotificationLister interface {
	Notifications(ctx context.Context, user domain.UserID, unreadOnly bool, limit int) ([]domain.Notification, error)
}

// RelationshipSeeder writes social graph edges; only the debug-mode dev routes use it.
type RelationshipSeeder interface {
	PutRelationship(ctx context.Context, rel domain.Relationship) error
}

type Deps struct {
	Resolver *session.Resolver
	Signal   *signal.SignalWSController
	Gateway  *app.Gateway
	Voice    *app.VoiceManager
	Groups   *app.GroupManager
	Notes    NotificationLister
	Seeder   RelationshipSeeder
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Debug() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(d.Resolver.Middleware())

	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": d.Gateway.Registry.Stats()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	vh := &voiceHandlers{voice: d.Voice, notes: d.Notes}
	gh := &groupHandlers{groups: d.Groups}

	// public: invite link preview
	api.GET("/group-voice/channel-by-code/:inviteCode", gh.byCode)

	auth := api.Group("", d.Resolver.RequireUser())
	auth.GET("/notifications", vh.notifications)

	voice := auth.Group("/voice")
	voice.GET("/channel/:conversationId", vh.channel)
	voice.POST("/join", vh.join)
	voice.POST("/leave", vh.leave)
	voice.POST("/mute", vh.mute)

	group := auth.Group("/group-voice")
	group.POST("/create", gh.create)
	group.GET("/channels", gh.channels)
	group.GET("/channel/:channelId", gh.channel)
	group.DELETE("/channel/:channelId", gh.deleteChannel)
	group.POST("/accept-invite-link", gh.acceptLink)
	group.POST("/join", gh.join)
	group.POST("/leave", gh.leave)
	group.POST("/exit", gh.exit)
	group.POST("/mute", gh.mute)
	group.POST("/invite", gh.invite)
	group.GET("/invites", gh.invites)
	group.DELETE("/invite/:inviteId", gh.cancelInvite)
	group.POST("/invite/:inviteId/accept", gh.respond(true))
	group.POST("/invite/:inviteId/decline", gh.respond(false))
	group.GET("/:channelId/members", gh.members)
	group.DELETE("/:channelId/member/:userId", gh.removeMember)

	if cfg.Debug() {
		mountDev(api.Group("/dev"), d)
		log.Warn().Str("module", "adapters.http").Msg("dev routes enabled")
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
