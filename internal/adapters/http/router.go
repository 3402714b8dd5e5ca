// Package http wires the gin router: the websocket endpoint, a health
// probe and the token-gated admin surface.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/adapters/signal"
	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
)

func SetupRouter(ctx context.Context, cfg *config.Config, mgr *session.Manager, st store.Store, key *auth.ElevationKey) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	ctl := signal.NewController(mgr, cfg)
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	adm := &adminController{manager: mgr, store: st}
	admin := api.Group("/admin", elevationMiddleware(key))
	admin.POST("/moderation", adm.postModeration)
	admin.GET("/channels", adm.listChannels)
	admin.POST("/channels", adm.createChannel)

	return r
}
