package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
)

// elevationMiddleware admits only bearers of a live elevation token
// carrying a privileged role. Tokens die with the process key.
func elevationMiddleware(key *auth.ElevationKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := key.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !claims.Role.Privileged() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}

type adminController struct {
	manager *session.Manager
	store   store.Store
}

type moderationRequest struct {
	UserID domain.UserID         `json:"user_id" binding:"required"`
	Kind   domain.ModerationKind `json:"kind" binding:"required"`
	Reason string                `json:"reason"`
}

func (a *adminController) postModeration(c *gin.Context) {
	var req moderationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Kind {
	case domain.ModerationKick, domain.ModerationBan, domain.ModerationMute:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown moderation kind"})
		return
	}

	issuer := domain.UserID(c.GetString("admin_subject"))
	action := domain.NewModerationAction(req.UserID, req.Kind, req.Reason, issuer)
	if err := a.manager.ApplyModeration(c.Request.Context(), action); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(req.UserID)).Msg("apply moderation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "moderation failed"})
		return
	}
	c.JSON(http.StatusOK, action)
}

func (a *adminController) listChannels(c *gin.Context) {
	channels, err := a.store.Channels().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

type channelRequest struct {
	Name     string             `json:"name" binding:"required"`
	Kind     domain.ChannelKind `json:"kind" binding:"required"`
	ParentID domain.ChannelID   `json:"parent_id"`
	Position int                `json:"position"`
	FeedURL  string             `json:"feed_url"`
}

func (a *adminController) createChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Kind {
	case domain.ChannelText, domain.ChannelVoice, domain.ChannelFeed, domain.ChannelFile:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel kind"})
		return
	}
	if req.Kind == domain.ChannelFeed && req.FeedURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed channels need feed_url"})
		return
	}

	channel := domain.NewChannel(req.Name, req.Kind)
	channel.ParentID = req.ParentID
	channel.Position = req.Position
	channel.FeedURL = req.FeedURL
	if err := a.store.Channels().Create(c.Request.Context(), channel); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, channel)
}
