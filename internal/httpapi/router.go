package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wqeqwqeq/opsagent-chat/internal/ai"
	"github.com/wqeqwqeq/opsagent-chat/internal/common"
	"github.com/wqeqwqeq/opsagent-chat/internal/config"
	"github.com/wqeqwqeq/opsagent-chat/internal/history"
	"github.com/wqeqwqeq/opsagent-chat/internal/httpapi/handlers"
	"github.com/wqeqwqeq/opsagent-chat/internal/httpapi/middleware"
)

func NewRouter(cfg *config.Config, mgr *history.Manager) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(mgr, ai.NewRegistry(), cfg.DefaultModel)

	r.GET("/ping", h.Ping)

	api := r.Group("/")
	api.Use(middleware.Identity(cfg.IsLocalTestMode(), cfg.LocalTestClientID, cfg.LocalTestUsername))
	api.GET("/me", h.Me)
	api.GET("/models", h.ListModels)
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations/:id", h.GetConversation)
	api.POST("/conversations/:id/messages", h.SendMessage)
	api.PUT("/conversations/:id/title", h.RenameConversation)
	api.PUT("/conversations/:id/model", h.SetConversationModel)
	api.DELETE("/conversations/:id", h.DeleteConversation)

	return r
}
