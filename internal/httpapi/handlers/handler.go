package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/wqeqwqeq/opsagent-chat/internal/ai"
	"github.com/wqeqwqeq/opsagent-chat/internal/common"
	"github.com/wqeqwqeq/opsagent-chat/internal/history"
	"github.com/wqeqwqeq/opsagent-chat/internal/httpapi/middleware"
)

const defaultModelFallback = "gpt-4o-mini"

type Handler struct {
	History      *history.Manager
	Providers    *ai.Registry
	DefaultModel string
}

func NewHandler(mgr *history.Manager, providers *ai.Registry, defaultModel string) *Handler {
	if providers == nil {
		providers = ai.NewRegistry()
	}
	if defaultModel == "" {
		defaultModel = defaultModelFallback
	}
	return &Handler{History: mgr, Providers: providers, DefaultModel: defaultModel}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) Me(c *gin.Context) {
	common.OK(c, gin.H{
		"user_id":   middleware.UserID(c),
		"user_name": middleware.UserName(c),
		"mode":      string(h.History.Mode()),
	})
}

// ModelsList returns the model identifiers offered in the picker.
func ModelsList() []string {
	return []string{
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4.1",
		"gpt-3.5-turbo",
		"local-llm",
	}
}

func (h *Handler) ListModels(c *gin.Context) {
	common.OK(c, gin.H{"models": ModelsList(), "default": h.DefaultModel})
}
