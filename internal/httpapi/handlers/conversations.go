package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wqeqwqeq/opsagent-chat/internal/ai"
	"github.com/wqeqwqeq/opsagent-chat/internal/common"
	"github.com/wqeqwqeq/opsagent-chat/internal/history"
	"github.com/wqeqwqeq/opsagent-chat/internal/httpapi/middleware"
)

const newChatTitle = "New chat"

func (h *Handler) storeFail(c *gin.Context, err error, msg string) {
	if errors.Is(err, history.ErrUserIDRequired) {
		// Deployment mistake: scoped storage with no identity in front.
		common.Fail(c, http.StatusInternalServerError, 50003, "user identity required for this storage mode")
		return
	}
	slog.Error(msg, "error", err)
	common.Fail(c, http.StatusInternalServerError, 50001, msg)
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid := middleware.UserID(c)
	entries, err := h.History.List(c.Request.Context(), uid)
	if err != nil {
		h.storeFail(c, err, "failed to list conversations")
		return
	}
	common.OK(c, gin.H{"conversations": entries})
}

type createConversationReq struct {
	Model string `json:"model"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	uid := middleware.UserID(c)

	var req createConversationReq
	_ = c.ShouldBindJSON(&req) // empty body allowed

	model := req.Model
	if model == "" {
		model = h.DefaultModel
	}

	now := time.Now().UTC()
	conv := &history.Conversation{
		Title:        newChatTitle,
		Model:        model,
		Messages:     []history.Message{},
		CreatedAt:    now,
		LastModified: now,
	}
	id := common.NewConversationID()
	if err := h.History.Save(c.Request.Context(), id, conv, uid); err != nil {
		h.storeFail(c, err, "failed to create conversation")
		return
	}
	common.OK(c, gin.H{"id": id, "conversation": conv})
}

func (h *Handler) GetConversation(c *gin.Context) {
	uid := middleware.UserID(c)
	id := c.Param("id")

	conv, err := h.History.Get(c.Request.Context(), id, uid)
	if err != nil {
		h.storeFail(c, err, "failed to load conversation")
		return
	}
	if conv == nil {
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}
	common.OK(c, gin.H{"id": id, "conversation": conv})
}

type sendMessageReq struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage runs one chat turn: append the user message, derive a title
// for brand-new chats, obtain the assistant reply, bump last_modified to
// the reply time, and persist the whole conversation.
func (h *Handler) SendMessage(c *gin.Context) {
	uid := middleware.UserID(c)
	id := c.Param("id")

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	conv, err := h.History.Get(ctx, id, uid)
	if err != nil {
		h.storeFail(c, err, "failed to load conversation")
		return
	}
	if conv == nil {
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}

	conv.Messages = append(conv.Messages, history.Message{
		Role:    history.RoleUser,
		Content: req.Content,
		Time:    time.Now().UTC(),
	})
	if conv.Title == newChatTitle {
		conv.Title = titleFromFirstUserMessage(req.Content)
	}

	provider, err := h.Providers.ForModel(ctx, conv.Model)
	if err != nil {
		slog.Error("no provider for model", "model", conv.Model, "error", err)
		common.Fail(c, http.StatusBadGateway, 50201, "model call failed")
		return
	}
	reply, err := provider.Chat(ctx, providerMessages(conv.Messages))
	if err != nil {
		common.Fail(c, http.StatusBadGateway, 50201, "model call failed")
		return
	}

	replyTime := time.Now().UTC()
	conv.Messages = append(conv.Messages, history.Message{
		Role:    history.RoleAssistant,
		Content: reply,
		Time:    replyTime,
	})
	conv.LastModified = replyTime

	if err := h.History.Save(ctx, id, conv, uid); err != nil {
		h.storeFail(c, err, "failed to save conversation")
		return
	}
	common.OK(c, gin.H{"id": id, "reply": reply, "conversation": conv})
}

type renameConversationReq struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation updates the title without bumping last_modified, so
// renames do not reorder the chat list.
func (h *Handler) RenameConversation(c *gin.Context) {
	uid := middleware.UserID(c)
	id := c.Param("id")

	var req renameConversationReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "title required")
		return
	}

	ctx := c.Request.Context()
	conv, err := h.History.Get(ctx, id, uid)
	if err != nil {
		h.storeFail(c, err, "failed to load conversation")
		return
	}
	if conv == nil {
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}

	conv.Title = strings.TrimSpace(req.Title)
	if err := h.History.Save(ctx, id, conv, uid); err != nil {
		h.storeFail(c, err, "failed to save conversation")
		return
	}
	common.OK(c, gin.H{"id": id, "conversation": conv})
}

type setModelReq struct {
	Model string `json:"model" binding:"required"`
}

// SetConversationModel syncs the picker selection into the conversation.
// Like rename, it leaves last_modified alone.
func (h *Handler) SetConversationModel(c *gin.Context) {
	uid := middleware.UserID(c)
	id := c.Param("id")

	var req setModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "model required")
		return
	}

	ctx := c.Request.Context()
	conv, err := h.History.Get(ctx, id, uid)
	if err != nil {
		h.storeFail(c, err, "failed to load conversation")
		return
	}
	if conv == nil {
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		return
	}
	if conv.Model == req.Model {
		common.OK(c, gin.H{"id": id, "conversation": conv})
		return
	}

	conv.Model = req.Model
	if err := h.History.Save(ctx, id, conv, uid); err != nil {
		h.storeFail(c, err, "failed to save conversation")
		return
	}
	common.OK(c, gin.H{"id": id, "conversation": conv})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid := middleware.UserID(c)
	id := c.Param("id")

	if err := h.History.Delete(c.Request.Context(), id, uid); err != nil {
		h.storeFail(c, err, "failed to delete conversation")
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}

// titleFromFirstUserMessage derives a short single-line title, truncated
// to 28 runes with an ellipsis.
func titleFromFirstUserMessage(msg string) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
	if trimmed == "" {
		return newChatTitle
	}
	r := []rune(trimmed)
	if len(r) > 29 {
		return string(r[:28]) + "…"
	}
	return trimmed
}

func providerMessages(msgs []history.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
