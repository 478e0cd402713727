package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// ConversationHandler 会话 API 处理器
type ConversationHandler struct {
	conversations *usecase.ConversationUseCase
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(uc *usecase.ConversationUseCase) *ConversationHandler {
	return &ConversationHandler{conversations: uc}
}

type createConversationRequest struct {
	Title        string `json:"title"`
	AIModelID    uint   `json:"ai_model_id"`
	SystemPrompt string `json:"system_prompt"`
}

type updateConversationRequest struct {
	Title      *string `json:"title"`
	IsArchived *bool   `json:"is_archived"`
	IsFavorite *bool   `json:"is_favorite"`
}

// List GET /api/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	list, err := h.conversations.List(c.Request.Context(), UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Show GET /api/conversations/:id
func (h *ConversationHandler) Show(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	conv, err := h.conversations.Get(c.Request.Context(), UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Create POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	conv, err := h.conversations.Create(c.Request.Context(), UserID(c), usecase.CreateConversationInput{
		Title:        req.Title,
		AIModelID:    req.AIModelID,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// Update PUT /api/conversations/:id
func (h *ConversationHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	conv, err := h.conversations.Update(c.Request.Context(), UserID(c), id, entity.ConversationPatch{
		Title:      req.Title,
		IsArchived: req.IsArchived,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Delete DELETE /api/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.conversations.Delete(c.Request.Context(), UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}
