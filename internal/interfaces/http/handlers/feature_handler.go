package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application/usecase"
)

// FeatureHandler 功能与提示词处理器
type FeatureHandler struct {
	features *usecase.FeatureUseCase
}

// NewFeatureHandler 创建功能处理器
func NewFeatureHandler(uc *usecase.FeatureUseCase) *FeatureHandler {
	return &FeatureHandler{features: uc}
}

type featureRequest struct {
	Title string `json:"title"`
}

type reorderRequest struct {
	IDs []uint `json:"ids"`
}

type promptRequest struct {
	Title         string `json:"title"`
	PromptContent string `json:"prompt_content"`
	Description   string `json:"description"`
}

func (r promptRequest) input() usecase.PromptInput {
	return usecase.PromptInput{Title: r.Title, PromptContent: r.PromptContent, Description: r.Description}
}

// List GET /api/features
func (h *FeatureHandler) List(c *gin.Context) {
	list, err := h.features.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Show GET /api/features/:id
func (h *FeatureHandler) Show(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	f, err := h.features.Show(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Create POST /api/features
func (h *FeatureHandler) Create(c *gin.Context) {
	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	f, err := h.features.Create(c.Request.Context(), UserID(c), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Update PUT /api/features/:id
func (h *FeatureHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	f, err := h.features.Update(c.Request.Context(), UserID(c), id, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Delete DELETE /api/features/:id
func (h *FeatureHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.features.Delete(c.Request.Context(), UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "機能を削除しました"})
}

// Reorder POST /api/features/reorder
func (h *FeatureHandler) Reorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if err := h.features.Reorder(c.Request.Context(), UserID(c), req.IDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "並び順を更新しました"})
}

// CreatePrompt POST /api/features/:id/prompts
func (h *FeatureHandler) CreatePrompt(c *gin.Context) {
	featureID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	p, err := h.features.CreatePrompt(c.Request.Context(), UserID(c), featureID, req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// UpdatePrompt PUT /api/feature-prompts/:id
func (h *FeatureHandler) UpdatePrompt(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	p, err := h.features.UpdatePrompt(c.Request.Context(), UserID(c), id, req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePrompt DELETE /api/feature-prompts/:id
func (h *FeatureHandler) DeletePrompt(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.features.DeletePrompt(c.Request.Context(), UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "プロンプトを削除しました"})
}
