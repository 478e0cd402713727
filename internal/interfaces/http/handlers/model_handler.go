package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
)

// ModelHandler 模型目录处理器
type ModelHandler struct {
	catalog repository.ModelCatalog
}

// NewModelHandler 创建模型目录处理器
func NewModelHandler(catalog repository.ModelCatalog) *ModelHandler {
	return &ModelHandler{catalog: catalog}
}

// List GET /api/ai-models
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}
