package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-analysis/apk-risk-go/internal/service"
)

// Version 服务版本，构建时通过 -ldflags 覆盖
var Version = "1.0.0"

// HealthHandler 健康检查
type HealthHandler struct {
	svc service.AnalysisService
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(svc service.AnalysisService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health 返回服务状态与当前生效的分析能力
// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	caps := h.svc.Capabilities()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      Version,
		"extractors":   caps.Extractors,
		"similarity":   caps.Similarity,
		"classifier":   caps.Classifier,
		"cache_layers": caps.CacheLayers,
	})
}
