package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 200
)

// ReportReader 报告查询能力，repository.ReportRepository 实现该接口
type ReportReader interface {
	GetByID(ctx context.Context, id uint) (*domain.AnalysisResult, error)
	GetByDigest(ctx context.Context, digest string) (*domain.AnalysisResult, error)
	List(ctx context.Context, limit int) ([]*domain.AnalysisResult, error)
}

// ReportHandler 报告处理器
type ReportHandler struct {
	reports ReportReader
	logger  *logrus.Logger
}

// NewReportHandler 创建报告处理器
func NewReportHandler(reports ReportReader, logger *logrus.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

// ListReports 最近的报告，按时间倒序
// GET /api/reports?limit=50
func (h *ReportHandler) ListReports(c *gin.Context) {
	limit := defaultReportLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReportLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be an integer between 1 and 200",
			})
			return
		}
		limit = n
	}

	reports, err := h.reports.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list reports",
		})
		return
	}

	c.JSON(http.StatusOK, reports)
}

// GetReport 按 ID 查询报告
// GET /api/reports/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid report id",
		})
		return
	}

	result, err := h.reports.GetByID(c.Request.Context(), uint(id))
	h.respond(c, result, err)
}

// GetReportByDigest 按 SHA-256 查询报告
// GET /api/reports/sha/:sha256
func (h *ReportHandler) GetReportByDigest(c *gin.Context) {
	result, err := h.reports.GetByDigest(c.Request.Context(), c.Param("sha256"))
	h.respond(c, result, err)
}

func (h *ReportHandler) respond(c *gin.Context, result *domain.AnalysisResult, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "report not found",
		})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get report")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get report",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
