package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/repository"
)

// BankHandler 银行参考数据处理器
type BankHandler struct {
	banks  repository.BankRepository
	logger *logrus.Logger
}

// NewBankHandler 创建银行参考数据处理器
func NewBankHandler(banks repository.BankRepository, logger *logrus.Logger) *BankHandler {
	return &BankHandler{
		banks:  banks,
		logger: logger,
	}
}

// createBankRequest 新增请求，official 缺省为 true
type createBankRequest struct {
	Name     string `json:"name" binding:"required"`
	Package  string `json:"package" binding:"required"`
	Official *bool  `json:"official"`
}

// ListBanks 按名称列出全部参考数据
// GET /api/banks
func (h *BankHandler) ListBanks(c *gin.Context) {
	banks, err := h.banks.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list banks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list banks",
		})
		return
	}
	if banks == nil {
		banks = []domain.BankReference{}
	}

	c.JSON(http.StatusOK, banks)
}

// CreateBank 新增参考数据
// POST /api/banks
func (h *BankHandler) CreateBank(c *gin.Context) {
	var req createBankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "name and package are required",
		})
		return
	}

	name := strings.TrimSpace(req.Name)
	pkg := strings.TrimSpace(req.Package)
	if name == "" || pkg == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "name and package are required",
		})
		return
	}

	bank := &domain.BankReference{
		Name:     name,
		Package:  pkg,
		Official: req.Official == nil || *req.Official,
	}
	if err := h.banks.Create(c.Request.Context(), bank); err != nil {
		h.logger.WithError(err).Error("Failed to create bank")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create bank",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"bank_id": bank.ID,
		"name":    bank.Name,
		"package": bank.Package,
	}).Info("Bank reference created")

	c.JSON(http.StatusCreated, bank)
}

// DeleteBank 删除参考数据
// DELETE /api/banks/:id
func (h *BankHandler) DeleteBank(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid bank id",
		})
		return
	}

	if err := h.banks.Delete(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "bank not found",
			})
			return
		}
		h.logger.WithError(err).Error("Failed to delete bank")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to delete bank",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
