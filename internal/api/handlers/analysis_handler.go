package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/queue"
	"github.com/apk-analysis/apk-risk-go/internal/service"
	"github.com/apk-analysis/apk-risk-go/internal/staticanalysis"
)

// 允许的上传类型
var allowedContentTypes = map[string]bool{
	"application/vnd.android.package-archive": true,
	"application/octet-stream":                true,
}

// JobPublisher 发布异步分析任务，*queue.Producer 实现该接口
type JobPublisher interface {
	PublishJob(ctx context.Context, msg *queue.AnalysisMessage) error
}

// ErrorRecorder 记录分析失败类别
type ErrorRecorder interface {
	RecordAnalysisError(kind string)
}

// AnalysisHandler 上传分析处理器
type AnalysisHandler struct {
	svc       service.AnalysisService
	publisher JobPublisher // 为 nil 时异步接口返回 503
	stageDir  string
	maxUpload int64
	errors    ErrorRecorder
	logger    *logrus.Logger
}

// NewAnalysisHandler 创建上传分析处理器
func NewAnalysisHandler(svc service.AnalysisService, publisher JobPublisher, stageDir string, maxUpload int64, recorder ErrorRecorder, logger *logrus.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		svc:       svc,
		publisher: publisher,
		stageDir:  stageDir,
		maxUpload: maxUpload,
		errors:    recorder,
		logger:    logger,
	}
}

// Analyze 同步分析上传的 APK
// POST /api/analyze (multipart: file)
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	filename, data, ok := h.readUpload(c)
	if !ok {
		return
	}

	result, err := h.svc.Analyze(c.Request.Context(), filename, data)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AnalyzeAsync 暂存样本并投递到队列
// POST /api/analyze/async (multipart: file)
func (h *AnalysisHandler) AnalyzeAsync(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "async analysis is disabled",
		})
		return
	}

	filename, data, ok := h.readUpload(c)
	if !ok {
		return
	}

	jobID := uuid.NewString()
	samplePath, err := h.stage(jobID, data)
	if err != nil {
		h.logger.WithError(err).Error("Failed to stage sample")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to stage sample",
		})
		return
	}

	err = h.publisher.PublishJob(c.Request.Context(), &queue.AnalysisMessage{
		JobID:      jobID,
		Filename:   filename,
		SamplePath: samplePath,
	})
	if err != nil {
		os.Remove(samplePath)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "failed to enqueue analysis job",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "queued",
	})
}

// readUpload 读取并校验上传文件，失败时已写入响应
func (h *AnalysisHandler) readUpload(c *gin.Context) (string, []byte, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing multipart field \"file\"",
		})
		return "", nil, false
	}

	contentType := mediaType(file)
	if !allowedContentTypes[contentType] {
		h.recordError("bad_content_type")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported content type: %q", contentType),
		})
		return "", nil, false
	}

	if h.maxUpload > 0 && file.Size > h.maxUpload {
		h.recordError("too_large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file too large",
		})
		return "", nil, false
	}

	src, err := file.Open()
	if err != nil {
		h.logger.WithError(err).Error("Failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to read upload",
		})
		return "", nil, false
	}
	defer src.Close()

	var reader io.Reader = src
	if h.maxUpload > 0 {
		reader = io.LimitReader(src, h.maxUpload+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to read upload",
		})
		return "", nil, false
	}

	return safeFilename(file.Filename), data, true
}

// respondError 将分析错误映射为 HTTP 状态码
func (h *AnalysisHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, staticanalysis.ErrTooLarge):
		h.recordError("too_large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
	case errors.Is(err, staticanalysis.ErrInvalidArchive):
		h.recordError("invalid_archive")
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is not a valid APK/ZIP archive"})
	default:
		h.recordError("internal")
		h.logger.WithError(err).Error("Analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
	}
}

func (h *AnalysisHandler) recordError(kind string) {
	if h.errors != nil {
		h.errors.RecordAnalysisError(kind)
	}
}

// stage 将样本写入暂存目录
func (h *AnalysisHandler) stage(jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(h.stageDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(h.stageDir, jobID+".apk")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func mediaType(file *multipart.FileHeader) string {
	ct := file.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// safeFilename 去掉客户端提供的路径部分
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.apk"
	}
	return name
}
