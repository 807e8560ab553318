package repository

import (
	"context"
	"errors"

	"github.com/apk-analysis/apk-risk-go/internal/cache"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportRepository 分析报告 Repository，同时作为结果缓存的持久层
type ReportRepository interface {
	cache.Store

	Create(ctx context.Context, result *domain.AnalysisResult) error
	GetByID(ctx context.Context, id uint) (*domain.AnalysisResult, error)
	GetByDigest(ctx context.Context, digest string) (*domain.AnalysisResult, error)
	List(ctx context.Context, limit int) ([]*domain.AnalysisResult, error)
	Count(ctx context.Context) (int64, error)
}

// reportRepo 分析报告 Repository 实现
type reportRepo struct {
	db *gorm.DB
}

// NewReportRepository 创建分析报告 Repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepo{db: db}
}

func (r *reportRepo) Name() string { return "database" }

// Create 写入报告，摘要已存在时不覆盖（先写者胜）
func (r *reportRepo) Create(ctx context.Context, result *domain.AnalysisResult) error {
	report, err := domain.NewAnalysisReport(result)
	if err != nil {
		return err
	}
	report.ID = 0

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest"}},
			DoNothing: true,
		}).
		Create(report).Error
	if err != nil {
		return err
	}

	// 冲突时 report.ID 不可靠，按摘要回填
	var existing domain.AnalysisReport
	if err := r.db.WithContext(ctx).Select("id").Where("digest = ?", result.Digest).First(&existing).Error; err == nil {
		result.ID = existing.ID
	}
	return nil
}

// Put 实现 cache.Store
func (r *reportRepo) Put(ctx context.Context, result *domain.AnalysisResult) error {
	return r.Create(ctx, result)
}

// Get 实现 cache.Store，未找到时返回 cache.ErrNotFound
func (r *reportRepo) Get(ctx context.Context, digest string) (*domain.AnalysisResult, error) {
	result, err := r.GetByDigest(ctx, digest)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cache.ErrNotFound
	}
	return result, err
}

// GetByID 根据 ID 查询报告
func (r *reportRepo) GetByID(ctx context.Context, id uint) (*domain.AnalysisResult, error) {
	var report domain.AnalysisReport
	if err := r.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, err
	}
	return report.ToResult()
}

// GetByDigest 根据 SHA-256 查询报告
func (r *reportRepo) GetByDigest(ctx context.Context, digest string) (*domain.AnalysisResult, error) {
	var report domain.AnalysisReport
	if err := r.db.WithContext(ctx).Where("digest = ?", digest).First(&report).Error; err != nil {
		return nil, err
	}
	return report.ToResult()
}

// List 按创建时间倒序列出报告
func (r *reportRepo) List(ctx context.Context, limit int) ([]*domain.AnalysisResult, error) {
	var reports []domain.AnalysisReport
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&reports).Error
	if err != nil {
		return nil, err
	}

	results := make([]*domain.AnalysisResult, 0, len(reports))
	for i := range reports {
		result, err := reports[i].ToResult()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Count 报告总数
func (r *reportRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.AnalysisReport{}).Count(&count).Error
	return count, err
}
