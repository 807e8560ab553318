package repository

import (
	"context"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"gorm.io/gorm"
)

// BankRepository 银行参考数据 Repository
type BankRepository interface {
	List(ctx context.Context) ([]domain.BankReference, error)
	ListOfficial(ctx context.Context) ([]domain.BankReference, error)
	Create(ctx context.Context, bank *domain.BankReference) error
	Delete(ctx context.Context, id uint) error
	SeedDefaults(ctx context.Context) (int, error)
}

// bankRepo 银行参考数据 Repository 实现
type bankRepo struct {
	db *gorm.DB
}

// NewBankRepository 创建银行参考数据 Repository
func NewBankRepository(db *gorm.DB) BankRepository {
	return &bankRepo{db: db}
}

// List 按名称排序列出全部
func (r *bankRepo) List(ctx context.Context) ([]domain.BankReference, error) {
	var banks []domain.BankReference
	err := r.db.WithContext(ctx).Order("name ASC").Find(&banks).Error
	return banks, err
}

// ListOfficial 只列出官方应用，评分时使用
func (r *bankRepo) ListOfficial(ctx context.Context) ([]domain.BankReference, error) {
	var banks []domain.BankReference
	err := r.db.WithContext(ctx).Where("official = ?", true).Order("name ASC").Find(&banks).Error
	return banks, err
}

// Create 新增参考数据
func (r *bankRepo) Create(ctx context.Context, bank *domain.BankReference) error {
	return r.db.WithContext(ctx).Create(bank).Error
}

// Delete 删除参考数据，不存在时返回 gorm.ErrRecordNotFound
func (r *bankRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&domain.BankReference{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SeedDefaults 表为空时写入内置银行列表，返回写入条数
func (r *bankRepo) SeedDefaults(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.BankReference{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	banks := domain.DefaultBanks()
	if err := r.db.WithContext(ctx).Create(&banks).Error; err != nil {
		return 0, err
	}
	return len(banks), nil
}
