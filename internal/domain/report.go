package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisReport 分析报告表（按内容摘要唯一）
type AnalysisReport struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Digest    string  `gorm:"type:varchar(64);uniqueIndex:uk_digest;not null" json:"sha256"`
	Filename  string  `gorm:"type:varchar(255);not null" json:"filename"`
	SizeBytes int64   `gorm:"not null" json:"size_bytes"`
	Score     float64 `gorm:"not null" json:"score"`
	Verdict   Verdict `gorm:"type:varchar(20);index:idx_verdict;not null" json:"verdict"`

	// 冗余字段，方便查询
	PackageName string `gorm:"type:varchar(255);index:idx_package_name" json:"package_name,omitempty"`
	AppName     string `gorm:"type:varchar(255)" json:"app_name,omitempty"`

	// 完整 JSON 数据
	ReasonsJSON  string `gorm:"type:text" json:"-"`
	FeaturesJSON string `gorm:"type:mediumtext" json:"-"`

	CreatedAt time.Time `gorm:"not null;index:idx_created_at" json:"created_at"`
}

func (AnalysisReport) TableName() string {
	return "analysis_reports"
}

// NewAnalysisReport 将分析结果转换为数据库记录
func NewAnalysisReport(result *AnalysisResult) (*AnalysisReport, error) {
	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return nil, fmt.Errorf("序列化评分依据失败: %w", err)
	}
	features, err := json.Marshal(result.Features)
	if err != nil {
		return nil, fmt.Errorf("序列化特征失败: %w", err)
	}

	return &AnalysisReport{
		ID:           result.ID,
		Digest:       result.Digest,
		Filename:     result.Filename,
		SizeBytes:    result.SizeBytes,
		Score:        result.Score,
		Verdict:      result.Verdict,
		PackageName:  result.Features.PackageValue(),
		AppName:      result.Features.AppNameValue(),
		ReasonsJSON:  string(reasons),
		FeaturesJSON: string(features),
		CreatedAt:    result.CreatedAt,
	}, nil
}

// ToResult 将数据库记录还原为分析结果
func (r *AnalysisReport) ToResult() (*AnalysisResult, error) {
	result := &AnalysisResult{
		ID:        r.ID,
		Digest:    r.Digest,
		Filename:  r.Filename,
		SizeBytes: r.SizeBytes,
		Score:     r.Score,
		Verdict:   r.Verdict,
		Reasons:   []Reason{},
		Features:  NewFeatureSet(""),
		CreatedAt: r.CreatedAt,
	}

	if r.ReasonsJSON != "" {
		if err := json.Unmarshal([]byte(r.ReasonsJSON), &result.Reasons); err != nil {
			return nil, fmt.Errorf("解析评分依据失败: %w", err)
		}
	}
	if r.FeaturesJSON != "" {
		if err := json.Unmarshal([]byte(r.FeaturesJSON), result.Features); err != nil {
			return nil, fmt.Errorf("解析特征失败: %w", err)
		}
	}

	return result, nil
}
