package domain

import "time"

// Verdict 最终判定
type Verdict string

const (
	VerdictSafe       Verdict = "SAFE"       // 安全
	VerdictSuspicious Verdict = "SUSPICIOUS" // 可疑
	VerdictMalicious  Verdict = "MALICIOUS"  // 恶意
)

// 判定阈值
const (
	MaliciousThreshold  = 70.0
	SuspiciousThreshold = 40.0
)

// VerdictFor 根据最终分数给出判定
func VerdictFor(score float64) Verdict {
	switch {
	case score >= MaliciousThreshold:
		return VerdictMalicious
	case score >= SuspiciousThreshold:
		return VerdictSuspicious
	default:
		return VerdictSafe
	}
}

// 特征来源（提取层级）
const (
	SourceAndroidBinary = "androidbinary"
	SourceAapt2         = "aapt2"
	SourceManifest      = "manifest"
	SourceRaw           = "raw"
)

// FeatureSet 从 APK 中提取的标准化特征
type FeatureSet struct {
	AppName      *string  `json:"app_name"`
	Package      *string  `json:"package"`
	Permissions  []string `json:"permissions"`
	Activities   []string `json:"activities"`
	Receivers    []string `json:"receivers"`
	Services     []string `json:"services"`
	Providers    []string `json:"providers"`
	Files        []string `json:"files"`
	URLs         []string `json:"urls"`
	Domains      []string `json:"domains"`
	Certificates []string `json:"certificates"`
	Packer       string   `json:"packer,omitempty"` // 识别到的加固，仅供参考不计分
	Source       string   `json:"source"`
}

// NewFeatureSet 创建空特征集（所有切片非 nil，序列化为 []）
func NewFeatureSet(source string) *FeatureSet {
	return &FeatureSet{
		Permissions:  []string{},
		Activities:   []string{},
		Receivers:    []string{},
		Services:     []string{},
		Providers:    []string{},
		Files:        []string{},
		URLs:         []string{},
		Domains:      []string{},
		Certificates: []string{},
		Source:       source,
	}
}

// AppNameValue 返回应用名，缺失时为空串
func (f *FeatureSet) AppNameValue() string {
	if f == nil || f.AppName == nil {
		return ""
	}
	return *f.AppName
}

// PackageValue 返回包名，缺失时为空串
func (f *FeatureSet) PackageValue() string {
	if f == nil || f.Package == nil {
		return ""
	}
	return *f.Package
}

// HasPermission 是否声明了指定权限
func (f *FeatureSet) HasPermission(name string) bool {
	for _, p := range f.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Reason 评分依据
type Reason struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// 评分依据代码
const (
	ReasonNameSimilarity       = "name_similarity"
	ReasonDangerousPermissions = "dangerous_permissions"
	ReasonEmbeddedURLs         = "embedded_urls"
	ReasonSuspiciousTLDs       = "suspicious_tlds"
	ReasonPkgNameMismatch      = "pkg_name_mismatch"
	ReasonAccessibility        = "accessibility"
	ReasonOverlay              = "overlay"
	ReasonOTPCapture           = "otp_capture"
	ReasonMLProbability        = "ml_probability"
)

// AnalysisResult 一次分析的完整结果
type AnalysisResult struct {
	ID        uint        `json:"id,omitempty"`
	Digest    string      `json:"sha256"`
	Filename  string      `json:"filename"`
	SizeBytes int64       `json:"size_bytes"`
	Score     float64     `json:"score"`
	Verdict   Verdict     `json:"verdict"`
	Reasons   []Reason    `json:"reasons"`
	Features  *FeatureSet `json:"features"`
	CreatedAt time.Time   `json:"created_at"`
}
