package risk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
)

const permPrefix = "android.permission."

// 规则涉及的单个权限
const (
	PermAccessibility = permPrefix + "BIND_ACCESSIBILITY_SERVICE"
	PermOverlay       = permPrefix + "SYSTEM_ALERT_WINDOW"
)

// DangerousPermissions 高危权限集合
var DangerousPermissions = map[string]struct{}{
	permPrefix + "READ_SMS":                   {},
	permPrefix + "RECEIVE_SMS":                {},
	permPrefix + "SEND_SMS":                   {},
	permPrefix + "READ_CONTACTS":              {},
	permPrefix + "WRITE_CONTACTS":             {},
	permPrefix + "CALL_PHONE":                 {},
	permPrefix + "READ_CALL_LOG":              {},
	permPrefix + "WRITE_CALL_LOG":             {},
	permPrefix + "RECORD_AUDIO":               {},
	permPrefix + "READ_PHONE_STATE":           {},
	permPrefix + "SYSTEM_ALERT_WINDOW":        {},
	permPrefix + "QUERY_ALL_PACKAGES":         {},
	permPrefix + "REQUEST_INSTALL_PACKAGES":   {},
	permPrefix + "BIND_ACCESSIBILITY_SERVICE": {},
	permPrefix + "PACKAGE_USAGE_STATS":        {},
}

// SMSPermissions 可用于截获验证码的短信权限
var SMSPermissions = []string{
	permPrefix + "READ_SMS",
	permPrefix + "RECEIVE_SMS",
	permPrefix + "SEND_SMS",
}

// lowSimilarityThreshold 包名前缀像银行但名称相似度低于该值时加分
const lowSimilarityThreshold = 60.0

// Input 规则求值的上下文，每次分析计算一次
type Input struct {
	Features     *domain.FeatureSet
	Dangerous    []string // 已排序
	BankPackages []string
	Similarity   float64 // 应用名与官方银行名称的相似度
}

// Rule 评分规则
// Points 返回原始分值，0 表示未命中；Cap 为 0 表示不封顶
type Rule struct {
	Code   string
	Cap    float64
	Points func(in *Input) float64
	Detail func(in *Input, points float64) string
}

// BuiltinRules 内置规则表，按顺序求值
func BuiltinRules() []Rule {
	return []Rule{
		{
			Code: domain.ReasonDangerousPermissions,
			Cap:  40,
			Points: func(in *Input) float64 {
				return 5 * float64(len(in.Dangerous))
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Requests %d dangerous permissions: %s (+%s)",
					len(in.Dangerous), strings.Join(in.Dangerous, ", "), formatPoints(points))
			},
		},
		{
			Code: domain.ReasonEmbeddedURLs,
			Cap:  20,
			Points: func(in *Input) float64 {
				return 2 * float64(len(in.Features.URLs))
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Contains %d embedded URL(s) in resources (+%s)",
					len(in.Features.URLs), formatPoints(points))
			},
		},
		{
			Code: domain.ReasonSuspiciousTLDs,
			Points: func(in *Input) float64 {
				return float64(TLDScore(in.Features.URLs))
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("URLs include suspicious TLDs (+%s)", formatPoints(points))
			},
		},
		{
			Code: domain.ReasonPkgNameMismatch,
			Points: func(in *Input) float64 {
				pkg := in.Features.PackageValue()
				if pkg == "" || in.Features.AppNameValue() == "" {
					return 0
				}
				if !hasBankPrefix(pkg, in.BankPackages) || in.Similarity >= lowSimilarityThreshold {
					return 0
				}
				return 15
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Bank-like package prefix but name similarity low (%.1f) (+%s)",
					in.Similarity, formatPoints(points))
			},
		},
		{
			Code: domain.ReasonAccessibility,
			Points: func(in *Input) float64 {
				if in.Features.HasPermission(PermAccessibility) {
					return 15
				}
				return 0
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Requests Accessibility Service (used in overlay/credential theft) (+%s)", formatPoints(points))
			},
		},
		{
			Code: domain.ReasonOverlay,
			Points: func(in *Input) float64 {
				if in.Features.HasPermission(PermOverlay) {
					return 10
				}
				return 0
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Can draw over other apps (overlay attacks) (+%s)", formatPoints(points))
			},
		},
		{
			Code: domain.ReasonOTPCapture,
			Points: func(in *Input) float64 {
				for _, p := range SMSPermissions {
					if in.Features.HasPermission(p) {
						return 10
					}
				}
				return 0
			},
			Detail: func(in *Input, points float64) string {
				return fmt.Sprintf("Requests SMS permissions (OTP capture risk) (+%s)", formatPoints(points))
			},
		},
	}
}

// dangerousPermissions 声明权限与高危集合的交集，去重排序
func dangerousPermissions(perms []string) []string {
	seen := make(map[string]struct{})
	for _, p := range perms {
		if _, ok := DangerousPermissions[p]; ok {
			seen[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// hasBankPrefix 包名是否以某个银行包名的第一段开头
// 只比较第一段，例如 "com.fake" 会匹配 "com.sbi.lotusintouch"
func hasBankPrefix(pkg string, bankPackages []string) bool {
	for _, bp := range bankPackages {
		first := strings.Split(bp, ".")[0]
		if strings.HasPrefix(pkg, first) {
			return true
		}
	}
	return false
}

func formatPoints(points float64) string {
	return strconv.FormatFloat(points, 'f', -1, 64)
}
