package staticanalysis

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
)

// urlPattern 资源中内嵌 URL 的匹配规则
var urlPattern = regexp.MustCompile(`(?i)https?://[\w./:?=&%#-]+`)

// scannableExtensions 可能携带文本或字节码的条目后缀
var scannableExtensions = []string{".dex", ".arsc", ".xml", ".txt", ".json", ".js"}

// ScanResult 原始扫描结果
type ScanResult struct {
	Files []string
	URLs  []string
}

// RawScanner 原始扫描层：不依赖任何结构化解析，永不失败
type RawScanner struct {
	logger *logrus.Logger
}

// NewRawScanner 创建原始扫描器
func NewRawScanner(logger *logrus.Logger) *RawScanner {
	return &RawScanner{logger: logger}
}

// Name 层级名称
func (s *RawScanner) Name() string {
	return domain.SourceRaw
}

// Extract 仅返回文件列表与 URL，身份和权限为空
func (s *RawScanner) Extract(ctx context.Context, archive *Archive) (*domain.FeatureSet, error) {
	fs := domain.NewFeatureSet(domain.SourceRaw)
	scan := s.Scan(archive)
	fs.Files = scan.Files
	fs.URLs = scan.URLs
	return fs, nil
}

// Scan 列出条目并在可扫描条目中查找 URL
func (s *RawScanner) Scan(archive *Archive) ScanResult {
	result := ScanResult{
		Files: archive.Names(),
		URLs:  []string{},
	}

	limits := archive.Limits()
	remaining := limits.MaxTotalBytes
	seen := make(map[string]struct{})
	skipped := 0

	for _, f := range archive.Files() {
		if !isScannable(f.Name) {
			continue
		}
		if remaining <= 0 {
			s.logger.WithField("entry", f.Name).Debug("Total decompression budget exhausted, skipping remaining entries")
			break
		}

		budget := limits.MaxEntryBytes
		if budget > remaining {
			budget = remaining
		}

		data, err := archive.readFile(f, budget)
		if err != nil {
			skipped++
			var decodeErr *EntryDecodeError
			if errors.As(err, &decodeErr) {
				s.logger.WithFields(logrus.Fields{
					"entry": decodeErr.Entry,
					"error": decodeErr.Err.Error(),
				}).Debug("Entry skipped during raw scan")
			}
			continue
		}
		remaining -= int64(len(data))

		for _, match := range urlPattern.FindAll(data, -1) {
			seen[string(match)] = struct{}{}
		}
	}

	for u := range seen {
		result.URLs = append(result.URLs, u)
	}
	sort.Strings(result.URLs)

	if skipped > 0 {
		s.logger.WithField("skipped_entries", skipped).Debug("Raw scan finished with skipped entries")
	}

	return result
}

// ScanText 在一段文本中查找 URL（去重并排序）
func ScanText(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range urlPattern.FindAllString(text, -1) {
		seen[m] = struct{}{}
	}
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func isScannable(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range scannableExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
