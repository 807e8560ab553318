package staticanalysis

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
)

// aapt2 xmltree 输出的行格式
var (
	aaptElementRe   = regexp.MustCompile(`^E: ([\w:.-]+)`)
	aaptAttributeRe = regexp.MustCompile(`^A: ([\w:.-]+)(?:\([^)]*\))?="([^"]*)"`)
)

// aaptElement 当前所在的元素及其缩进
type aaptElement struct {
	indent int
	tag    string
}

// AaptExtractor 基于 aapt2 dump xmltree 的提取层
type AaptExtractor struct {
	logger    *logrus.Logger
	aaptPath  string
	available bool
}

// NewAaptExtractor 创建 aapt2 提取层，启动时探测一次 aapt2 是否可用
func NewAaptExtractor(aaptPath string, logger *logrus.Logger) *AaptExtractor {
	if aaptPath == "" {
		aaptPath = "aapt2" // 默认从 PATH 查找
	}

	e := &AaptExtractor{
		logger:   logger,
		aaptPath: aaptPath,
	}
	e.available = e.checkAapt() == nil

	return e
}

// checkAapt 检查 aapt2 是否可用
func (e *AaptExtractor) checkAapt() error {
	cmd := exec.Command(e.aaptPath, "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aapt2 not found: %w", err)
	}
	return nil
}

// Available aapt2 是否可用
func (e *AaptExtractor) Available() bool {
	return e.available
}

// Name 层级名称
func (e *AaptExtractor) Name() string {
	return domain.SourceAapt2
}

// Extract 写入临时文件后调用 aapt2 解析 Manifest
func (e *AaptExtractor) Extract(ctx context.Context, archive *Archive) (*domain.FeatureSet, error) {
	if !e.available {
		return nil, fmt.Errorf("aapt2 not available")
	}

	tmp, err := os.CreateTemp("", "apkrisk-*.apk")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(archive.Bytes()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.aaptPath, "dump", "xmltree", tmp.Name(), "--file", manifestEntry)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("aapt2 command failed: %w", err)
	}

	return parseAaptOutput(string(output))
}

// parseAaptOutput 解析 aapt2 输出
// 按缩进维护元素栈，属性归属于其上方最近的元素
func parseAaptOutput(output string) (*domain.FeatureSet, error) {
	fs := domain.NewFeatureSet(domain.SourceAapt2)

	var stack []aaptElement
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)

		if match := aaptElementRe.FindStringSubmatch(trimmed); match != nil {
			for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, aaptElement{indent: indent, tag: match[1]})
			continue
		}

		// 资源引用形式的值不带引号，不会被匹配
		match := aaptAttributeRe.FindStringSubmatch(trimmed)
		if match == nil || len(stack) == 0 {
			continue
		}
		owner := stack[len(stack)-1]
		if indent <= owner.indent {
			continue
		}
		applyAaptAttribute(fs, owner.tag, match[1], match[2])
	}

	if fs.Package == nil {
		return nil, fmt.Errorf("package not found in aapt2 output")
	}
	return fs, nil
}

func applyAaptAttribute(fs *domain.FeatureSet, tag, name, value string) {
	switch {
	case tag == "manifest" && name == "package":
		if fs.Package == nil {
			fs.Package = optional(value)
		}
	case tag == "application" && name == "android:label":
		if fs.AppName == nil {
			fs.AppName = optional(value)
		}
	case name != "android:name":
	case tag == "uses-permission", tag == "uses-permission-sdk-23":
		fs.Permissions = appendUnique(fs.Permissions, value)
	case tag == "activity", tag == "activity-alias":
		fs.Activities = appendUnique(fs.Activities, value)
	case tag == "service":
		fs.Services = appendUnique(fs.Services, value)
	case tag == "receiver":
		fs.Receivers = appendUnique(fs.Receivers, value)
	case tag == "provider":
		fs.Providers = appendUnique(fs.Providers, value)
	}
}
