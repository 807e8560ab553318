package staticanalysis

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/shogo82148/androidbinary"
	"github.com/sirupsen/logrus"
)

// manifestComponent 带 android:name 的声明（权限与四大组件）
type manifestComponent struct {
	Name androidbinary.String `xml:"http://schemas.android.com/apk/res/android name,attr"`
}

// manifestApplication application 元素
type manifestApplication struct {
	Label           androidbinary.String `xml:"http://schemas.android.com/apk/res/android label,attr"`
	Activities      []manifestComponent  `xml:"activity"`
	ActivityAliases []manifestComponent  `xml:"activity-alias"`
	Services        []manifestComponent  `xml:"service"`
	Receivers       []manifestComponent  `xml:"receiver"`
	Providers       []manifestComponent  `xml:"provider"`
}

// androidManifest 解码后的 AndroidManifest.xml
type androidManifest struct {
	Package         androidbinary.String `xml:"package,attr"`
	UsesPermissions []manifestComponent  `xml:"uses-permission"`
	App             manifestApplication  `xml:"application"`
}

// decodeManifest 在条目预算内解码二进制 Manifest，资源表存在时用于解析引用
func decodeManifest(archive *Archive, logger *logrus.Logger) (*androidManifest, error) {
	manifestData, err := archive.ReadEntry(manifestEntry)
	if err != nil {
		return nil, err
	}

	xmlFile, err := androidbinary.NewXMLFile(bytes.NewReader(manifestData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse binary manifest: %w", err)
	}

	// 资源表是可选的，缺失时应用名可能无法解析
	var table *androidbinary.TableFile
	if archive.Lookup(resourcesEntry) != nil {
		resData, err := archive.ReadEntry(resourcesEntry)
		if err != nil {
			logger.WithError(err).Debug("Resource table skipped")
		} else if t, err := androidbinary.NewTableFile(bytes.NewReader(resData)); err == nil {
			table = t
		} else {
			logger.WithError(err).Debug("Failed to parse resource table")
		}
	}

	var manifest androidManifest
	if err := xmlFile.Decode(&manifest, table, nil); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &manifest, nil
}

// identity 填充包名、应用名与权限
func (m *androidManifest) identity(fs *domain.FeatureSet) error {
	fs.Package = optional(stringValue(m.Package))
	if fs.Package == nil {
		return fmt.Errorf("manifest has no package attribute")
	}
	fs.AppName = optional(stringValue(m.App.Label))
	for _, p := range m.UsesPermissions {
		fs.Permissions = append(fs.Permissions, stringValue(p.Name))
	}
	return nil
}

// ManifestExtractor 次提取层：仅解码 Manifest（身份 + 权限，无组件列表）
type ManifestExtractor struct {
	logger *logrus.Logger
}

// NewManifestExtractor 创建次提取层
func NewManifestExtractor(logger *logrus.Logger) *ManifestExtractor {
	return &ManifestExtractor{logger: logger}
}

// Name 层级名称
func (e *ManifestExtractor) Name() string {
	return domain.SourceManifest
}

// Extract 解码 AndroidManifest.xml，资源表可用时用于解析应用名
func (e *ManifestExtractor) Extract(ctx context.Context, archive *Archive) (*domain.FeatureSet, error) {
	manifest, err := decodeManifest(archive, e.logger)
	if err != nil {
		return nil, err
	}

	fs := domain.NewFeatureSet(domain.SourceManifest)
	if err := manifest.identity(fs); err != nil {
		return nil, err
	}
	return fs, nil
}

func stringValue(s androidbinary.String) string {
	v, err := s.String()
	if err != nil {
		return ""
	}
	return v
}
