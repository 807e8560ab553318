package staticanalysis

import (
	"context"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
)

// 结构化解析需要的条目
const (
	manifestEntry  = "AndroidManifest.xml"
	resourcesEntry = "resources.arsc"
)

// AndroidBinaryExtractor 主提取层：完整解析二进制 Manifest、组件和签名证书
type AndroidBinaryExtractor struct {
	logger *logrus.Logger
}

// NewAndroidBinaryExtractor 创建主提取层
func NewAndroidBinaryExtractor(logger *logrus.Logger) *AndroidBinaryExtractor {
	return &AndroidBinaryExtractor{logger: logger}
}

// Name 层级名称
func (e *AndroidBinaryExtractor) Name() string {
	return domain.SourceAndroidBinary
}

// Extract 解析包名、应用名、权限、四大组件和证书
func (e *AndroidBinaryExtractor) Extract(ctx context.Context, archive *Archive) (*domain.FeatureSet, error) {
	manifest, err := decodeManifest(archive, e.logger)
	if err != nil {
		return nil, err
	}

	fs := domain.NewFeatureSet(domain.SourceAndroidBinary)
	if err := manifest.identity(fs); err != nil {
		return nil, err
	}

	app := manifest.App
	fs.Activities = componentNames(fs.Activities, app.Activities)
	fs.Activities = componentNames(fs.Activities, app.ActivityAliases)
	fs.Services = componentNames(fs.Services, app.Services)
	fs.Receivers = componentNames(fs.Receivers, app.Receivers)
	fs.Providers = componentNames(fs.Providers, app.Providers)

	// 证书解析失败不影响本层结果
	fs.Certificates = signerCertificates(archive, e.logger)

	return fs, nil
}

// componentNames 追加组件名（去重，保持声明顺序）
func componentNames(list []string, components []manifestComponent) []string {
	for _, c := range components {
		list = appendUnique(list, stringValue(c.Name))
	}
	return list
}
