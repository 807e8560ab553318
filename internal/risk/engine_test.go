package risk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MockClassifier 模拟风险模型
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Predict(ctx context.Context, features []float64) (float64, error) {
	args := m.Called(ctx, features)
	return args.Get(0).(float64), args.Error(1)
}

func features(appName, pkg string, perms []string, urls []string) *domain.FeatureSet {
	fs := domain.NewFeatureSet(domain.SourceAndroidBinary)
	if appName != "" {
		fs.AppName = &appName
	}
	if pkg != "" {
		fs.Package = &pkg
	}
	if perms != nil {
		fs.Permissions = perms
	}
	if urls != nil {
		fs.URLs = urls
	}
	return fs
}

func perm(name string) string {
	return "android.permission." + name
}

func reasonCodes(reasons []domain.Reason) []string {
	codes := make([]string, 0, len(reasons))
	for _, r := range reasons {
		codes = append(codes, r.Code)
	}
	return codes
}

func allDangerous() []string {
	perms := make([]string, 0, len(DangerousPermissions))
	for p := range DangerousPermissions {
		perms = append(perms, p)
	}
	return perms
}

// TestEngine_CleanApp 测试无风险特征时只有名称相似度依据
func TestEngine_CleanApp(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())

	result := engine.Analyze(context.Background(),
		features("Calculator", "org.example.calc", []string{perm("INTERNET")}, nil),
		1024, "calc.apk", "abc", domain.DefaultBanks())

	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, domain.VerdictSafe, result.Verdict)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, domain.ReasonNameSimilarity, result.Reasons[0].Code)
	assert.Equal(t, "abc", result.Digest)
	assert.Equal(t, int64(1024), result.SizeBytes)
}

// TestEngine_RuleAdditivity 测试短信、无障碍、悬浮窗三条规则叠加
func TestEngine_RuleAdditivity(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())

	perms := []string{perm("READ_SMS"), perm("BIND_ACCESSIBILITY_SERVICE"), perm("SYSTEM_ALERT_WINDOW")}
	score, reasons := engine.Score(features("", "", perms, nil), nil, nil)

	// 3 个高危权限 15 + 无障碍 15 + 悬浮窗 10 + 短信 10
	assert.Equal(t, 50.0, score)
	assert.Equal(t, domain.VerdictSuspicious, domain.VerdictFor(score))
	assert.Equal(t, []string{
		domain.ReasonNameSimilarity,
		domain.ReasonDangerousPermissions,
		domain.ReasonAccessibility,
		domain.ReasonOverlay,
		domain.ReasonOTPCapture,
	}, reasonCodes(reasons))

	assert.Equal(t, "App name similarity to official bank apps: 0.0/100", reasons[0].Detail)
	assert.Equal(t, "Requests 3 dangerous permissions: android.permission.BIND_ACCESSIBILITY_SERVICE, android.permission.READ_SMS, android.permission.SYSTEM_ALERT_WINDOW (+15)", reasons[1].Detail)
	assert.Equal(t, "Requests Accessibility Service (used in overlay/credential theft) (+15)", reasons[2].Detail)
	assert.Equal(t, "Can draw over other apps (overlay attacks) (+10)", reasons[3].Detail)
	assert.Equal(t, "Requests SMS permissions (OTP capture risk) (+10)", reasons[4].Detail)
}

// TestEngine_DangerousCap 测试高危权限加分不超过 40
func TestEngine_DangerousCap(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())

	perms := append(allDangerous(), allDangerous()...)
	perms = append(perms, perm("INTERNET"), perm("CAMERA"))
	_, reasons := engine.Score(features("", "", perms, nil), nil, nil)

	require.Equal(t, domain.ReasonDangerousPermissions, reasons[1].Code)
	assert.Contains(t, reasons[1].Detail, "Requests 15 dangerous permissions")
	assert.Contains(t, reasons[1].Detail, "(+40)")
}

// TestEngine_ScoreClamped 测试分数截断到 100 且判定与阈值一致
func TestEngine_ScoreClamped(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())

	urls := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		urls = append(urls, "https://login-verify.top/"+string(rune('a'+i)))
	}

	result := engine.Analyze(context.Background(),
		features("Bank Update", "com.fake.bank", allDangerous(), urls),
		0, "x.apk", "d", domain.DefaultBanks())

	// 40 + 20 + 40 + 15 + 15 + 10 + 10 = 150
	assert.Equal(t, 100.0, result.Score)
	assert.Equal(t, domain.VerdictMalicious, result.Verdict)
}

// TestEngine_ScoreBounds 测试各种输入下分数都在 [0,100] 且判定一致
func TestEngine_ScoreBounds(t *testing.T) {
	engine := NewEngine(TokenOverlapMatcher{}, nil, newTestLogger())

	cases := []*domain.FeatureSet{
		domain.NewFeatureSet(domain.SourceRaw),
		features("SBI YONO", "com.sbi.fake", []string{perm("SEND_SMS")}, []string{"http://a.cn/x"}),
		features("", "net.unknown", allDangerous(), nil),
		features("Paytm", "", nil, []string{"https://paytm.com", "https://evil.xyz/k"}),
		nil,
	}

	for _, fs := range cases {
		result := engine.Analyze(context.Background(), fs, 10, "a.apk", "d", domain.DefaultBanks())
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 100.0)
		assert.Equal(t, domain.VerdictFor(result.Score), result.Verdict)
		assert.Equal(t, domain.ReasonNameSimilarity, result.Reasons[0].Code)
	}
}

// TestEngine_Deterministic 测试同一输入两次分析结果一致
func TestEngine_Deterministic(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())
	fs := features("HDFC Bank", "com.fake.hdfc",
		[]string{perm("RECEIVE_SMS"), perm("READ_CONTACTS"), perm("CALL_PHONE")},
		[]string{"https://hdfc-kyc.live/a", "https://api.example.com"})

	first := engine.Analyze(context.Background(), fs, 1, "f.apk", "d", domain.DefaultBanks())
	second := engine.Analyze(context.Background(), fs, 1, "f.apk", "d", domain.DefaultBanks())

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Reasons, second.Reasons)
}

// TestEngine_PkgNameMismatch 测试包名前缀像银行但名称相似度低
func TestEngine_PkgNameMismatch(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())
	names, packages := domain.BankNamesAndPackages(domain.DefaultBanks())

	// "HDFC Bank" 与 "HDFC Bank MobileBanking" 相似度 56.25
	score, reasons := engine.Score(features("HDFC Bank", "com.fake.hdfc", nil, nil), names, packages)
	assert.Equal(t, 15.0, score)
	require.Len(t, reasons, 2)
	assert.Equal(t, "App name similarity to official bank apps: 56.2/100", reasons[0].Detail)
	assert.Equal(t, "Bank-like package prefix but name similarity low (56.2) (+15)", reasons[1].Detail)

	// 相似度足够高不加分
	score, _ = engine.Score(features("PhonePe", "com.phonepe.fake", nil, nil), names, packages)
	assert.Equal(t, 0.0, score)

	// 缺少应用名不加分
	score, _ = engine.Score(features("", "com.fake.hdfc", nil, nil), names, packages)
	assert.Equal(t, 0.0, score)

	// 前缀不匹配不加分
	score, _ = engine.Score(features("Secure Update", "org.fake.hdfc", nil, nil), names, packages)
	assert.Equal(t, 0.0, score)
}

// TestEngine_URLRules 测试 URL 与可疑顶级域名规则
func TestEngine_URLRules(t *testing.T) {
	engine := NewEngine(RatioMatcher{}, nil, newTestLogger())

	urls := []string{
		"https://secure-bank-login.top/verify",
		"http://cdn.example.com/a.js",
		"https://kyc-update.XYZ.:443/x",
	}
	score, reasons := engine.Score(features("", "", nil, urls), nil, nil)

	assert.Equal(t, 10.0, score)
	assert.Equal(t, []string{
		domain.ReasonNameSimilarity,
		domain.ReasonEmbeddedURLs,
		domain.ReasonSuspiciousTLDs,
	}, reasonCodes(reasons))
	assert.Equal(t, "Contains 3 embedded URL(s) in resources (+6)", reasons[1].Detail)
	assert.Equal(t, "URLs include suspicious TLDs (+4)", reasons[2].Detail)
}

// TestEngine_ClassifierBlend 测试模型概率融合
func TestEngine_ClassifierBlend(t *testing.T) {
	clf := new(MockClassifier)
	perms := []string{perm("READ_SMS"), perm("BIND_ACCESSIBILITY_SERVICE"), perm("SYSTEM_ALERT_WINDOW")}
	fs := features("", "", perms, []string{"https://a.example.com"})

	clf.On("Predict", mock.Anything, []float64{3, 1, 1, 1}).Return(0.9, nil)

	engine := NewEngine(RatioMatcher{}, clf, newTestLogger())
	result := engine.Analyze(context.Background(), fs, 0, "a.apk", "d", nil)

	// 启发式 15+2+15+10+10 = 52；0.7*90 + 0.3*52 = 78.6
	assert.InDelta(t, 78.6, result.Score, 1e-9)
	assert.Equal(t, domain.VerdictMalicious, result.Verdict)
	last := result.Reasons[len(result.Reasons)-1]
	assert.Equal(t, domain.ReasonMLProbability, last.Code)
	assert.Equal(t, "ML model risk probability: 90.0/100", last.Detail)
	clf.AssertExpectations(t)
}

// TestEngine_ClassifierFailure 测试模型失败时保留启发式分数
func TestEngine_ClassifierFailure(t *testing.T) {
	fs := features("", "", []string{perm("SEND_SMS")}, nil)

	failing := new(MockClassifier)
	failing.On("Predict", mock.Anything, mock.Anything).Return(0.0, errors.New("connection refused"))

	result := NewEngine(RatioMatcher{}, failing, newTestLogger()).
		Analyze(context.Background(), fs, 0, "a.apk", "d", nil)
	assert.Equal(t, 15.0, result.Score)
	assert.NotContains(t, reasonCodes(result.Reasons), domain.ReasonMLProbability)

	outOfRange := new(MockClassifier)
	outOfRange.On("Predict", mock.Anything, mock.Anything).Return(1.5, nil)

	result = NewEngine(RatioMatcher{}, outOfRange, newTestLogger()).
		Analyze(context.Background(), fs, 0, "a.apk", "d", nil)
	assert.Equal(t, 15.0, result.Score)

	notANumber := new(MockClassifier)
	notANumber.On("Predict", mock.Anything, mock.Anything).Return(math.NaN(), nil)

	result = NewEngine(RatioMatcher{}, notANumber, newTestLogger()).
		Analyze(context.Background(), fs, 0, "a.apk", "d", nil)
	assert.Equal(t, 15.0, result.Score)
	assert.Equal(t, domain.VerdictSafe, result.Verdict)
	assert.NotContains(t, reasonCodes(result.Reasons), domain.ReasonMLProbability)
	_, err := json.Marshal(result)
	assert.NoError(t, err)
}

// TestBlend 测试融合公式与截断
func TestBlend(t *testing.T) {
	assert.InDelta(t, 0.0, Blend(0, 0), 1e-9)
	assert.InDelta(t, 100.0, Blend(1, 100), 1e-9)
	assert.InDelta(t, 35.0+15.0, Blend(0.5, 50), 1e-9)
}

// TestFeatureVector 测试模型输入向量
func TestFeatureVector(t *testing.T) {
	fs := features("", "", []string{
		perm("READ_SMS"), perm("READ_SMS"), perm("INTERNET"), perm("SYSTEM_ALERT_WINDOW"),
	}, []string{"a", "b"})

	assert.Equal(t, []float64{2, 2, 0, 1}, FeatureVector(fs))
}
