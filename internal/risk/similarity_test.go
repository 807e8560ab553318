package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var knownBanks = []string{"SBI YONO", "HDFC Bank MobileBanking", "PhonePe"}

// TestSimilarity_Boundaries 两种策略对空名称返回 0，完全相同返回 100
func TestSimilarity_Boundaries(t *testing.T) {
	for _, m := range []Matcher{RatioMatcher{}, TokenOverlapMatcher{}} {
		t.Run(m.Name(), func(t *testing.T) {
			assert.Equal(t, 0.0, Similarity(m, "", knownBanks))
			assert.Equal(t, 0.0, Similarity(m, "PhonePe", nil))
			assert.Equal(t, 100.0, Similarity(m, "PhonePe", knownBanks))
			assert.Equal(t, 100.0, Similarity(m, "HDFC Bank MobileBanking", knownBanks))
		})
	}
}

// TestRatioMatcher 测试编辑距离比例
func TestRatioMatcher(t *testing.T) {
	m := RatioMatcher{}

	assert.InDelta(t, 56.25, m.Score("HDFC Bank", "HDFC Bank MobileBanking"), 1e-9)
	assert.InDelta(t, 0.0, m.Score("xyz", "SBI"), 1e-9)
	// 区分大小写
	assert.Less(t, m.Score("phonepe", "PhonePe"), 100.0)
}

// TestRatioMatcher_Homoglyphs 测试同形字符不降低相似度
func TestRatioMatcher_Homoglyphs(t *testing.T) {
	// 西里尔字母 а (U+0430)
	spoofed := "HDFC Bаnk MobileBanking"

	assert.Equal(t, 100.0, Similarity(RatioMatcher{}, spoofed, knownBanks))
	assert.Equal(t, 100.0, Similarity(TokenOverlapMatcher{}, spoofed, knownBanks))
}

// TestTokenOverlapMatcher 测试分词覆盖率
func TestTokenOverlapMatcher(t *testing.T) {
	m := TokenOverlapMatcher{}

	assert.InDelta(t, 50.0, m.Score("sbi update", "SBI YONO"), 1e-9)
	assert.InDelta(t, 100.0, m.Score("yono SBI", "SBI YONO"), 1e-9)
	assert.InDelta(t, 0.0, m.Score("Calculator", "SBI YONO"), 1e-9)
	assert.InDelta(t, 0.0, m.Score("Calculator", "   "), 1e-9)
}

// TestNewMatcher 测试按名称选择策略
func TestNewMatcher(t *testing.T) {
	assert.Equal(t, MatcherToken, NewMatcher("token").Name())
	assert.Equal(t, MatcherRatio, NewMatcher("ratio").Name())
	assert.Equal(t, MatcherRatio, NewMatcher("").Name())
}

// TestTLDScore 测试可疑顶级域名加分
func TestTLDScore(t *testing.T) {
	tests := []struct {
		name string
		urls []string
		want int
	}{
		{"empty", nil, 0},
		{"clean", []string{"https://www.hdfcbank.com/login"}, 0},
		{"one per url", []string{"https://a.top/x.info"}, 2},
		{"several", []string{"http://x.ru", "https://y.cn/a", "https://ok.com", "http://z.biz:8080/"}, 6},
		{"suffix only", []string{"https://top.example.com/", "https://shop.example.org"}, 0},
		{"uppercase", []string{"HTTPS://PAY.CLICK/"}, 2},
		{"unparseable", []string{"http://[::1"}, 0},
		{"format verb in path", []string{"https://phish.top/%s/login"}, 2},
		{"non-numeric port", []string{"https://phish.top:8o/x"}, 2},
		{"query without path", []string{"https://otp.live?id=%d"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TLDScore(tt.urls))
		})
	}
}
