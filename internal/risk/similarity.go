package risk

import (
	"strings"
	"unicode/utf8"

	"github.com/mtibben/confusables"
	"github.com/hbollon/go-edlib"
)

// 相似度策略名称
const (
	MatcherRatio = "ratio"
	MatcherToken = "token"
)

// Matcher 名称相似度策略，返回 [0,100]
type Matcher interface {
	Name() string
	Score(appName, known string) float64
}

// NewMatcher 按名称选择策略，未知名称使用 ratio
func NewMatcher(name string) Matcher {
	if name == MatcherToken {
		return TokenOverlapMatcher{}
	}
	return RatioMatcher{}
}

// Similarity 应用名与已知名称的最大相似度
// 应用名为空或没有已知名称时返回 0
func Similarity(m Matcher, appName string, known []string) float64 {
	if appName == "" || len(known) == 0 {
		return 0
	}

	best := 0.0
	for _, k := range known {
		if s := m.Score(appName, k); s > best {
			best = s
		}
	}
	return best
}

// RatioMatcher 基于 indel 编辑距离的相似度：100 × (1 − d / (len(a)+len(b)))
// 区分大小写
type RatioMatcher struct{}

func (RatioMatcher) Name() string { return MatcherRatio }

func (RatioMatcher) Score(appName, known string) float64 {
	a := confusables.Skeleton(appName)
	b := confusables.Skeleton(known)

	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}

	d := edlib.LCSEditDistance(a, b)
	return 100 * (1 - float64(d)/float64(total))
}

// TokenOverlapMatcher 小写空白分词后，已知名称中被覆盖的词占比
type TokenOverlapMatcher struct{}

func (TokenOverlapMatcher) Name() string { return MatcherToken }

func (TokenOverlapMatcher) Score(appName, known string) float64 {
	appTokens := tokenSet(appName)
	knownTokens := tokenSet(known)

	common := 0
	for tok := range appTokens {
		if _, ok := knownTokens[tok]; ok {
			common++
		}
	}

	denom := len(knownTokens)
	if denom == 0 {
		denom = 1
	}
	return float64(common) / float64(denom) * 100
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(confusables.Skeleton(strings.ToLower(s))))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
