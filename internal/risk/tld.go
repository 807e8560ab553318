package risk

import (
	"strings"

	"github.com/apk-analysis/apk-risk-go/internal/staticanalysis"
)

// SuspiciousTLDs 钓鱼站点常用的顶级域名
var SuspiciousTLDs = []string{
	".top", ".xyz", ".info", ".click", ".shop",
	".live", ".ru", ".cn", ".su", ".biz",
}

// tldPoints 每个命中 URL 的加分
const tldPoints = 2

// TLDScore 每个主机名以可疑顶级域名结尾的 URL 加 2 分，单个 URL 最多计一次
func TLDScore(urls []string) int {
	score := 0
	for _, raw := range urls {
		if hasSuspiciousTLD(staticanalysis.URLHost(raw)) {
			score += tldPoints
		}
	}
	return score
}

func hasSuspiciousTLD(host string) bool {
	if host == "" {
		return false
	}
	for _, tld := range SuspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return false
}
