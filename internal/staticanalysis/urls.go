package staticanalysis

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// URLHost 解析 URL 的主机部分，转为小写 ASCII 形式
// url.Parse 拒绝的 URL（路径中的格式化占位符、非数字端口）直接从 authority 截取主机
func URLHost(raw string) string {
	var host string
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
	} else {
		host = authorityHost(raw)
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}

	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}

	return host
}

// authorityHost 截取 "://" 之后到第一个 / ? # 之前的部分，去掉 userinfo 与端口
func authorityHost(raw string) string {
	i := strings.Index(raw, "://")
	if i < 0 {
		return ""
	}
	authority := raw[i+3:]
	if end := strings.IndexAny(authority, "/?#"); end >= 0 {
		authority = authority[:end]
	}
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		authority = authority[at+1:]
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.Index(authority, "]")
		if end < 0 {
			return ""
		}
		return authority[1:end]
	}
	if colon := strings.Index(authority, ":"); colon >= 0 {
		authority = authority[:colon]
	}
	return authority
}

// RegistrableDomains 提取 URL 的可注册域名（eTLD+1），去重并排序
func RegistrableDomains(urls []string) []string {
	seen := make(map[string]struct{})
	for _, raw := range urls {
		host := URLHost(raw)
		if host == "" || net.ParseIP(host) != nil {
			continue
		}
		domain, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil {
			continue
		}
		seen[domain] = struct{}{}
	}

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
