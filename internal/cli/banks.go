package cli

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

// bankEntry 银行列表文件中的一项，JSON 也按 YAML 解析
type bankEntry struct {
	Name     string `yaml:"name"`
	Package  string `yaml:"package"`
	Official *bool  `yaml:"official"`
}

// loadBanks 读取银行列表文件，path 为空时使用内置列表
func loadBanks(path string) (service.StaticBanks, error) {
	if path == "" {
		return service.StaticBanks(domain.DefaultBanks()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read banks file: %w", err)
	}

	var entries []bankEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse banks file %s: %w", path, err)
	}

	banks := make(service.StaticBanks, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("banks file %s: entry %d has no name", path, i+1)
		}
		official := true
		if e.Official != nil {
			official = *e.Official
		}
		banks = append(banks, domain.BankReference{
			ID:       uint(i + 1),
			Name:     name,
			Package:  strings.TrimSpace(e.Package),
			Official: official,
		})
	}

	if len(banks) == 0 {
		return nil, fmt.Errorf("banks file %s: no banks defined", path)
	}
	return banks, nil
}
