package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile 从 yaml 文件加载规则集合
func LoadFile(path string) (RuleSet, error) {
	var rs RuleSet
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("读取规则文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return rs, fmt.Errorf("解析规则文件失败: %w", err)
	}
	return rs, nil
}
