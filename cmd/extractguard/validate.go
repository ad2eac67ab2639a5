package main

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(
	targetURL string,
	priority string,
	mode string,
	maxInstances int,
	maxConcurrency int,
	taskTimeout int,
) error {
	// 验证URL
	if targetURL != "" {
		if err := models.ValidateTargetURL(targetURL); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	// 验证优先级
	if _, err := models.ParsePriority(priority); err != nil {
		return err
	}

	// 验证模式
	if mode != "" && mode != "dynamic" && mode != "static" {
		return fmt.Errorf("无效的提取模式: %s (有效值: dynamic, static)", mode)
	}

	// 验证实例上限
	if maxInstances < 0 || maxInstances > 64 {
		return fmt.Errorf("实例上限必须在0-64之间,当前值: %d", maxInstances)
	}

	// 验证并发数
	if maxConcurrency < 0 || maxConcurrency > 256 {
		return fmt.Errorf("并发数必须在0-256之间,当前值: %d", maxConcurrency)
	}

	// 验证任务超时
	if taskTimeout < 0 || taskTimeout > 3600 {
		return fmt.Errorf("任务超时必须在0-3600秒之间,当前值: %d", taskTimeout)
	}

	return nil
}

// ParseOptions 解析 key=value 形式的提取选项
func ParseOptions(pairs []string) (map[string]string, error) {
	options := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("无效的选项格式: %s (应为 key=value)", pair)
		}
		key := strings.TrimSpace(pair[:idx])
		value := pair[idx+1:]
		options[key] = value
	}
	return options, nil
}
