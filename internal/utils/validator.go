package utils

import (
	"fmt"
	"regexp"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

const (
	// MaxOptionValueLength 选项值最大长度 (8KB)
	MaxOptionValueLength = 8192
)

// OptionValidator 任务选项验证器
// 选项在准入时检查一次,进入队列后不再校验
type OptionValidator struct {
	// keyRegex 验证选项键 (小写字母数字、下划线、连字符、点)
	keyRegex *regexp.Regexp

	// valueRegex 验证选项值 (可打印ASCII)
	valueRegex *regexp.Regexp

	// maxValueLength 选项值最大长度 (字节)
	maxValueLength int
}

// NewOptionValidator 创建验证器
func NewOptionValidator() *OptionValidator {
	return &OptionValidator{
		keyRegex:       regexp.MustCompile(`^[a-z0-9_.-]+$`),
		valueRegex:     regexp.MustCompile(`^[\x20-\x7E\t]*$`),
		maxValueLength: MaxOptionValueLength,
	}
}

// ValidateKey 验证选项键
func (ov *OptionValidator) ValidateKey(key string) error {
	if key == "" {
		return &models.ValidationError{
			Field:     "key",
			OptionKey: key,
			Reason:    "选项键不能为空",
		}
	}

	if !ov.keyRegex.MatchString(key) {
		return &models.ValidationError{
			Field:      "key",
			OptionKey:  key,
			Reason:     "选项键包含非法字符",
			Suggestion: "使用小写字母、数字、下划线、连字符和点 (如 'render_wait_ms')",
		}
	}

	return nil
}

// ValidateValue 验证选项值
func (ov *OptionValidator) ValidateValue(key, value string) error {
	if len(value) > ov.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			OptionKey:  key,
			Reason:     fmt.Sprintf("选项值过长: %d 字节 (最大 %d)", len(value), ov.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", ov.maxValueLength),
		}
	}

	if !ov.valueRegex.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			OptionKey:  key,
			Reason:     "选项值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}

	return nil
}

// Validate 验证整组任务选项,返回第一个错误
func (ov *OptionValidator) Validate(options map[string]string) error {
	for key, value := range options {
		if err := ov.ValidateKey(key); err != nil {
			return err
		}
		if err := ov.ValidateValue(key, value); err != nil {
			return err
		}
	}
	return nil
}
