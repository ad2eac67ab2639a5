package utils

import "strings"

var (
	// SensitiveKeywords 敏感选项键关键字 (用于日志脱敏)
	SensitiveKeywords = []string{
		"authorization",
		"token",
		"key",
		"secret",
		"password",
		"credential",
		"cookie",
	}
)

// OptionRedactor 选项脱敏器
// 任务选项可能携带凭据(如cookie、token),写日志前需要脱敏
type OptionRedactor struct {
	sensitiveKeywords []string
}

// NewOptionRedactor 创建选项脱敏器
func NewOptionRedactor() *OptionRedactor {
	return &OptionRedactor{
		sensitiveKeywords: SensitiveKeywords,
	}
}

// IsSensitiveKey 检查选项键是否为敏感键
func (or *OptionRedactor) IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range or.sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}

// RedactValue 脱敏单个选项值
func (or *OptionRedactor) RedactValue(key, value string) string {
	if !or.IsSensitiveKey(key) {
		return value
	}

	// Bearer Token仅保留前缀
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}

	// 足够长的值保留首尾各4位
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}

	// 短值完全隐藏
	return "***"
}

// Redact 脱敏整组选项,返回可安全写入日志的副本
func (or *OptionRedactor) Redact(options map[string]string) map[string]string {
	result := make(map[string]string, len(options))
	for key, value := range options {
		result[key] = or.RedactValue(key, value)
	}
	return result
}

// RedactToString 脱敏选项并返回格式化字符串 (用于日志输出)
func (or *OptionRedactor) RedactToString(options map[string]string) string {
	redacted := or.Redact(options)
	parts := make([]string, 0, len(redacted))
	for key, value := range redacted {
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ", ")
}
