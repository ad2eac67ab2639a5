package models

import "fmt"

// ValidationError 任务选项校验错误
// 携带具体的字段、原因和修复建议,便于CLI直接展示给用户
type ValidationError struct {
	Field      string // 出错字段: key或value
	OptionKey  string // 相关的选项键
	Reason     string // 错误原因
	Suggestion string // 修复建议(可选)
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("选项 '%s' 的%s无效: %s", e.OptionKey, e.fieldLabel(), e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

func (e *ValidationError) fieldLabel() string {
	if e.Field == "key" {
		return "键"
	}
	return "值"
}
