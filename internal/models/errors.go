package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory 错误分类
// 用途: 重试控制器根据分类决定是否重试以及退避策略
type ErrorCategory string

const (
	// 瞬时错误(始终可重试)
	CategoryNetwork         ErrorCategory = "network"          // 网络错误
	CategoryTimeout         ErrorCategory = "timeout"          // 操作超时
	CategoryConnectionReset ErrorCategory = "connection_reset" // 连接被重置
	CategoryDisconnected    ErrorCategory = "disconnected"     // 浏览器/上游断开

	// 上游错误(可重试,使用更长退避)
	CategoryRateLimited ErrorCategory = "rate_limited" // 限流(429)
	CategoryUpstream    ErrorCategory = "upstream"     // 上游服务错误(5xx)

	// 终止错误(永不重试)
	CategoryNotFound     ErrorCategory = "not_found"     // 资源不存在
	CategoryAccessDenied ErrorCategory = "access_denied" // 访问被拒绝
	CategoryAuthFailed   ErrorCategory = "auth_failed"   // 认证失败
	CategoryRemoved      ErrorCategory = "removed"       // 资源已删除

	// 未分类
	CategoryUnknown ErrorCategory = "unknown"
)

// 容量类错误定义
// 容量类错误立即向调用方透出,且不消耗任何重试次数
var (
	ErrQueueFull            = errors.New("队列已满")
	ErrPoolExhausted        = errors.New("资源池已耗尽")
	ErrRetryBudgetExhausted = errors.New("重试预算已耗尽")
	ErrBreakerOpen          = errors.New("熔断器处于打开状态")
	ErrTaskTimeout          = errors.New("任务执行超时")
	ErrPoolClosed           = errors.New("资源池已关闭")
	ErrQueueClosed          = errors.New("队列已关闭")
)

// ClassifiedError 携带分类信息的错误
// 由提取层(外部协作方)抛出,必须携带足够的信息供重试控制器分类
type ClassifiedError struct {
	Category   ErrorCategory // 错误分类
	StatusCode int           // HTTP状态码(0表示无)
	RetryAfter time.Duration // 显式重试等待提示(0表示无)
	Err        error         // 原始错误
}

// Error 实现error接口
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] 状态码=%d: %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

// Unwrap 返回原始错误
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError 创建分类错误
func NewClassifiedError(category ErrorCategory, err error) *ClassifiedError {
	return &ClassifiedError{Category: category, Err: err}
}

// NewStatusError 根据HTTP状态码创建分类错误
func NewStatusError(statusCode int, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   categoryForStatus(statusCode),
		StatusCode: statusCode,
		Err:        err,
	}
}

// categoryForStatus 根据HTTP状态码推断分类
func categoryForStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case 401:
		return CategoryAuthFailed
	case 403:
		return CategoryAccessDenied
	case 404:
		return CategoryNotFound
	case 410:
		return CategoryRemoved
	case 429:
		return CategoryRateLimited
	}
	if statusCode >= 500 {
		return CategoryUpstream
	}
	return CategoryUnknown
}

// AsClassified 提取错误链中的ClassifiedError
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCapacityError 判断是否为容量类错误
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrRetryBudgetExhausted) ||
		errors.Is(err, ErrBreakerOpen) ||
		errors.Is(err, ErrTaskTimeout)
}

// IsTemporarilyUnavailable 判断错误是否应映射为"暂时不可用,请稍后重试"
func IsTemporarilyUnavailable(err error) bool {
	if IsCapacityError(err) {
		return true
	}
	if ce, ok := AsClassified(err); ok {
		switch ce.Category {
		case CategoryNetwork, CategoryTimeout, CategoryConnectionReset,
			CategoryDisconnected, CategoryRateLimited, CategoryUpstream:
			return true
		}
	}
	return false
}

// IsPermanentlyUnavailable 判断错误是否应映射为"资源不可用",调用方不得自动重试
func IsPermanentlyUnavailable(err error) bool {
	if ce, ok := AsClassified(err); ok {
		switch ce.Category {
		case CategoryNotFound, CategoryAccessDenied, CategoryAuthFailed, CategoryRemoved:
			return true
		}
	}
	return false
}
