package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

// TestClassify 测试错误分类裁决
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Verdict
	}{
		{
			name:     "nil错误不重试",
			err:      nil,
			expected: VerdictNever,
		},
		{
			name:     "容量类错误不重试",
			err:      models.ErrPoolExhausted,
			expected: VerdictNever,
		},
		{
			name:     "404终止类不重试",
			err:      models.NewStatusError(404, errors.New("not found")),
			expected: VerdictNever,
		},
		{
			name:     "403终止类不重试",
			err:      models.NewStatusError(403, errors.New("forbidden")),
			expected: VerdictNever,
		},
		{
			name:     "网络错误始终重试",
			err:      models.NewClassifiedError(models.CategoryNetwork, errors.New("dial failed")),
			expected: VerdictAlways,
		},
		{
			name:     "超时错误始终重试",
			err:      models.NewClassifiedError(models.CategoryTimeout, errors.New("timed out")),
			expected: VerdictAlways,
		},
		{
			name:     "429限流使用限流退避",
			err:      models.NewStatusError(429, errors.New("too many requests")),
			expected: VerdictRateLimited,
		},
		{
			name:     "503上游错误重试",
			err:      models.NewStatusError(503, errors.New("unavailable")),
			expected: VerdictAlways,
		},
		{
			name:     "无分类信息的DeadlineExceeded重试",
			err:      context.DeadlineExceeded,
			expected: VerdictAlways,
		},
		{
			name:     "无分类信息的普通错误归为未分类",
			err:      errors.New("something odd happened"),
			expected: VerdictUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %v, 期望 %v", got, tt.expected)
			}
		})
	}
}

// TestRetryableUnknownOnlyEarly 测试未分类错误仅前两次尝试允许重试
func TestRetryableUnknownOnlyEarly(t *testing.T) {
	unknown := errors.New("mystery failure")

	if !Retryable(unknown, 0) {
		t.Error("未分类错误第1次尝试后应允许重试")
	}
	if !Retryable(unknown, 1) {
		t.Error("未分类错误第2次尝试后应允许重试")
	}
	if Retryable(unknown, 2) {
		t.Error("未分类错误第3次尝试后不应允许重试")
	}

	// 瞬时类不受尝试次数限制
	transient := models.NewClassifiedError(models.CategoryNetwork, errors.New("dial failed"))
	if !Retryable(transient, 10) {
		t.Error("瞬时类错误任意尝试次数后都应允许重试")
	}
}
