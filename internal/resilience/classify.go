package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

// Verdict 重试裁决
type Verdict int

const (
	// VerdictNever 永不重试(终止类错误)
	VerdictNever Verdict = iota
	// VerdictAlways 始终重试(瞬时类错误)
	VerdictAlways
	// VerdictRateLimited 重试但使用限流退避
	VerdictRateLimited
	// VerdictUnknown 未分类,仅前两次尝试允许重试
	VerdictUnknown
)

// Classify 对错误做重试裁决
// 裁决顺序: 终止类黑名单 -> 瞬时类白名单 -> HTTP状态码启发式 -> 未分类
func Classify(err error) Verdict {
	if err == nil {
		return VerdictNever
	}

	// 容量类错误不参与重试(向上透出)
	if models.IsCapacityError(err) {
		return VerdictNever
	}

	if ce, ok := models.AsClassified(err); ok {
		switch ce.Category {
		case models.CategoryNotFound, models.CategoryAccessDenied,
			models.CategoryAuthFailed, models.CategoryRemoved:
			return VerdictNever
		case models.CategoryNetwork, models.CategoryTimeout,
			models.CategoryConnectionReset, models.CategoryDisconnected:
			return VerdictAlways
		case models.CategoryRateLimited:
			return VerdictRateLimited
		case models.CategoryUpstream:
			return VerdictAlways
		}

		// 分类未命中时回退到状态码启发式
		if ce.StatusCode > 0 {
			return verdictForStatus(ce.StatusCode)
		}
		return VerdictUnknown
	}

	// 无分类信息的错误: 识别常见的网络/超时形态
	if isTransientErr(err) {
		return VerdictAlways
	}

	return VerdictUnknown
}

// verdictForStatus HTTP状态码启发式: 5xx和429重试,其余4xx不重试
func verdictForStatus(statusCode int) Verdict {
	switch {
	case statusCode == 429:
		return VerdictRateLimited
	case statusCode >= 500:
		return VerdictAlways
	case statusCode >= 400:
		return VerdictNever
	default:
		return VerdictUnknown
	}
}

// isTransientErr 识别未携带分类信息的瞬时错误
func isTransientErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// 浏览器断连通常只体现在错误文本上
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "websocket") && strings.Contains(msg, "closed")
}

// Retryable 判断第attempt次尝试(从0开始)失败后是否允许重试
func Retryable(err error, attempt int) bool {
	switch Classify(err) {
	case VerdictAlways, VerdictRateLimited:
		return true
	case VerdictUnknown:
		// 未分类错误仅前两次尝试允许重试
		return attempt < 2
	default:
		return false
	}
}
