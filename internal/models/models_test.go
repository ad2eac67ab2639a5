package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestCategoryForStatus 测试HTTP状态码到错误分类的映射
func TestCategoryForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCategory
	}{
		{401, CategoryAuthFailed},
		{403, CategoryAccessDenied},
		{404, CategoryNotFound},
		{410, CategoryRemoved},
		{429, CategoryRateLimited},
		{500, CategoryUpstream},
		{502, CategoryUpstream},
		{503, CategoryUpstream},
		{400, CategoryUnknown},
		{418, CategoryUnknown},
	}

	for _, tt := range tests {
		ce := NewStatusError(tt.status, errors.New("测试错误"))
		if ce.Category != tt.want {
			t.Errorf("状态码%d分类 = %s, 期望 %s", tt.status, ce.Category, tt.want)
		}
		if ce.StatusCode != tt.status {
			t.Errorf("状态码 = %d, 期望 %d", ce.StatusCode, tt.status)
		}
	}
}

// TestClassifiedErrorUnwrap 测试分类错误的错误链
func TestClassifiedErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	ce := NewClassifiedError(CategoryNetwork, cause)

	if !errors.Is(ce, cause) {
		t.Error("分类错误应保留原始错误链")
	}

	wrapped := fmt.Errorf("提取失败: %w", ce)
	got, ok := AsClassified(wrapped)
	if !ok {
		t.Fatal("应能从包装链中提取分类错误")
	}
	if got.Category != CategoryNetwork {
		t.Errorf("分类 = %s, 期望 %s", got.Category, CategoryNetwork)
	}
}

// TestIsCapacityError 测试容量类错误判定
func TestIsCapacityError(t *testing.T) {
	capacity := []error{
		ErrQueueFull,
		ErrPoolExhausted,
		ErrRetryBudgetExhausted,
		ErrBreakerOpen,
		ErrTaskTimeout,
		fmt.Errorf("包装: %w", ErrQueueFull),
	}
	for _, err := range capacity {
		if !IsCapacityError(err) {
			t.Errorf("%v 应判定为容量类错误", err)
		}
	}

	notCapacity := []error{
		nil,
		errors.New("普通错误"),
		NewStatusError(404, errors.New("not found")),
		ErrPoolClosed,
	}
	for _, err := range notCapacity {
		if IsCapacityError(err) {
			t.Errorf("%v 不应判定为容量类错误", err)
		}
	}
}

// TestAvailabilityMapping 测试错误到调用方可见语义的映射
func TestAvailabilityMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		temporary bool
		permanent bool
	}{
		{"网络错误", NewClassifiedError(CategoryNetwork, errors.New("x")), true, false},
		{"超时", NewClassifiedError(CategoryTimeout, errors.New("x")), true, false},
		{"限流", NewStatusError(429, errors.New("x")), true, false},
		{"上游错误", NewStatusError(503, errors.New("x")), true, false},
		{"资源不存在", NewStatusError(404, errors.New("x")), false, true},
		{"访问被拒绝", NewStatusError(403, errors.New("x")), false, true},
		{"认证失败", NewStatusError(401, errors.New("x")), false, true},
		{"资源已删除", NewStatusError(410, errors.New("x")), false, true},
		{"队列已满", ErrQueueFull, true, false},
		{"熔断器打开", ErrBreakerOpen, true, false},
		{"未分类", NewClassifiedError(CategoryUnknown, errors.New("x")), false, false},
		{"普通错误", errors.New("x"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporarilyUnavailable(tt.err); got != tt.temporary {
				t.Errorf("IsTemporarilyUnavailable = %v, 期望 %v", got, tt.temporary)
			}
			if got := IsPermanentlyUnavailable(tt.err); got != tt.permanent {
				t.Errorf("IsPermanentlyUnavailable = %v, 期望 %v", got, tt.permanent)
			}
		})
	}
}

// TestClassifiedErrorMessage 测试错误文本包含分类与状态码
func TestClassifiedErrorMessage(t *testing.T) {
	ce := NewStatusError(429, errors.New("too many requests"))
	ce.RetryAfter = 30 * time.Second
	msg := ce.Error()
	if msg == "" {
		t.Fatal("错误文本不应为空")
	}
	for _, want := range []string{"rate_limited", "429", "too many requests"} {
		if !contains(msg, want) {
			t.Errorf("错误文本 %q 应包含 %q", msg, want)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// TestPriorityEscalate 测试优先级升级封顶
func TestPriorityEscalate(t *testing.T) {
	if got := PriorityLow.Escalate(); got != PriorityNormal {
		t.Errorf("low升级 = %v, 期望 normal", got)
	}
	if got := PriorityNormal.Escalate(); got != PriorityHigh {
		t.Errorf("normal升级 = %v, 期望 high", got)
	}
	if got := PriorityHigh.Escalate(); got != PriorityHigh {
		t.Errorf("high升级 = %v, 期望封顶为high", got)
	}
}

// TestParsePriority 测试优先级解析
func TestParsePriority(t *testing.T) {
	tests := []struct {
		input   string
		want    Priority
		wantErr bool
	}{
		{"high", PriorityHigh, false},
		{"normal", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"", PriorityNormal, false},
		{"urgent", PriorityNormal, true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) err = %v, wantErr = %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, 期望 %v", tt.input, got, tt.want)
		}
	}
}

// TestNewTask 测试任务创建与URL校验
func TestNewTask(t *testing.T) {
	task, err := NewTask("https://example.com/page", map[string]string{"mode": "dynamic"})
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if task.ID == "" {
		t.Error("任务ID不应为空")
	}
	if task.Priority != PriorityNormal {
		t.Errorf("默认优先级 = %v, 期望 normal", task.Priority)
	}
	if task.Status != TaskStatusQueued {
		t.Errorf("初始状态 = %v, 期望 queued", task.Status)
	}

	// 选项应被复制,调用方后续修改不影响任务
	src := map[string]string{"key": "v1"}
	task2, err := NewTask("https://example.com/other", src)
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	src["key"] = "v2"
	if task2.Options["key"] != "v1" {
		t.Error("任务选项应在创建时复制")
	}
}

// TestNewTaskRejectsInvalidURL 测试非法URL被拒绝
func TestNewTaskRejectsInvalidURL(t *testing.T) {
	invalid := []string{
		"",
		"not-a-url",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"https://",
	}
	for _, target := range invalid {
		if _, err := NewTask(target, nil); err == nil {
			t.Errorf("NewTask(%q) 应返回错误", target)
		}
	}
}
