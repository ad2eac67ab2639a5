package models

import (
	"fmt"
	"time"
)

// Priority 任务优先级
type Priority int

const (
	PriorityLow    Priority = iota // 低优先级
	PriorityNormal                 // 普通优先级
	PriorityHigh                   // 高优先级
)

// String 返回优先级的字符串表示
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Escalate 返回提升一档后的优先级(封顶为high)
func (p Priority) Escalate() Priority {
	if p >= PriorityHigh {
		return PriorityHigh
	}
	return p + 1
}

// ParsePriority 解析优先级字符串
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("无效的优先级: %s (可选: high/normal/low)", s)
	}
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"     // 已入队
	TaskStatusProcessing TaskStatus = "processing" // 执行中
	TaskStatusCompleted  TaskStatus = "completed"  // 已完成
	TaskStatusFailed     TaskStatus = "failed"     // 失败
	TaskStatusRetrying   TaskStatus = "retrying"   // 等待重试(已重新入队)
)

// Task 提取任务
// 入队后由准入队列独占持有,调用方仅持有结果句柄
type Task struct {
	// 基本信息
	ID         string    `json:"id"`          // 任务唯一ID (UUID)
	TargetID   string    `json:"target_id"`   // 目标标识(URL)
	CreatedAt  time.Time `json:"created_at"`  // 创建时间
	EnqueuedAt time.Time `json:"enqueued_at"` // 入队时间

	// 提取选项(参与缓存指纹计算)
	Options map[string]string `json:"options,omitempty"`

	// 调度参数
	Priority   Priority      `json:"priority"`    // 优先级
	Timeout    time.Duration `json:"timeout"`     // 任务超时
	MaxRetries int           `json:"max_retries"` // 最大重试次数
	RetryCount int           `json:"retry_count"` // 当前重试次数

	// 执行状态
	Status TaskStatus `json:"status"`

	// 错误信息
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewTask 创建新任务
// 入队前统一做一次结构性校验: 目标URL有效
func NewTask(targetID string, options map[string]string) (*Task, error) {
	if err := ValidateTargetURL(targetID); err != nil {
		return nil, err
	}

	// 复制选项,防止调用方后续修改影响指纹
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[k] = v
	}

	return &Task{
		ID:        generateID(),
		TargetID:  targetID,
		CreatedAt: time.Now(),
		Options:   opts,
		Priority:  PriorityNormal,
		Status:    TaskStatusQueued,
	}, nil
}
