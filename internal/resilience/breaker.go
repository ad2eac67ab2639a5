package resilience

import (
	"sync"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/rs/zerolog/log"
)

// 半开状态需要连续成功次数才允许完全闭合
const halfOpenSuccessTarget = 3

// BreakerState 熔断器状态
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // 正常放行
	StateOpen     BreakerState = "open"      // 快速失败
	StateHalfOpen BreakerState = "half_open" // 恢复探测
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           // 连续失败达到该值后打开熔断
	ResetTimeout     time.Duration // 打开后等待多久允许探测恢复
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Transition 一次状态迁移记录
type Transition struct {
	From BreakerState `json:"from"`
	To   BreakerState `json:"to"`
	At   time.Time    `json:"at"`
}

// BreakerMetrics 熔断器观测指标
// 快速失败的拒绝计入总请求数但与真实执行失败分开统计,不触发失败计数器
type BreakerMetrics struct {
	State          BreakerState `json:"state"`
	TotalRequests  int64        `json:"total_requests"`
	TotalSuccesses int64        `json:"total_successes"`
	TotalFailures  int64        `json:"total_failures"`
	Rejections     int64        `json:"rejections"` // OPEN状态下的快速失败次数
	SuccessRate    float64      `json:"success_rate"`
	LastFailureAt  time.Time    `json:"last_failure_at"`
	Transitions    []Transition `json:"transitions"`
}

// Breaker 故障隔离熔断器
// 职责: 包裹单一操作类,连续失败后快速失败,避免持续锤击不稳定的上游
// 状态只沿 CLOSED→OPEN→HALF_OPEN→{CLOSED|OPEN} 迁移
type Breaker struct {
	cfg BreakerConfig

	mu                sync.Mutex
	state             BreakerState
	consecutiveFails  int       // CLOSED状态下的连续失败数
	halfOpenSuccesses int       // HALF_OPEN状态下的连续成功数
	lastFailureAt     time.Time // 最近一次真实失败时间
	openedAt          time.Time // 进入OPEN的时间

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	rejections     int64
	transitions    []Transition
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
	}
}

// Allow 请求放行裁决
// OPEN状态下resetTimeout到期后的第一个请求迁移到HALF_OPEN并放行
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(StateHalfOpen)
			return nil
		}
		b.rejections++
		return models.ErrBreakerOpen

	case StateHalfOpen:
		// 半开状态放行探测流量
		return nil
	}

	return nil
}

// RecordResult 记录一次真实执行结果
// 仅真实执行结果参与失败计数,快速失败的拒绝不会到达这里
func (b *Breaker) RecordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.totalFailures++
		b.lastFailureAt = time.Now()
	} else {
		b.totalSuccesses++
	}

	switch b.state {
	case StateClosed:
		if err != nil {
			b.consecutiveFails++
			if b.consecutiveFails >= b.cfg.FailureThreshold {
				b.transitionLocked(StateOpen)
			}
		} else {
			b.consecutiveFails = 0
		}

	case StateHalfOpen:
		if err != nil {
			// 半开探测失败,立即重新打开
			b.halfOpenSuccesses = 0
			b.transitionLocked(StateOpen)
		} else {
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= halfOpenSuccessTarget {
				b.halfOpenSuccesses = 0
				b.consecutiveFails = 0
				b.transitionLocked(StateClosed)
			}
		}
	}
}

// Execute 通过熔断器执行操作
func (b *Breaker) Execute(op func() (interface{}, error)) (interface{}, error) {
	if err := b.Allow(); err != nil {
		return nil, err
	}

	result, err := op()
	b.RecordResult(err)
	return result, err
}

// transitionLocked 执行状态迁移并记录历史
// 调用方必须持有锁
func (b *Breaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	if to == StateOpen {
		b.openedAt = time.Now()
	}

	b.transitions = append(b.transitions, Transition{From: from, To: to, At: time.Now()})

	log.Warn().
		Str("from", string(from)).
		Str("to", string(to)).
		Int("consecutive_failures", b.consecutiveFails).
		Msg("熔断器状态迁移")
}

// State 返回当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics 返回观测指标快照
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 成功率分母包含快速失败的拒绝,拒绝数单独列出供调用方区分
	var rate float64
	if b.totalRequests > 0 {
		rate = float64(b.totalSuccesses) / float64(b.totalRequests)
	}

	transitions := make([]Transition, len(b.transitions))
	copy(transitions, b.transitions)

	return BreakerMetrics{
		State:          b.state,
		TotalRequests:  b.totalRequests,
		TotalSuccesses: b.totalSuccesses,
		TotalFailures:  b.totalFailures,
		Rejections:     b.rejections,
		SuccessRate:    rate,
		LastFailureAt:  b.lastFailureAt,
		Transitions:    transitions,
	}
}

// Reset 手动复位熔断器到闭合状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
	b.consecutiveFails = 0
	b.halfOpenSuccesses = 0
}
