package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/rs/zerolog/log"
)

// 限流退避的基准间隔: 第n次重试至少等待 5s × (n+1)
const rateLimitBaseDelay = 5 * time.Second

// RetryConfig 重试控制器配置
type RetryConfig struct {
	MaxRetries     int           // 首次尝试之外的最大重试次数
	BaseDelay      time.Duration // 基础退避延迟
	MaxDelay       time.Duration // 退避延迟上限
	Factor         float64       // 指数退避因子
	Jitter         bool          // 是否启用±20%抖动
	BudgetWindow   time.Duration // 重试预算滑动窗口长度
	BudgetMax      int           // 窗口内允许的总重试次数(0表示不限制)
	BudgetPerClass bool          // 预算粒度: true=按操作类独立, false=全局共享
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
		BudgetWindow: time.Minute,
		BudgetMax:    30,
	}
}

// Operation 被保护的可失败操作
type Operation func(ctx context.Context) (interface{}, error)

// ExhaustedError 重试耗尽复合错误,内嵌原始错误和尝试次数
type ExhaustedError struct {
	Attempts int   // 总尝试次数
	Cause    error // 最后一次失败的原始错误
}

// Error 实现error接口
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试耗尽(共尝试%d次): %v", e.Attempts, e.Cause)
}

// Unwrap 返回原始错误
func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Controller 自适应重试控制器
// 职责: 对可失败操作做有界、分类、带退避的重试,并维护全局重试预算
type Controller struct {
	cfg RetryConfig

	// 重试预算: 按配置粒度维护一个或多个滑动窗口
	mu      sync.Mutex
	budgets map[string]*Window
}

// NewController 创建重试控制器
func NewController(cfg RetryConfig) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	return &Controller{
		cfg:     cfg,
		budgets: make(map[string]*Window),
	}
}

// Execute 带重试地执行操作
// class标识操作类别,预算粒度为per-class时每类独立计额,否则全部共享一个窗口
func (c *Controller) Execute(ctx context.Context, class string, op Operation) (interface{}, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 容量类错误立即透出,不消耗重试次数
		if models.IsCapacityError(err) {
			return nil, err
		}

		// 分类裁决在消耗重试次数之前进行
		if !Retryable(err, attempt) {
			return nil, err
		}

		// 单次操作自身的重试上限
		if attempt >= c.cfg.MaxRetries {
			return nil, &ExhaustedError{Attempts: attempt + 1, Cause: lastErr}
		}

		// 全局重试预算: 跨操作的系统级节流,独立于单任务的重试计数
		if !c.allowBudget(class) {
			log.Warn().Str("class", class).Msg("重试预算已耗尽,快速失败")
			return nil, fmt.Errorf("%w (操作类: %s)", models.ErrRetryBudgetExhausted, class)
		}

		delay := c.delayFor(attempt, err)
		log.Debug().
			Str("class", class).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("操作失败,退避后重试")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// delayFor 计算第attempt次尝试(从0开始)失败后的退避延迟
// 标准延迟 = min(base × factor^attempt, max),限流类失败使用更长的专用退避
func (c *Controller) delayFor(attempt int, err error) time.Duration {
	delay := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.Factor, float64(attempt)))
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}

	if Classify(err) == VerdictRateLimited {
		if ce, ok := models.AsClassified(err); ok && ce.RetryAfter > 0 {
			// 显式的retry-after提示原样采用
			return ce.RetryAfter
		}
		floor := rateLimitBaseDelay * time.Duration(attempt+1)
		if floor > delay {
			delay = floor
		}
		return delay
	}

	if c.cfg.Jitter && delay > 0 {
		// ±20%均匀抖动,避免重试风暴同步
		span := float64(delay) * 0.2
		delay = time.Duration(float64(delay) - span + rand.Float64()*2*span)
	}

	return delay
}

// allowBudget 尝试占用一个重试预算名额
func (c *Controller) allowBudget(class string) bool {
	if c.cfg.BudgetMax <= 0 {
		return true
	}

	key := "global"
	if c.cfg.BudgetPerClass {
		key = class
	}

	c.mu.Lock()
	w, ok := c.budgets[key]
	if !ok {
		w = NewWindow(c.cfg.BudgetWindow, c.cfg.BudgetMax)
		c.budgets[key] = w
	}
	c.mu.Unlock()

	return w.Allow()
}

// BudgetRemaining 返回指定操作类当前剩余的预算名额
func (c *Controller) BudgetRemaining(class string) int {
	if c.cfg.BudgetMax <= 0 {
		return math.MaxInt32
	}

	key := "global"
	if c.cfg.BudgetPerClass {
		key = class
	}

	c.mu.Lock()
	w, ok := c.budgets[key]
	c.mu.Unlock()

	if !ok {
		return c.cfg.BudgetMax
	}
	remaining := c.cfg.BudgetMax - w.Count()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
