package core

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/ExtractGuard/internal/cache"
	"github.com/RecoveryAshes/ExtractGuard/internal/extract"
	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/pool"
	"github.com/RecoveryAshes/ExtractGuard/internal/queue"
	"github.com/RecoveryAshes/ExtractGuard/internal/resilience"
	"github.com/RecoveryAshes/ExtractGuard/internal/utils"
	"github.com/rs/zerolog/log"
)

// 提取操作的重试预算类别
const extractClass = "extract"

// Extractor 内容提取协作方
// 在借出的会话上执行实际提取,失败时返回携带分类信息的错误
type Extractor interface {
	Extract(ctx context.Context, sess *pool.Session, targetID string, options map[string]string) (*models.ExtractResult, error)
}

// Engine 提取引擎
// 所有协作方在构造时显式装配: 缓存→熔断器→重试控制器→资源池→准入队列
// 没有全局单例,多引擎实例互不干扰
type Engine struct {
	cfg *Config

	cache     *cache.Cache
	breaker   *resilience.Breaker
	retrier   *resilience.Controller
	pool      *pool.Pool
	queue     *queue.Queue
	extractor Extractor

	validator *utils.OptionValidator
	redactor  *utils.OptionRedactor
}

// NewEngine 按配置装配提取引擎
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	resultCache, err := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		DefaultTTL:    seconds(cfg.Cache.DefaultTTLSec),
		SweepInterval: seconds(cfg.Cache.SweepIntervalSec),
	})
	if err != nil {
		return nil, fmt.Errorf("创建结果缓存失败: %w", err)
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     seconds(cfg.Breaker.ResetTimeoutSec),
	})

	retrier := resilience.NewController(resilience.RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseDelay:      millis(cfg.Retry.BaseDelayMs),
		MaxDelay:       millis(cfg.Retry.MaxDelayMs),
		Factor:         cfg.Retry.Factor,
		Jitter:         cfg.Retry.Jitter,
		BudgetWindow:   seconds(cfg.Retry.BudgetWindowSec),
		BudgetMax:      cfg.Retry.BudgetMax,
		BudgetPerClass: cfg.Retry.BudgetPerClass,
	})

	// 提取模式决定资源池的后端: 动态模式启动真实浏览器,静态模式走HTTP
	var launcher pool.Launcher
	if cfg.Extract.Mode == "static" {
		launcher = extract.NewStaticLauncher(seconds(cfg.Extract.FetchTimeout))
	} else {
		launcher = pool.NewRodLauncher(cfg.Pool.Headless)
	}

	instancePool, err := pool.New(pool.Config{
		MinInstances:           cfg.Pool.MinInstances,
		MaxInstances:           cfg.Pool.MaxInstances,
		MaxSessionsPerInstance: cfg.Pool.MaxSessionsPerInstance,
		InstanceTimeout:        seconds(cfg.Pool.InstanceTimeoutSec),
		SessionTimeout:         seconds(cfg.Pool.SessionTimeoutSec),
		AcquireTimeout:         seconds(cfg.Pool.AcquireTimeoutSec),
		HealthInterval:         seconds(cfg.Pool.HealthIntervalSec),
		MemoryMonitor: pool.MemoryMonitorConfig{
			SafetyReserve: int64(cfg.Pool.MemoryReserveMB) * 1024 * 1024,
			Threshold:     int64(cfg.Pool.MemoryThresholdMB) * 1024 * 1024,
		},
	}, launcher)
	if err != nil {
		resultCache.Close()
		return nil, fmt.Errorf("创建资源池失败: %w", err)
	}

	admission, err := queue.New(queue.Config{
		MaxConcurrency:    cfg.Queue.MaxConcurrency,
		MaxQueueSize:      cfg.Queue.MaxQueueSize,
		DefaultTimeout:    seconds(cfg.Queue.TaskTimeoutSec),
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		RateWindow:        seconds(cfg.Queue.RateWindowSec),
		RateMax:           cfg.Queue.RateMax,
	})
	if err != nil {
		instancePool.Shutdown()
		resultCache.Close()
		return nil, fmt.Errorf("创建准入队列失败: %w", err)
	}

	engine := &Engine{
		cfg:       cfg,
		cache:     resultCache,
		breaker:   breaker,
		retrier:   retrier,
		pool:      instancePool,
		queue:     admission,
		extractor: extract.NewContentExtractor(seconds(cfg.Extract.RenderWaitSec), cfg.Extract.Mode),
		validator: utils.NewOptionValidator(),
		redactor:  utils.NewOptionRedactor(),
	}

	log.Info().
		Str("mode", cfg.Extract.Mode).
		Int("pool_max", cfg.Pool.MaxInstances).
		Int("concurrency", cfg.Queue.MaxConcurrency).
		Msg("提取引擎初始化完成")

	return engine, nil
}

// ExtractOptions 单次提取的调度参数
type ExtractOptions struct {
	Priority   models.Priority
	MaxRetries int // 负数表示使用配置默认值
}

// Extract 提取目标内容
// 缓存命中直接返回;未命中时任务入队,调用方阻塞等待终态
func (e *Engine) Extract(ctx context.Context, targetID string, options map[string]string, opts ExtractOptions) (*models.ExtractResult, error) {
	// 选项在准入时检查一次
	if err := e.validator.Validate(options); err != nil {
		return nil, err
	}

	task, err := models.NewTask(targetID, options)
	if err != nil {
		return nil, err
	}

	key := cache.GenerateKey(targetID, options)
	if value, ok := e.cache.Get(key); ok {
		log.Debug().Str("target", targetID).Msg("缓存命中")
		return value.(*models.ExtractResult), nil
	}

	log.Info().
		Str("task_id", task.ID).
		Str("target", targetID).
		Str("priority", opts.Priority.String()).
		Str("options", e.redactor.RedactToString(options)).
		Msg("提交提取任务")

	handle, err := e.queue.Enqueue(task, queue.EnqueueOptions{
		Priority:   opts.Priority,
		Timeout:    seconds(e.cfg.Queue.TaskTimeoutSec),
		MaxRetries: opts.MaxRetries,
	}, func(taskCtx context.Context) (interface{}, error) {
		return e.runExtraction(taskCtx, key, targetID, options)
	})
	if err != nil {
		return nil, err
	}

	value, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return value.(*models.ExtractResult), nil
}

// runExtraction 任务闭包: 熔断器→重试控制器→资源池→提取器→缓存写入
func (e *Engine) runExtraction(ctx context.Context, key, targetID string, options map[string]string) (interface{}, error) {
	// 排队期间其他任务可能已填充缓存
	if value, ok := e.cache.Get(key); ok {
		return value, nil
	}

	value, err := e.breaker.Execute(func() (interface{}, error) {
		return e.retrier.Execute(ctx, extractClass, func(opCtx context.Context) (interface{}, error) {
			var result *models.ExtractResult
			sessionErr := e.pool.WithSession(opCtx, func(sess *pool.Session) error {
				r, extractErr := e.extractor.Extract(opCtx, sess, targetID, options)
				if extractErr != nil {
					return extractErr
				}
				result = r
				return nil
			})
			if sessionErr != nil {
				return nil, sessionErr
			}
			return result, nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, value)
	return value, nil
}

// QueueStats 队列统计
func (e *Engine) QueueStats() queue.Stats {
	return e.queue.Stats()
}

// QueueStatus 队列状态
func (e *Engine) QueueStatus() queue.Status {
	return e.queue.Status()
}

// PoolStats 资源池统计
func (e *Engine) PoolStats() pool.Stats {
	return e.pool.Stats()
}

// CacheStats 缓存统计
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// BreakerState 熔断器当前状态
func (e *Engine) BreakerState() resilience.BreakerState {
	return e.breaker.State()
}

// BreakerMetrics 熔断器观测指标
func (e *Engine) BreakerMetrics() resilience.BreakerMetrics {
	return e.breaker.Metrics()
}

// BreakerReset 手动复位熔断器
func (e *Engine) BreakerReset() {
	e.breaker.Reset()
}

// RetryBudgetRemaining 提取操作类当前剩余的重试预算
func (e *Engine) RetryBudgetRemaining() int {
	return e.retrier.BudgetRemaining(extractClass)
}

// ClearCache 清空结果缓存
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// Close 优雅关闭引擎
// 先关队列拒绝新任务,再排空资源池,最后停掉缓存清扫
func (e *Engine) Close() {
	log.Info().Msg("提取引擎开始关闭")
	e.queue.Close()
	e.pool.Shutdown()
	e.cache.Close()
	log.Info().Msg("提取引擎已关闭")
}
