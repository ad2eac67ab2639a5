package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/resilience"
	"github.com/rs/zerolog/log"
)

// TaskFunc 调用方提供的任务闭包
// 实际工作由闭包内部组合重试控制器/熔断器/资源池完成
type TaskFunc func(ctx context.Context) (interface{}, error)

// Config 准入队列配置
type Config struct {
	MaxConcurrency    int           // 在途任务并发上限
	MaxQueueSize      int           // 积压队列上限
	DefaultTimeout    time.Duration // 任务默认超时
	DefaultMaxRetries int           // 任务默认最大重试次数
	RateWindow        time.Duration // 速率限制滑动窗口长度
	RateMax           int           // 窗口内最大派发数(0表示不限速)
}

// DefaultConfig 默认队列配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    4,
		MaxQueueSize:      100,
		DefaultTimeout:    2 * time.Minute,
		DefaultMaxRetries: 2,
		RateWindow:        time.Minute,
		RateMax:           60,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("并发上限必须至少为1: %d", c.MaxConcurrency)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("队列上限必须至少为1: %d", c.MaxQueueSize)
	}
	return nil
}

// Handle 任务结果句柄
// 任务入队后归队列独占所有,调用方只持有该句柄等待结果
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result interface{}
	err    error
}

// complete 写入终态结果(幂等)
func (h *Handle) complete(result interface{}, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Wait 阻塞等待任务终态
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// Done 返回终态通知channel
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// item 队列内部的任务记录
type item struct {
	task   *models.Task
	run    TaskFunc
	handle *Handle
}

// outcome 一次任务执行的结果
type outcome struct {
	value interface{}
	err   error
}

// Stats 队列统计
type Stats struct {
	Queued          int     `json:"queued"`            // 积压任务数
	Processing      int     `json:"processing"`        // 在途任务数
	Completed       int64   `json:"completed"`         // 累计成功数
	Failed          int64   `json:"failed"`            // 累计失败数
	Retried         int64   `json:"retried"`           // 累计重入队次数
	AvgProcessingMs float64 `json:"avg_processing_ms"` // 滚动平均处理耗时
	Throughput      int     `json:"throughput"`        // 最近60秒完成数
}

// Status 队列状态
type Status struct {
	Queued            int  `json:"queued"`
	Processing        int  `json:"processing"`
	RemainingCapacity int  `json:"remaining_capacity"` // 积压队列剩余容量
	RateBudget        int  `json:"rate_budget"`        // 速率窗口剩余名额
	Closed            bool `json:"closed"`
}

// Queue 优先级准入队列
// 职责: 限界积压、严格优先级排序(同级FIFO)、并发槽位与滑动窗口限速门控、
// 任务超时与失败升级重入队
type Queue struct {
	cfg Config

	mu       sync.Mutex
	backlog  []*item
	inflight int
	closed   bool

	limiter     *resilience.Window // 派发速率限制
	completions *resilience.Window // 60秒吞吐量统计

	completed       int64
	failed          int64
	retried         int64
	totalProcessing time.Duration
	finishedCount   int64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建准入队列并启动派发循环
func New(cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:         cfg,
		limiter:     resilience.NewWindow(cfg.RateWindow, cfg.RateMax),
		completions: resilience.NewWindow(60*time.Second, 0),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	go q.dispatchLoop()
	return q, nil
}

// EnqueueOptions 入队参数
type EnqueueOptions struct {
	Priority   models.Priority
	Timeout    time.Duration
	MaxRetries int
}

// Enqueue 提交任务
// 积压已满时立即以容量错误拒绝,不阻塞
func (q *Queue) Enqueue(task *models.Task, opts EnqueueOptions, run TaskFunc) (*Handle, error) {
	if task == nil || run == nil {
		return nil, fmt.Errorf("任务和任务闭包不能为空")
	}

	task.Priority = opts.Priority
	task.Timeout = opts.Timeout
	if task.Timeout <= 0 {
		task.Timeout = q.cfg.DefaultTimeout
	}
	task.MaxRetries = opts.MaxRetries
	if task.MaxRetries < 0 {
		task.MaxRetries = q.cfg.DefaultMaxRetries
	}

	it := &item{
		task:   task,
		run:    run,
		handle: &Handle{done: make(chan struct{})},
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, models.ErrQueueClosed
	}
	if len(q.backlog) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w (上限%d)", models.ErrQueueFull, q.cfg.MaxQueueSize)
	}

	task.EnqueuedAt = time.Now()
	task.Status = models.TaskStatusQueued
	q.insertLocked(it)
	q.mu.Unlock()

	log.Debug().
		Str("task_id", task.ID).
		Str("priority", task.Priority.String()).
		Msg("任务已入队")

	q.signal()
	return it.handle, nil
}

// insertLocked 按优先级插入积压队列
// 插入到第一个严格更低优先级的任务之前,同级内保持FIFO
// 调用方必须持有锁
func (q *Queue) insertLocked(it *item) {
	idx := len(q.backlog)
	for i, existing := range q.backlog {
		if existing.task.Priority < it.task.Priority {
			idx = i
			break
		}
	}
	q.backlog = append(q.backlog, nil)
	copy(q.backlog[idx+1:], q.backlog[idx:])
	q.backlog[idx] = it
}

// signal 唤醒派发循环
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop 派发循环
// 槽位释放即机会性派发,不依赖固定节拍
func (q *Queue) dispatchLoop() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
			q.dispatch()
		}
	}
}

// dispatch 当并发槽位空闲且限速窗口有预算时,派发最高优先级的积压任务
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.closed || q.inflight >= q.cfg.MaxConcurrency || len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}

		if q.cfg.RateMax > 0 && !q.limiter.Allow() {
			wait := q.limiter.NextFreeIn()
			q.mu.Unlock()
			// 窗口满,定时唤醒等待名额释放
			time.AfterFunc(wait+time.Millisecond, q.signal)
			return
		}

		it := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.inflight++
		it.task.Status = models.TaskStatusProcessing
		q.mu.Unlock()

		go q.runTask(it)
	}
}

// runTask 执行单个任务
// 任务持有独立超时定时器;超时后标记失败并释放槽位,
// 底层操作协作式取消,迟到的结果被丢弃
func (q *Queue) runTask(it *item) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(q.ctx, it.task.Timeout)
	defer cancel()

	resCh := make(chan outcome, 1)
	go func() {
		value, err := it.run(ctx)
		resCh <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		// 超时或队列关闭: 标记失败,槽位立即释放
		err := fmt.Errorf("%w: 超过%v", models.ErrTaskTimeout, it.task.Timeout)
		if q.ctx.Err() != nil {
			err = models.ErrQueueClosed
		}
		log.Warn().
			Str("task_id", it.task.ID).
			Dur("timeout", it.task.Timeout).
			Msg("任务超时,结果将被丢弃")
		q.finish(it, nil, err, start)
		return

	case out := <-resCh:
		if out.err != nil &&
			resilience.Retryable(out.err, it.task.RetryCount) &&
			it.task.RetryCount < it.task.MaxRetries {
			q.requeue(it, out.err, start)
			return
		}
		q.finish(it, out.value, out.err, start)
	}
}

// requeue 失败任务重新入队
// 优先级提升一档(封顶high),重试计数递增;积压已满时直接落入失败终态
func (q *Queue) requeue(it *item, cause error, start time.Time) {
	q.mu.Lock()
	q.inflight--

	if q.closed || len(q.backlog) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.recordFinish(it, nil, fmt.Errorf("任务无法重入队: %w", cause), start)
		q.signal()
		return
	}

	it.task.RetryCount++
	it.task.Priority = it.task.Priority.Escalate()
	it.task.Status = models.TaskStatusRetrying
	it.task.EnqueuedAt = time.Now()
	q.retried++
	q.insertLocked(it)
	q.mu.Unlock()

	log.Debug().
		Str("task_id", it.task.ID).
		Int("retry_count", it.task.RetryCount).
		Str("priority", it.task.Priority.String()).
		Err(cause).
		Msg("任务失败,升级优先级后重新入队")

	q.signal()
}

// finish 任务落入终态并释放槽位
func (q *Queue) finish(it *item, value interface{}, err error, start time.Time) {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()

	q.recordFinish(it, value, err, start)
	q.signal()
}

// recordFinish 记录终态统计并完成句柄
func (q *Queue) recordFinish(it *item, value interface{}, err error, start time.Time) {
	elapsed := time.Since(start)

	q.mu.Lock()
	q.finishedCount++
	q.totalProcessing += elapsed
	if err != nil {
		q.failed++
		it.task.Status = models.TaskStatusFailed
		it.task.ErrorMessage = err.Error()
	} else {
		q.completed++
		it.task.Status = models.TaskStatusCompleted
	}
	q.mu.Unlock()

	q.completions.Record()
	it.handle.complete(value, err)
}

// Stats 返回统计快照
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var avgMs float64
	if q.finishedCount > 0 {
		avgMs = float64(q.totalProcessing.Milliseconds()) / float64(q.finishedCount)
	}

	return Stats{
		Queued:          len(q.backlog),
		Processing:      q.inflight,
		Completed:       q.completed,
		Failed:          q.failed,
		Retried:         q.retried,
		AvgProcessingMs: avgMs,
		Throughput:      q.completions.Count(),
	}
}

// Status 返回队列状态
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	rateBudget := -1
	if q.cfg.RateMax > 0 {
		rateBudget = q.cfg.RateMax - q.limiter.Count()
		if rateBudget < 0 {
			rateBudget = 0
		}
	}

	return Status{
		Queued:            len(q.backlog),
		Processing:        q.inflight,
		RemainingCapacity: q.cfg.MaxQueueSize - len(q.backlog),
		RateBudget:        rateBudget,
		Closed:            q.closed,
	}
}

// Close 关闭队列
// 积压中未派发的任务全部以关闭错误落入终态
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.backlog
	q.backlog = nil
	q.mu.Unlock()

	q.cancel()

	for _, it := range pending {
		it.task.Status = models.TaskStatusFailed
		it.handle.complete(nil, models.ErrQueueClosed)
	}

	log.Info().Int("discarded", len(pending)).Msg("准入队列已关闭")
}
