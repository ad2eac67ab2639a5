package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

func testConfig() Config {
	return Config{
		MaxConcurrency:    1,
		MaxQueueSize:      10,
		DefaultTimeout:    time.Second,
		DefaultMaxRetries: 0,
		RateWindow:        time.Minute,
		RateMax:           0, // 默认不限速,限速用例单独配置
	}
}

func mustTask(t *testing.T, url string) *models.Task {
	t.Helper()
	task, err := models.NewTask(url, nil)
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return task
}

// TestDispatchPriorityOrder 测试槽位释放后按优先级派发
// 单槽位被占用期间入队low/normal/high,释放后执行顺序为high→normal→low
func TestDispatchPriorityOrder(t *testing.T) {
	q, err := New(testConfig())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	// 占住唯一的槽位
	blockerHandle, err := q.Enqueue(mustTask(t, "https://example.com/blocker"), EnqueueOptions{
		Priority: models.PriorityNormal,
		Timeout:  5 * time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("入队blocker失败: %v", err)
	}

	// 等blocker占住槽位
	time.Sleep(20 * time.Millisecond)

	enqueue := func(name string, priority models.Priority) *Handle {
		h, err := q.Enqueue(mustTask(t, "https://example.com/"+name), EnqueueOptions{
			Priority: priority,
			Timeout:  5 * time.Second,
		}, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("入队%s失败: %v", name, err)
		}
		return h
	}

	// 按与期望相反的顺序入队
	hLow := enqueue("low", models.PriorityLow)
	hNormal := enqueue("normal", models.PriorityNormal)
	hHigh := enqueue("high", models.PriorityHigh)

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, h := range []*Handle{blockerHandle, hLow, hNormal, hHigh} {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("等待任务完成失败: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("执行顺序 = %v, 期望 %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("执行顺序 = %v, 期望 %v", order, want)
		}
	}
}

// TestEnqueueRejectsWhenFull 测试积压满载时立即拒绝
func TestEnqueueRejectsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 2
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	release := make(chan struct{})
	defer close(release)

	// 占住槽位
	_, err = q.Enqueue(mustTask(t, "https://example.com/blocker"), EnqueueOptions{
		Timeout: 5 * time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("入队blocker失败: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// 填满积压
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(mustTask(t, "https://example.com/queued"), EnqueueOptions{
			Timeout: 5 * time.Second,
		}, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatalf("入队第%d个任务失败: %v", i+1, err)
		}
	}

	// 第3个应立即被拒绝
	_, err = q.Enqueue(mustTask(t, "https://example.com/overflow"), EnqueueOptions{
		Timeout: 5 * time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, models.ErrQueueFull) {
		t.Errorf("期望队列已满错误, 实际: %v", err)
	}

	status := q.Status()
	if status.RemainingCapacity != 0 {
		t.Errorf("剩余容量 = %d, 期望 0", status.RemainingCapacity)
	}
}

// TestTaskTimeout 测试任务超时标记失败并释放槽位
func TestTaskTimeout(t *testing.T) {
	q, err := New(testConfig())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	h, err := q.Enqueue(mustTask(t, "https://example.com/slow"), EnqueueOptions{
		Timeout: 30 * time.Millisecond,
	}, func(ctx context.Context) (interface{}, error) {
		// 忽略取消信号的慢任务,结果必须被丢弃
		time.Sleep(200 * time.Millisecond)
		return "late-result", nil
	})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	if !errors.Is(err, models.ErrTaskTimeout) {
		t.Errorf("期望任务超时错误, 实际: %v", err)
	}
	if result != nil {
		t.Errorf("迟到的结果应被丢弃, 实际: %v", result)
	}

	// 槽位已释放,后续任务可以执行
	h2, err := q.Enqueue(mustTask(t, "https://example.com/next"), EnqueueOptions{
		Timeout: time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("入队后续任务失败: %v", err)
	}
	if result, err := h2.Wait(ctx); err != nil || result != "ok" {
		t.Errorf("后续任务应正常执行: result=%v err=%v", result, err)
	}
}

// TestRetryEscalation 测试可重试失败后升级优先级重新入队
func TestRetryEscalation(t *testing.T) {
	q, err := New(testConfig())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	task := mustTask(t, "https://example.com/flaky")
	calls := 0
	h, err := q.Enqueue(task, EnqueueOptions{
		Priority:   models.PriorityLow,
		Timeout:    time.Second,
		MaxRetries: 2,
	}, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, models.NewClassifiedError(models.CategoryNetwork, errors.New("flaky"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("任务最终应成功: %v", err)
	}
	if result != "ok" {
		t.Errorf("结果 = %v, 期望 ok", result)
	}
	if calls != 2 {
		t.Errorf("执行次数 = %d, 期望 2", calls)
	}
	if task.RetryCount != 1 {
		t.Errorf("重试计数 = %d, 期望 1", task.RetryCount)
	}
	if task.Priority != models.PriorityNormal {
		t.Errorf("优先级 = %v, 重入队后期望升级为normal", task.Priority)
	}

	stats := q.Stats()
	if stats.Retried != 1 {
		t.Errorf("重入队次数 = %d, 期望 1", stats.Retried)
	}
	if stats.Completed != 1 {
		t.Errorf("完成数 = %d, 期望 1", stats.Completed)
	}
}

// TestTerminalFailureNoRetry 测试终止类失败不重新入队
func TestTerminalFailureNoRetry(t *testing.T) {
	q, err := New(testConfig())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	calls := 0
	h, err := q.Enqueue(mustTask(t, "https://example.com/gone"), EnqueueOptions{
		Timeout:    time.Second,
		MaxRetries: 3,
	}, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, models.NewStatusError(404, errors.New("not found"))
	})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil {
		t.Fatal("期望任务失败")
	}
	if calls != 1 {
		t.Errorf("执行次数 = %d, 终止类失败期望只执行1次", calls)
	}
}

// TestRateLimitGatesDispatch 测试滑动窗口限速抑制派发
func TestRateLimitGatesDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 4
	cfg.RateWindow = 200 * time.Millisecond
	cfg.RateMax = 2
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}
	defer q.Close()

	var mu sync.Mutex
	started := 0
	handles := make([]*Handle, 0, 4)
	for i := 0; i < 4; i++ {
		h, err := q.Enqueue(mustTask(t, "https://example.com/task"), EnqueueOptions{
			Timeout: 5 * time.Second,
		}, func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			started++
			mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("入队第%d个任务失败: %v", i+1, err)
		}
		handles = append(handles, h)
	}

	// 窗口内只允许2次派发
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if started > 2 {
		t.Errorf("窗口内已派发 = %d, 期望不超过 2", started)
	}
	mu.Unlock()

	// 窗口滑过后其余任务被派发
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("等待任务完成失败: %v", err)
		}
	}
}

// TestCloseFailsPending 测试关闭队列时未派发任务落入关闭错误
func TestCloseFailsPending(t *testing.T) {
	q, err := New(testConfig())
	if err != nil {
		t.Fatalf("创建队列失败: %v", err)
	}

	release := make(chan struct{})
	defer close(release)

	// 占住槽位
	_, _ = q.Enqueue(mustTask(t, "https://example.com/blocker"), EnqueueOptions{
		Timeout: 5 * time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	h, err := q.Enqueue(mustTask(t, "https://example.com/pending"), EnqueueOptions{
		Timeout: 5 * time.Second,
	}, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, models.ErrQueueClosed) {
		t.Errorf("期望队列关闭错误, 实际: %v", err)
	}

	// 关闭后拒绝新任务
	if _, err := q.Enqueue(mustTask(t, "https://example.com/late"), EnqueueOptions{}, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}); !errors.Is(err, models.ErrQueueClosed) {
		t.Errorf("关闭后入队应被拒绝, 实际: %v", err)
	}
}
