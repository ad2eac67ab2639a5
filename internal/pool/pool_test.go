package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
)

// fakePage 测试用页面
type fakePage struct {
	closed atomic.Bool
}

func (p *fakePage) Navigate(ctx context.Context, url string, wait time.Duration) (string, error) {
	return "<html><title>fake</title></html>", nil
}

func (p *fakePage) Close() error {
	p.closed.Store(true)
	return nil
}

// fakeBrowser 测试用浏览器,存活状态可控
type fakeBrowser struct {
	alive  atomic.Bool
	closed atomic.Bool
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	if !b.alive.Load() {
		return nil, errors.New("浏览器已崩溃")
	}
	return &fakePage{}, nil
}

func (b *fakeBrowser) Alive() bool { return b.alive.Load() }

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

// fakeLauncher 测试用启动器,记录创建的所有浏览器
type fakeLauncher struct {
	mu       sync.Mutex
	browsers []*fakeBrowser
	failNext bool
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext {
		l.failNext = false
		return nil, errors.New("启动失败")
	}
	b := &fakeBrowser{}
	b.alive.Store(true)
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

func testPoolConfig() Config {
	return Config{
		MinInstances:           0,
		MaxInstances:           2,
		MaxSessionsPerInstance: 1,
		InstanceTimeout:        time.Minute,
		SessionTimeout:         time.Minute,
		AcquireTimeout:         100 * time.Millisecond,
		HealthInterval:         time.Minute,
	}
}

// TestPoolPrecreatesMinInstances 测试启动时预建最少实例
func TestPoolPrecreatesMinInstances(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.MinInstances = 2

	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	if got := launcher.count(); got != 2 {
		t.Errorf("预建实例数 = %d, 期望 2", got)
	}
	if stats := p.Stats(); stats.Instances != 2 {
		t.Errorf("Stats().Instances = %d, 期望 2", stats.Instances)
	}
}

// TestAcquireGrowsToMaxThenRejects 测试按需扩容到上限后拒绝
func TestAcquireGrowsToMaxThenRejects(t *testing.T) {
	launcher := &fakeLauncher{}
	p, err := New(testPoolConfig(), launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("第一次获取失败: %v", err)
	}
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("第二次获取失败: %v", err)
	}
	if got := launcher.count(); got != 2 {
		t.Errorf("实例数 = %d, 期望 2", got)
	}

	// 池已满,有界等待超时后返回容量错误
	if _, err := p.Acquire(ctx); !errors.Is(err, models.ErrPoolExhausted) {
		t.Errorf("期望资源池耗尽错误, 实际: %v", err)
	}
	// 等待期间不允许冲破实例上限
	if got := launcher.count(); got != 2 {
		t.Errorf("实例数 = %d, 等待不应新建实例", got)
	}

	s1.Release()
	s2.Release()
}

// TestAcquireWaitsForRelease 测试等待方在会话释放后被唤醒
func TestAcquireWaitsForRelease(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.MaxInstances = 1
	cfg.AcquireTimeout = 2 * time.Second
	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()
	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("第一次获取失败: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		s1.Release()
	}()

	start := time.Now()
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("等待后获取失败: %v", err)
	}
	defer s2.Release()

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("获取耗时 = %v, 应等待会话释放", elapsed)
	}
	// 复用同一实例,不新建
	if got := launcher.count(); got != 1 {
		t.Errorf("实例数 = %d, 期望复用", got)
	}
}

// TestReleaseIdempotent 测试重复归还无副作用
func TestReleaseIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	p, err := New(testPoolConfig(), launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("获取失败: %v", err)
	}
	s.Release()
	s.Release()

	if stats := p.Stats(); stats.OpenSessions != 0 {
		t.Errorf("已开会话数 = %d, 期望 0", stats.OpenSessions)
	}
}

// TestWithSessionAlwaysReleases 测试作用域借用保证归还
func TestWithSessionAlwaysReleases(t *testing.T) {
	launcher := &fakeLauncher{}
	p, err := New(testPoolConfig(), launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	opErr := errors.New("提取失败")
	err = p.WithSession(context.Background(), func(s *Session) error {
		if s.Page() == nil {
			t.Error("会话页面不应为空")
		}
		return opErr
	})
	if !errors.Is(err, opErr) {
		t.Errorf("期望透传操作错误, 实际: %v", err)
	}

	if stats := p.Stats(); stats.OpenSessions != 0 {
		t.Errorf("已开会话数 = %d, 失败后会话应已归还", stats.OpenSessions)
	}
}

// TestHealthReplacesDeadInstance 测试健康检查销毁失活实例并补足
func TestHealthReplacesDeadInstance(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.MinInstances = 1
	cfg.HealthInterval = 20 * time.Millisecond
	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	if got := launcher.count(); got != 1 {
		t.Fatalf("预建实例数 = %d, 期望 1", got)
	}

	// 模拟浏览器崩溃
	launcher.mu.Lock()
	dead := launcher.browsers[0]
	launcher.mu.Unlock()
	dead.alive.Store(false)

	// 等健康检查发现并替换
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if dead.closed.Load() && launcher.count() >= 2 && p.Stats().Instances == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !dead.closed.Load() {
		t.Error("失活实例应被关闭")
	}
	if got := launcher.count(); got < 2 {
		t.Errorf("实例创建数 = %d, 应补足替换实例", got)
	}
	stats := p.Stats()
	if stats.Destroyed < 1 {
		t.Errorf("销毁计数 = %d, 期望至少 1", stats.Destroyed)
	}
}

// TestReaperForcesLeakedSession 测试超时未归还的会话被强制回收
func TestReaperForcesLeakedSession(t *testing.T) {
	if testing.Short() {
		t.Skip("回收周期为秒级,短测试模式下跳过")
	}

	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.SessionTimeout = 100 * time.Millisecond
	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	// 借出后不归还,模拟调用方泄漏
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("获取失败: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().ForcedReleases >= 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	stats := p.Stats()
	if stats.ForcedReleases != 1 {
		t.Errorf("强制回收数 = %d, 期望 1", stats.ForcedReleases)
	}
	if stats.OpenSessions != 0 {
		t.Errorf("已开会话数 = %d, 期望 0", stats.OpenSessions)
	}
}

// TestCrashedBrowserMarkedUnhealthy 测试开会话失败的实例被标记为不健康
func TestCrashedBrowserMarkedUnhealthy(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.MinInstances = 1
	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}
	defer p.Shutdown()

	// 实例存活但页面创建失败(崩溃的典型表现)
	launcher.mu.Lock()
	launcher.browsers[0].alive.Store(false)
	launcher.failNext = true
	launcher.mu.Unlock()

	// 存活实例不可用且新建失败,获取应报错
	if _, err := p.Acquire(context.Background()); err == nil {
		t.Error("期望获取失败")
	}
	if stats := p.Stats(); stats.CreationFailures < 1 {
		t.Errorf("创建失败计数 = %d, 期望至少 1", stats.CreationFailures)
	}
}

// TestShutdownClosesEverything 测试关闭后释放全部实例并拒绝新请求
func TestShutdownClosesEverything(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := testPoolConfig()
	cfg.MinInstances = 2
	p, err := New(cfg, launcher)
	if err != nil {
		t.Fatalf("创建资源池失败: %v", err)
	}

	p.Shutdown()

	launcher.mu.Lock()
	for i, b := range launcher.browsers {
		if !b.closed.Load() {
			t.Errorf("实例%d未被关闭", i)
		}
	}
	launcher.mu.Unlock()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, models.ErrPoolClosed) {
		t.Errorf("期望资源池已关闭错误, 实际: %v", err)
	}
}
