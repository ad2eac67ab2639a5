package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Page 浏览器页面,会话的载体
// Navigate驱动页面加载目标并返回渲染后的内容
type Page interface {
	Navigate(ctx context.Context, url string, wait time.Duration) (string, error)
	Close() error
}

// Browser 单个浏览器进程
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Alive() bool
	Close() error
}

// Launcher 负责创建浏览器实例
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Config 资源池配置
type Config struct {
	MinInstances           int           // 池内最少实例数
	MaxInstances           int           // 池内最多实例数
	MaxSessionsPerInstance int           // 单实例最大会话数
	InstanceTimeout        time.Duration // 实例最大存活/空闲时长,超过后被清理
	SessionTimeout         time.Duration // 会话硬超时,到期强制回收
	AcquireTimeout         time.Duration // acquire的有界等待时长
	HealthInterval         time.Duration // 健康检查周期
	MemoryMonitor          MemoryMonitorConfig
}

// DefaultConfig 默认资源池配置
func DefaultConfig() Config {
	return Config{
		MinInstances:           1,
		MaxInstances:           4,
		MaxSessionsPerInstance: 5,
		InstanceTimeout:        10 * time.Minute,
		SessionTimeout:         2 * time.Minute,
		AcquireTimeout:         30 * time.Second,
		HealthInterval:         15 * time.Second,
		MemoryMonitor: MemoryMonitorConfig{
			SafetyReserve: 1024 * 1024 * 1024, // 1GB
			Threshold:     500 * 1024 * 1024,  // 500MB
		},
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MinInstances < 0 {
		return fmt.Errorf("最少实例数不能为负数: %d", c.MinInstances)
	}
	if c.MaxInstances < 1 {
		return fmt.Errorf("最多实例数必须至少为1: %d", c.MaxInstances)
	}
	if c.MinInstances > c.MaxInstances {
		return fmt.Errorf("最少实例数(%d)不能大于最多实例数(%d)", c.MinInstances, c.MaxInstances)
	}
	if c.MaxSessionsPerInstance < 1 {
		return fmt.Errorf("单实例会话数必须至少为1: %d", c.MaxSessionsPerInstance)
	}
	return nil
}

// Instance 池内的一个浏览器实例
// 永不直接交给调用方,调用方只借出其上的会话
type Instance struct {
	id         string
	browser    Browser
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	sessions   map[string]*Session
	healthy    bool
}

// Session 从实例上开出的隔离会话
// 同一时刻由唯一调用方独占持有,完成或超时后归还池中
type Session struct {
	ID        string
	CreatedAt time.Time

	pool     *Pool
	inst     *Instance
	page     Page
	deadline time.Time
	released bool
}

// Page 返回会话承载的页面
func (s *Session) Page() Page {
	return s.page
}

// Release 归还会话(幂等)
func (s *Session) Release() {
	s.pool.releaseSession(s, false)
}

// Stats 资源池统计
type Stats struct {
	Instances        int     `json:"instances"`
	MaxInstances     int     `json:"max_instances"`
	OpenSessions     int     `json:"open_sessions"`
	Utilization      float64 `json:"utilization"` // 已开会话数 / 总会话容量
	Created          int64   `json:"created"`
	Destroyed        int64   `json:"destroyed"`
	CreationFailures int64   `json:"creation_failures"`
	ForcedReleases   int64   `json:"forced_releases"`
	Memory           MemoryStatus `json:"memory"`
}

// Pool 浏览器实例资源池
// 职责: 管理昂贵的外部浏览器进程和其上的会话,限界并发,
// 健康检查替换坏实例,内存压力下主动收缩,保证无泄漏
type Pool struct {
	cfg      Config
	launcher Launcher
	monitor  *MemoryMonitor

	mu        sync.Mutex
	instances []*Instance
	creating  int // 在途创建的实例数,防止并发创建冲破上限
	closed    bool

	created          int64
	destroyed        int64
	creationFailures int64
	forcedReleases   int64

	// 会话释放信号,唤醒等待acquire的调用方
	freeCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建资源池并预建最少实例
func New(cfg Config, launcher Launcher) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:      cfg,
		launcher: launcher,
		monitor:  NewMemoryMonitor(cfg.MemoryMonitor),
		freeCh:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.monitor.Start(time.Second)

	// 启动时预建最少实例,单个创建失败不阻止池的启动
	for i := 0; i < cfg.MinInstances; i++ {
		if _, err := p.addInstance(ctx); err != nil {
			log.Warn().Err(err).Msg("预建浏览器实例失败")
		}
	}

	go p.healthLoop()
	go p.reaperLoop()

	log.Info().
		Int("min", cfg.MinInstances).
		Int("max", cfg.MaxInstances).
		Int("instances", p.instanceCount()).
		Msg("资源池已启动")

	return p, nil
}

// Acquire 借出一个会话
// 流程: 清理过期实例 -> 补足最少实例 -> 选择有余量的LRU实例 ->
// 必要时新建实例 -> 池满时有界等待,超时返回容量错误
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		sess, retry, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
		if !retry {
			return nil, models.ErrPoolExhausted
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: 等待%v后仍无可用会话", models.ErrPoolExhausted, p.cfg.AcquireTimeout)
		case <-p.freeCh:
			// 有会话释放,重试获取
		}
	}
}

// tryAcquire 单次获取尝试
// 返回(会话, 是否应继续等待, 错误)
func (p *Pool) tryAcquire(ctx context.Context) (*Session, bool, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, false, models.ErrPoolClosed
	}

	p.pruneStaleLocked()
	p.replenishLocked()

	// 选择最久未使用且有会话余量的健康实例
	var pick *Instance
	for _, inst := range p.instances {
		if !inst.healthy || len(inst.sessions) >= p.cfg.MaxSessionsPerInstance {
			continue
		}
		if pick == nil || inst.lastUsedAt.Before(pick.lastUsedAt) {
			pick = inst
		}
	}

	if pick != nil {
		sess, err := p.openSessionLocked(ctx, pick)
		p.mu.Unlock()
		return sess, false, err
	}

	// 无余量实例: 池未满则新建
	if len(p.instances)+p.creating < p.cfg.MaxInstances {
		p.creating++
		p.mu.Unlock()

		inst, err := p.addInstance(ctx)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			// 创建失败且没有其他实例可满足请求,向调用方透出
			return nil, false, fmt.Errorf("创建浏览器实例失败: %w", err)
		}
		sess, err := p.openSessionLocked(ctx, inst)
		p.mu.Unlock()
		return sess, false, err
	}

	p.mu.Unlock()
	// 池已满且无空闲,继续等待
	return nil, true, nil
}

// openSessionLocked 在指定实例上开出新会话
// 调用方必须持有锁
func (p *Pool) openSessionLocked(ctx context.Context, inst *Instance) (*Session, error) {
	page, err := inst.browser.NewPage(ctx)
	if err != nil {
		// 页面创建失败通常意味着浏览器已崩溃,交给健康检查替换
		inst.healthy = false
		p.creationFailures++
		return nil, fmt.Errorf("创建会话失败(浏览器可能已崩溃): %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		pool:      p,
		inst:      inst,
		page:      page,
		deadline:  now.Add(p.cfg.SessionTimeout),
	}

	inst.sessions[sess.ID] = sess
	inst.lastUsedAt = now
	inst.useCount++

	log.Debug().
		Str("session_id", sess.ID).
		Str("instance_id", inst.id).
		Int("open_sessions", len(inst.sessions)).
		Msg("会话已借出")

	return sess, nil
}

// addInstance 创建新实例并加入池
func (p *Pool) addInstance(ctx context.Context) (*Instance, error) {
	browser, err := p.launcher.Launch(ctx)
	if err != nil {
		p.mu.Lock()
		p.creationFailures++
		p.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	inst := &Instance{
		id:         uuid.New().String(),
		browser:    browser,
		createdAt:  now,
		lastUsedAt: now,
		sessions:   make(map[string]*Session),
		healthy:    true,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = browser.Close()
		return nil, models.ErrPoolClosed
	}
	p.instances = append(p.instances, inst)
	p.created++
	count := len(p.instances)
	p.mu.Unlock()

	log.Debug().Str("instance_id", inst.id).Int("instances", count).Msg("浏览器实例已创建")
	return inst, nil
}

// releaseSession 归还会话
// forced为true表示由回收器强制回收(调用方泄漏)
func (p *Pool) releaseSession(s *Session, forced bool) {
	p.mu.Lock()
	if s.released {
		p.mu.Unlock()
		return
	}
	s.released = true
	delete(s.inst.sessions, s.ID)
	s.inst.lastUsedAt = time.Now()
	if forced {
		p.forcedReleases++
	}
	closed := p.closed
	p.mu.Unlock()

	if err := s.page.Close(); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("关闭会话页面失败")
	}

	if forced {
		log.Warn().
			Str("session_id", s.ID).
			Dur("lifetime", time.Since(s.CreatedAt)).
			Msg("会话超过硬超时未归还,已强制回收(调用方泄漏)")
	}

	if !closed {
		select {
		case p.freeCh <- struct{}{}:
		default:
		}
	}
}

// ReleaseSession 按ID归还会话
func (p *Pool) ReleaseSession(sessionID string) bool {
	p.mu.Lock()
	var target *Session
	for _, inst := range p.instances {
		if s, ok := inst.sessions[sessionID]; ok {
			target = s
			break
		}
	}
	p.mu.Unlock()

	if target == nil {
		return false
	}
	target.Release()
	return true
}

// WithSession 有作用域的会话借用
// 无论fn成功、失败还是panic,会话都保证归还
func (p *Pool) WithSession(ctx context.Context, fn func(*Session) error) error {
	sess, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(sess)
}

// pruneStaleLocked 清理过期实例(仅零会话实例)
// 调用方必须持有锁
func (p *Pool) pruneStaleLocked() {
	now := time.Now()
	kept := p.instances[:0]
	for _, inst := range p.instances {
		stale := now.Sub(inst.createdAt) > p.cfg.InstanceTimeout ||
			now.Sub(inst.lastUsedAt) > p.cfg.InstanceTimeout
		if stale && len(inst.sessions) == 0 {
			p.destroyInstanceLocked(inst, "实例过期")
			continue
		}
		kept = append(kept, inst)
	}
	p.instances = kept
}

// replenishLocked 异步补足最少实例数
// 调用方必须持有锁
func (p *Pool) replenishLocked() {
	missing := p.cfg.MinInstances - len(p.instances) - p.creating
	for i := 0; i < missing; i++ {
		p.creating++
		go func() {
			_, err := p.addInstance(p.ctx)
			p.mu.Lock()
			p.creating--
			p.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("补足浏览器实例失败")
			}
		}()
	}
}

// destroyInstanceLocked 销毁实例(不从切片移除,由调用方处理)
// 调用方必须持有锁
func (p *Pool) destroyInstanceLocked(inst *Instance, reason string) {
	p.destroyed++
	browser := inst.browser
	go func() {
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭浏览器实例失败")
		}
	}()
	log.Debug().Str("instance_id", inst.id).Str("reason", reason).Msg("浏览器实例已销毁")
}

// removeInstanceLocked 从池中移除指定实例
// 调用方必须持有锁
func (p *Pool) removeInstanceLocked(target *Instance) {
	for i, inst := range p.instances {
		if inst == target {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			return
		}
	}
}

// healthLoop 周期健康检查
// 存活探测失败或断连的实例被立即销毁并替换,独立于过期清理周期;
// 内存压力下主动销毁一个最少实例数之上的空闲实例
func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth 单轮健康检查
func (p *Pool) checkHealth() {
	p.mu.Lock()
	var dead []*Instance
	for _, inst := range p.instances {
		if !inst.healthy || !inst.browser.Alive() {
			dead = append(dead, inst)
		}
	}
	for _, inst := range dead {
		// 坏实例上的残留会话一并标记释放
		for _, s := range inst.sessions {
			s.released = true
			p.forcedReleases++
		}
		inst.sessions = map[string]*Session{}
		p.removeInstanceLocked(inst)
		p.destroyInstanceLocked(inst, "健康检查失败")
	}

	// 内存压力: 销毁一个最少实例数之上的空闲实例,用延迟换内存
	if p.monitor.UnderPressure() && len(p.instances) > p.cfg.MinInstances {
		for _, inst := range p.instances {
			if len(inst.sessions) == 0 {
				p.removeInstanceLocked(inst)
				p.destroyInstanceLocked(inst, "内存压力收缩")
				log.Warn().
					Int("instances", len(p.instances)).
					Msg("内存压力,主动收缩资源池")
				break
			}
		}
	}

	p.replenishLocked()
	p.mu.Unlock()

	if len(dead) > 0 {
		log.Warn().Int("replaced", len(dead)).Msg("健康检查销毁并替换了失活实例")
		// 实例被销毁后可能有等待方可以新建实例
		select {
		case p.freeCh <- struct{}{}:
		default:
		}
	}
}

// reaperLoop 会话硬超时回收循环
// 保证行为不当的调用方不会造成永久性资源饥饿
func (p *Pool) reaperLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapExpiredSessions()
		}
	}
}

// reapExpiredSessions 强制回收超时未归还的会话
func (p *Pool) reapExpiredSessions() {
	now := time.Now()

	p.mu.Lock()
	var leaked []*Session
	for _, inst := range p.instances {
		for _, s := range inst.sessions {
			if now.After(s.deadline) {
				leaked = append(leaked, s)
			}
		}
	}
	p.mu.Unlock()

	for _, s := range leaked {
		p.releaseSession(s, true)
	}
}

// instanceCount 返回当前实例数
func (p *Pool) instanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	open := 0
	for _, inst := range p.instances {
		open += len(inst.sessions)
	}

	var utilization float64
	capacity := len(p.instances) * p.cfg.MaxSessionsPerInstance
	if capacity > 0 {
		utilization = float64(open) / float64(capacity)
	}

	return Stats{
		Instances:        len(p.instances),
		MaxInstances:     p.cfg.MaxInstances,
		OpenSessions:     open,
		Utilization:      utilization,
		Created:          p.created,
		Destroyed:        p.destroyed,
		CreationFailures: p.creationFailures,
		ForcedReleases:   p.forcedReleases,
		Memory:           p.monitor.Status(),
	}
}

// Shutdown 关闭资源池,释放所有实例
func (p *Pool) Shutdown() {
	p.cancel()
	p.monitor.Stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()

	for _, inst := range instances {
		for _, s := range inst.sessions {
			_ = s.page.Close()
		}
		if err := inst.browser.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭浏览器实例失败")
		}
	}

	log.Info().Msg("资源池已关闭")
}
