package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryMonitorConfig 内存监控器配置
type MemoryMonitorConfig struct {
	SafetyReserve int64 // 安全保留内存(字节)
	Threshold     int64 // 安全阈值(字节),可用内存低于该值视为内存压力
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AllocatedMemory uint64 // 当前程序已分配内存(字节)
	AvailableMemory int64  // 可用内存(字节)
	SafetyReserve   int64  // 安全保留内存(字节)
	Threshold       int64  // 安全阈值(字节)
	Pressure        string // 内存压力等级
}

// MemoryMonitor 进程内存监控器
// 职责: 周期性采样内存占用,为资源池的压力收缩决策提供依据
type MemoryMonitor struct {
	cfg MemoryMonitorConfig

	// 系统总内存(字节)
	totalMemory uint64

	// 缓存的内存统计数据
	lastMemStats runtime.MemStats
	mu           sync.RWMutex

	// 监控控制
	cancelFunc context.CancelFunc
	isRunning  bool
}

// NewMemoryMonitor 创建内存监控器实例
func NewMemoryMonitor(cfg MemoryMonitorConfig) *MemoryMonitor {
	// 获取系统总内存(使用gopsutil获取真实系统内存)
	vmStat, err := mem.VirtualMemory()
	var totalMem uint64
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,使用默认值")
		totalMem = 4 * 1024 * 1024 * 1024 // 默认4GB
	} else {
		totalMem = vmStat.Total
		log.Info().Msgf("系统总内存: %.2f GB", float64(totalMem)/(1024*1024*1024))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &MemoryMonitor{
		cfg:          cfg,
		totalMemory:  totalMem,
		lastMemStats: memStats,
	}
}

// Start 启动后台采样循环(幂等)
func (m *MemoryMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFunc = cancel
	m.isRunning = true

	go m.loop(ctx, interval)
}

// loop 后台监控循环
func (m *MemoryMonitor) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)

			m.mu.Lock()
			m.lastMemStats = memStats
			m.mu.Unlock()
		}
	}
}

// Stop 停止监控
func (m *MemoryMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning && m.cancelFunc != nil {
		m.cancelFunc()
		m.isRunning = false
		m.cancelFunc = nil
	}
}

// availableLocked 计算当前可用内存
func (m *MemoryMonitor) availableLocked() int64 {
	return int64(m.totalMemory) - int64(m.lastMemStats.Alloc) - m.cfg.SafetyReserve
}

// UnderPressure 判断当前是否处于内存压力状态
// 可用内存低于安全阈值时,资源池应主动销毁空闲实例换取内存
func (m *MemoryMonitor) UnderPressure() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked() < m.cfg.Threshold
}

// Status 获取当前内存状态
func (m *MemoryMonitor) Status() MemoryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	available := m.availableLocked()
	availableMB := available / (1024 * 1024)

	var pressure string
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     m.totalMemory,
		AllocatedMemory: m.lastMemStats.Alloc,
		AvailableMemory: available,
		SafetyReserve:   m.cfg.SafetyReserve,
		Threshold:       m.cfg.Threshold,
		Pressure:        pressure,
	}
}
