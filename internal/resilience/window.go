package resilience

import (
	"sync"
	"time"
)

// Window 滑动时间窗口计数器
// 职责: 记录事件时间戳,回答"窗口内事件数是否已达上限"
// 用途: 准入队列的速率限制、重试控制器的全局重试预算、吞吐量统计
type Window struct {
	mu     sync.Mutex
	window time.Duration // 窗口长度
	max    int           // 窗口内最大事件数(0表示不限制,仅计数)
	stamps []time.Time   // 窗口内事件时间戳(按时间递增)
}

// NewWindow 创建滑动窗口
func NewWindow(window time.Duration, max int) *Window {
	return &Window{
		window: window,
		max:    max,
		stamps: make([]time.Time, 0, max),
	}
}

// Allow 尝试占用一个窗口名额
// 先丢弃过期记录,若窗口内事件数未达上限则记录当前事件并返回true
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)

	if w.max > 0 && len(w.stamps) >= w.max {
		return false
	}

	w.stamps = append(w.stamps, now)
	return true
}

// Record 无条件记录一个事件(用于统计型窗口)
func (w *Window) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)
	w.stamps = append(w.stamps, now)
}

// Count 返回窗口内当前事件数
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(time.Now())
	return len(w.stamps)
}

// NextFreeIn 返回距离下一个名额释放还需等待的时间
// 窗口未满时返回0
func (w *Window) NextFreeIn() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)

	if w.max <= 0 || len(w.stamps) < w.max {
		return 0
	}

	wait := w.stamps[0].Add(w.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// pruneLocked 丢弃窗口之外的过期记录
// 调用方必须持有锁
func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = w.stamps[idx:]
	}
}
