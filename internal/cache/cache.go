package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog/log"
)

// Entry 缓存条目
type Entry struct {
	Value      interface{}   // 缓存值
	InsertedAt time.Time     // 插入时间
	TTL        time.Duration // 条目级TTL
	LastAccess time.Time     // 最近访问时间
	Hits       int64         // 命中次数
	Size       int64         // 估算字节大小
}

// expired 判断条目是否过期
func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Stats 缓存统计
type Stats struct {
	Entries    int   `json:"entries"`     // 当前条目数
	Capacity   int   `json:"capacity"`    // 容量上限
	Hits       int64 `json:"hits"`        // 累计命中
	Misses     int64 `json:"misses"`      // 累计未命中
	Evictions  int64 `json:"evictions"`   // LRU淘汰次数
	Expired    int64 `json:"expired"`     // 过期删除次数
	TotalBytes int64 `json:"total_bytes"` // 估算总字节数
}

// Config 缓存配置
type Config struct {
	MaxEntries    int           // 容量上限
	DefaultTTL    time.Duration // 未指定TTL时的默认值
	SweepInterval time.Duration // 过期清扫周期(0表示不启动后台清扫)
}

// Cache 有界结果缓存
// 职责: 按指纹存储提取结果,严格LRU淘汰 + 条目级TTL过期,
// 周期性清扫限制无人再读的过期条目占用的内存
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]
	cfg Config

	hits      int64
	misses    int64
	evictions int64
	expired   int64
	inserting bool // Add调用期间为true,用于区分LRU淘汰与显式删除

	cancel context.CancelFunc
}

// New 创建缓存实例,并按配置启动后台清扫循环
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("缓存容量必须大于0: %d", cfg.MaxEntries)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	c := &Cache{cfg: cfg}

	// LRU淘汰仅发生在新键插入超出容量时,由simplelru内部保证
	lru, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("创建LRU失败: %w", err)
	}
	c.lru = lru

	if cfg.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.sweepLoop(ctx)
	}

	return c, nil
}

// onEvict 淘汰回调
// simplelru在Remove/Purge时也会触发,仅插入引发的才算LRU淘汰
func (c *Cache) onEvict(key string, _ *Entry) {
	if !c.inserting {
		return
	}
	c.evictions++
	log.Debug().Str("key", key).Msg("缓存条目被LRU淘汰")
}

// Get 按指纹读取缓存
// 先做过期检查: 已过期的条目删除并按未命中处理;命中时更新访问时间和命中数
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}

	now := time.Now()
	if entry.expired(now) {
		c.lru.Remove(key)
		c.expired++
		c.misses++
		return nil, false
	}

	entry.LastAccess = now
	entry.Hits++
	c.hits++
	return entry.Value, true
}

// Set 使用默认TTL写入缓存
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL 使用指定TTL写入缓存
// 容量超限时由LRU在插入的同一步内完成淘汰
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	now := time.Now()
	entry := &Entry{
		Value:      value,
		InsertedAt: now,
		TTL:        ttl,
		LastAccess: now,
		Size:       EstimateSize(value),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserting = true
	c.lru.Add(key, entry)
	c.inserting = false
}

// Delete 删除指定条目
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear 清空全部条目
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Sweep 清除所有过期条目(与访问模式无关),返回清除数量
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if entry.expired(now) {
			c.lru.Remove(key)
			c.expired++
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("缓存清扫完成")
	}
	return removed
}

// sweepLoop 后台清扫循环
func (c *Cache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats 返回统计快照
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalBytes int64
	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok {
			totalBytes += entry.Size
		}
	}

	return Stats{
		Entries:    c.lru.Len(),
		Capacity:   c.cfg.MaxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Expired:    c.expired,
		TotalBytes: totalBytes,
	}
}

// Close 停止后台清扫
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
