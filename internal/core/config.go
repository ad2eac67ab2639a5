package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Extract ExtractConfig `mapstructure:"extract"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// PoolConfig 资源池配置
type PoolConfig struct {
	MinInstances           int  `mapstructure:"min_instances"`
	MaxInstances           int  `mapstructure:"max_instances"`
	MaxSessionsPerInstance int  `mapstructure:"max_sessions_per_instance"`
	InstanceTimeoutSec     int  `mapstructure:"instance_timeout"`
	SessionTimeoutSec      int  `mapstructure:"session_timeout"`
	AcquireTimeoutSec      int  `mapstructure:"acquire_timeout"`
	HealthIntervalSec      int  `mapstructure:"health_interval"`
	MemoryThresholdMB      int  `mapstructure:"memory_threshold_mb"`
	MemoryReserveMB        int  `mapstructure:"memory_reserve_mb"`
	Headless               bool `mapstructure:"headless"`
}

// QueueConfig 准入队列配置
type QueueConfig struct {
	MaxConcurrency    int `mapstructure:"max_concurrency"`
	MaxQueueSize      int `mapstructure:"max_queue_size"`
	TaskTimeoutSec    int `mapstructure:"task_timeout"`
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	RateWindowSec     int `mapstructure:"rate_window"`
	RateMax           int `mapstructure:"rate_max"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutSec  int `mapstructure:"reset_timeout"`
}

// RetryConfig 重试控制器配置
type RetryConfig struct {
	MaxRetries      int     `mapstructure:"max_retries"`
	BaseDelayMs     int     `mapstructure:"base_delay_ms"`
	MaxDelayMs      int     `mapstructure:"max_delay_ms"`
	Factor          float64 `mapstructure:"factor"`
	Jitter          bool    `mapstructure:"jitter"`
	BudgetWindowSec int     `mapstructure:"budget_window"`
	BudgetMax       int     `mapstructure:"budget_max"`
	BudgetPerClass  bool    `mapstructure:"budget_per_class"`
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	MaxEntries       int `mapstructure:"max_entries"`
	DefaultTTLSec    int `mapstructure:"default_ttl"`
	SweepIntervalSec int `mapstructure:"sweep_interval"`
}

// ExtractConfig 提取配置
type ExtractConfig struct {
	Mode          string `mapstructure:"mode"`          // dynamic或static
	RenderWaitSec int    `mapstructure:"render_wait"`   // 页面渲染等待秒数
	FetchTimeout  int    `mapstructure:"fetch_timeout"` // 静态模式请求超时秒数
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".extractguard"))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 资源池默认值
	v.SetDefault("pool.min_instances", 1)
	v.SetDefault("pool.max_instances", 4)
	v.SetDefault("pool.max_sessions_per_instance", 5)
	v.SetDefault("pool.instance_timeout", 600)
	v.SetDefault("pool.session_timeout", 120)
	v.SetDefault("pool.acquire_timeout", 30)
	v.SetDefault("pool.health_interval", 15)
	v.SetDefault("pool.memory_threshold_mb", 500)
	v.SetDefault("pool.memory_reserve_mb", 1024)
	v.SetDefault("pool.headless", true)

	// 准入队列默认值
	v.SetDefault("queue.max_concurrency", 4)
	v.SetDefault("queue.max_queue_size", 100)
	v.SetDefault("queue.task_timeout", 120)
	v.SetDefault("queue.default_max_retries", 2)
	v.SetDefault("queue.rate_window", 60)
	v.SetDefault("queue.rate_max", 60)

	// 熔断器默认值
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", 30)

	// 重试控制器默认值
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 100)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.budget_window", 60)
	v.SetDefault("retry.budget_max", 30)
	v.SetDefault("retry.budget_per_class", false)

	// 结果缓存默认值
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.default_ttl", 3600)
	v.SetDefault("cache.sweep_interval", 60)

	// 提取默认值
	v.SetDefault("extract.mode", "dynamic")
	v.SetDefault("extract.render_wait", 2)
	v.SetDefault("extract.fetch_timeout", 30)

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
}

// Validate 校验配置的一致性
func (c *Config) Validate() error {
	if c.Pool.MinInstances < 0 {
		return fmt.Errorf("pool.min_instances不能为负数: %d", c.Pool.MinInstances)
	}
	if c.Pool.MaxInstances < 1 {
		return fmt.Errorf("pool.max_instances必须至少为1: %d", c.Pool.MaxInstances)
	}
	if c.Pool.MinInstances > c.Pool.MaxInstances {
		return fmt.Errorf("pool.min_instances(%d)不能大于pool.max_instances(%d)",
			c.Pool.MinInstances, c.Pool.MaxInstances)
	}
	if c.Pool.MaxSessionsPerInstance < 1 {
		return fmt.Errorf("pool.max_sessions_per_instance必须至少为1: %d", c.Pool.MaxSessionsPerInstance)
	}
	if c.Queue.MaxConcurrency < 1 {
		return fmt.Errorf("queue.max_concurrency必须至少为1: %d", c.Queue.MaxConcurrency)
	}
	if c.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("queue.max_queue_size必须至少为1: %d", c.Queue.MaxQueueSize)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold必须至少为1: %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeoutSec < 1 {
		return fmt.Errorf("breaker.reset_timeout必须至少为1秒: %d", c.Breaker.ResetTimeoutSec)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries不能为负数: %d", c.Retry.MaxRetries)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor必须至少为1: %f", c.Retry.Factor)
	}
	if c.Retry.BaseDelayMs > c.Retry.MaxDelayMs {
		return fmt.Errorf("retry.base_delay_ms(%d)不能大于retry.max_delay_ms(%d)",
			c.Retry.BaseDelayMs, c.Retry.MaxDelayMs)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries必须至少为1: %d", c.Cache.MaxEntries)
	}
	if c.Extract.Mode != "dynamic" && c.Extract.Mode != "static" {
		return fmt.Errorf("extract.mode必须是dynamic或static: %s", c.Extract.Mode)
	}
	return nil
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(
	maxInstances int,
	maxConcurrency int,
	taskTimeout int,
	maxRetries int,
	cacheTTL int,
	mode string,
	headless bool,
) {
	if maxInstances > 0 {
		c.Pool.MaxInstances = maxInstances
	}
	if maxConcurrency > 0 {
		c.Queue.MaxConcurrency = maxConcurrency
	}
	if taskTimeout > 0 {
		c.Queue.TaskTimeoutSec = taskTimeout
	}
	if maxRetries >= 0 {
		c.Retry.MaxRetries = maxRetries
		c.Queue.DefaultMaxRetries = maxRetries
	}
	if cacheTTL > 0 {
		c.Cache.DefaultTTLSec = cacheTTL
	}
	if mode != "" {
		c.Extract.Mode = mode
	}
	c.Pool.Headless = headless
}

// seconds 配置项秒数转Duration
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// millis 配置项毫秒数转Duration
func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
