package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/ExtractGuard/internal/core"
	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 提取参数
	targetURL   string
	targetFile  string
	options     []string // 提取选项,格式 key=value
	priorityStr string
	mode        string
	headless    bool
	outputDir   string

	// 资源与调度参数
	maxInstances   int
	maxConcurrency int
	taskTimeout    int
	maxRetries     int
	cacheTTL       int

	// 批量处理参数
	batchDelay      int
	continueOnError bool

	// 观测参数
	showStats bool
)

var rootCmd = &cobra.Command{
	Use:   "extractguard",
	Short: "带弹性控制的网页内容提取工具",
	Long: `ExtractGuard - 带弹性与并发控制的网页内容提取工具 (Go版本)

围绕浏览器实例池构建的内容提取引擎,内置:
  • 浏览器实例/会话资源池 (实例数有界,会话泄漏自动回收)
  • 优先级准入队列 + 滑动窗口限速
  • 熔断器故障隔离
  • 分类重试 + 全局重试预算
  • 指纹化LRU/TTL结果缓存

使用示例:
  # 单目标提取
  extractguard -u https://example.com

  # 高优先级 + 自定义选项
  extractguard -u https://example.com -p high -O render_wait_ms=5000

  # 批量提取
  extractguard -f targets.txt --batch-delay 2

  # 验证配置文件
  extractguard validate-config -c configs/config.yaml

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 初始化日志系统
		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 如果没有提供任何目标,显示帮助信息
		if targetURL == "" && targetFile == "" {
			return cmd.Help()
		}

		// 验证参数
		if err := ValidateFlags(targetURL, priorityStr, mode, maxInstances, maxConcurrency, taskTimeout); err != nil {
			return err
		}

		// 加载配置并合并命令行参数
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig.MergeCLIFlags(maxInstances, maxConcurrency, taskTimeout, maxRetries, cacheTTL, mode, headless)

		// 解析提取选项
		extractOptions, err := ParseOptions(options)
		if err != nil {
			return err
		}

		priority, err := models.ParsePriority(priorityStr)
		if err != nil {
			return err
		}

		// 创建引擎
		engine, err := core.NewEngine(appConfig)
		if err != nil {
			return fmt.Errorf("创建提取引擎失败: %w", err)
		}
		defer engine.Close()

		// 信号处理: Ctrl+C取消进行中的提取并优雅关闭
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			utils.Warnf("\n收到中断信号: %v, 正在优雅关闭...", sig)
			cancel()
		}()

		// 批量处理模式
		if targetFile != "" {
			targets, err := utils.ReadTargetsFromFile(targetFile)
			if err != nil {
				return fmt.Errorf("读取目标文件失败: %w", err)
			}

			runner := core.NewBatchRunner(engine, batchDelay, continueOnError, priority, outputDir)
			report, err := runner.Run(ctx, targets, extractOptions)
			if err != nil {
				return fmt.Errorf("批量提取失败: %w", err)
			}

			if report.Failed > 0 && !continueOnError {
				return fmt.Errorf("批量提取未完成: %d个目标失败", report.Failed)
			}
			utils.Info("✨ 批量提取任务完成!")
			return nil
		}

		// 单目标提取模式
		result, err := engine.Extract(ctx, targetURL, extractOptions, core.ExtractOptions{
			Priority:   priority,
			MaxRetries: -1,
		})
		if err != nil {
			return classifyForUser(err)
		}

		printResult(result)

		if showStats {
			printStats(engine)
		}

		utils.Info("✨ 提取任务完成!")
		return nil
	},
}

// classifyForUser 将内部错误映射为面向用户的提示
func classifyForUser(err error) error {
	switch {
	case models.IsTemporarilyUnavailable(err):
		return fmt.Errorf("目标暂时不可用,请稍后重试: %w", err)
	case models.IsPermanentlyUnavailable(err):
		return fmt.Errorf("目标不可用,请勿重试: %w", err)
	default:
		return fmt.Errorf("提取失败: %w", err)
	}
}

// printResult 打印提取结果
func printResult(result *models.ExtractResult) {
	fmt.Println("\n==================================================")
	fmt.Println("📄 提取结果")
	fmt.Println("==================================================")
	fmt.Printf("目标: %s\n", result.TargetID)
	fmt.Printf("标题: %s\n", result.Title)
	fmt.Printf("内容长度: %d 字节\n", result.ContentLength)
	fmt.Printf("链接数: %d\n", len(result.Links))
	fmt.Printf("脚本数: %d\n", len(result.Scripts))
	fmt.Printf("提取模式: %s\n", result.Mode)
	fmt.Printf("⏱️  耗时: %.2f秒\n", result.Duration.Seconds())
	fmt.Println("==================================================")
}

// printStats 打印引擎观测指标
func printStats(engine *core.Engine) {
	stats := map[string]interface{}{
		"queue":           engine.QueueStats(),
		"queue_status":    engine.QueueStatus(),
		"pool":            engine.PoolStats(),
		"cache":           engine.CacheStats(),
		"breaker":         engine.BreakerMetrics(),
		"retry_budget":    engine.RetryBudgetRemaining(),
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		utils.Errorf("序列化统计信息失败: %v", err)
		return
	}
	fmt.Println("\n📊 引擎统计:")
	fmt.Println(string(data))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ExtractGuard %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Println("Go实现版本 - 带弹性控制的内容提取工具")
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "验证配置文件正确性",
	RunE: func(cmd *cobra.Command, args []string) error {
		utils.Info("🔍 验证配置文件...")

		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("配置验证失败: %w", err)
		}

		utils.Info("✅ 配置验证通过!")
		utils.Infof("资源池: 实例 %d-%d, 单实例会话上限 %d",
			appConfig.Pool.MinInstances, appConfig.Pool.MaxInstances, appConfig.Pool.MaxSessionsPerInstance)
		utils.Infof("队列: 并发 %d, 积压上限 %d, 限速 %d次/%ds",
			appConfig.Queue.MaxConcurrency, appConfig.Queue.MaxQueueSize,
			appConfig.Queue.RateMax, appConfig.Queue.RateWindowSec)
		utils.Infof("熔断器: 失败阈值 %d, 复位超时 %ds",
			appConfig.Breaker.FailureThreshold, appConfig.Breaker.ResetTimeoutSec)
		utils.Infof("重试: 最多 %d次, 预算 %d次/%ds",
			appConfig.Retry.MaxRetries, appConfig.Retry.BudgetMax, appConfig.Retry.BudgetWindowSec)
		utils.Infof("缓存: 容量 %d, TTL %ds",
			appConfig.Cache.MaxEntries, appConfig.Cache.DefaultTTLSec)
		return nil
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// 提取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标URL (必需,除非使用 --target-file)")
	rootCmd.Flags().StringVarP(&targetFile, "target-file", "f", "", "包含目标URL列表的文件路径")
	rootCmd.Flags().StringSliceVarP(&options, "option", "O", []string{}, "提取选项,格式: 'key=value',可多次指定")
	rootCmd.Flags().StringVarP(&priorityStr, "priority", "p", "normal", "任务优先级 (high|normal|low)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "提取模式 (dynamic|static)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "批量报告输出目录")

	// 资源与调度参数
	rootCmd.Flags().IntVar(&maxInstances, "max-instances", 0, "浏览器实例上限 (0=使用配置文件)")
	rootCmd.Flags().IntVar(&maxConcurrency, "concurrency", 0, "任务并发上限 (0=使用配置文件)")
	rootCmd.Flags().IntVar(&taskTimeout, "task-timeout", 0, "任务超时秒数 (0=使用配置文件)")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", -1, "最大重试次数 (-1=使用配置文件)")
	rootCmd.Flags().IntVar(&cacheTTL, "cache-ttl", 0, "缓存TTL秒数 (0=使用配置文件)")

	// 批量处理参数
	rootCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理目标间延迟(秒)")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	// 观测参数
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "完成后打印引擎统计信息")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
