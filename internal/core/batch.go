package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/utils"
)

// BatchRunner 批量提取执行器
// 逐个目标通过引擎提取,目标之间可配置延迟,支持失败续跑
type BatchRunner struct {
	engine        *Engine
	batchDelay    time.Duration
	continueOnErr bool
	priority      models.Priority
	outputDir     string
}

// NewBatchRunner 创建批量执行器
func NewBatchRunner(engine *Engine, batchDelay int, continueOnErr bool, priority models.Priority, outputDir string) *BatchRunner {
	return &BatchRunner{
		engine:        engine,
		batchDelay:    time.Duration(batchDelay) * time.Second,
		continueOnErr: continueOnErr,
		priority:      priority,
		outputDir:     outputDir,
	}
}

// Run 批量提取目标列表
func (br *BatchRunner) Run(ctx context.Context, targets []string, options map[string]string) (*models.BatchReport, error) {
	utils.Infof("🚀 开始批量提取: %d个目标", len(targets))

	report := &models.BatchReport{
		StartTime: time.Now(),
		Total:     len(targets),
		Results:   make([]models.TargetResult, 0, len(targets)),
	}

	bar := utils.NewProgressBar(len(targets), "提取进度")

	for i, targetID := range targets {
		result := br.extractOne(ctx, targetID, options)
		report.Results = append(report.Results, result)
		_ = bar.Add(1)

		if result.Success {
			report.Succeeded++
		} else {
			report.Failed++
			utils.Errorf("❌ 提取失败 [%s]: %s", targetID, result.ErrorMessage)

			if !br.continueOnErr {
				utils.Warn("批量提取中止 (--continue-on-error=false)")
				break
			}
		}

		if ctx.Err() != nil {
			utils.Warn("批量提取被取消")
			break
		}

		// 目标间延迟(最后一个不需要)
		if i < len(targets)-1 && br.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个目标...", br.batchDelay.Seconds())
			select {
			case <-ctx.Done():
			case <-time.After(br.batchDelay):
			}
		}
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime).Seconds()

	br.printSummary(report)

	if br.outputDir != "" {
		reporter := utils.NewReporter(br.outputDir)
		if err := reporter.SaveBatchReport(report); err != nil {
			utils.Errorf("保存批量报告失败: %v", err)
		}
	}

	return report, nil
}

// extractOne 提取单个目标
func (br *BatchRunner) extractOne(ctx context.Context, targetID string, options map[string]string) models.TargetResult {
	start := time.Now()
	result := models.TargetResult{TargetID: targetID}

	value, err := br.engine.Extract(ctx, targetID, options, ExtractOptions{
		Priority:   br.priority,
		MaxRetries: -1,
	})
	result.Duration = time.Since(start)

	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		return result
	}

	result.Success = true
	result.Title = value.Title
	result.ContentLength = value.ContentLength
	return result
}

// printSummary 打印批量提取摘要
func (br *BatchRunner) printSummary(report *models.BatchReport) {
	utils.Info("\n==================================================")
	utils.Info("📊 批量提取摘要")
	utils.Info("==================================================")
	utils.Infof("总目标数: %d", report.Total)
	utils.Infof("✅ 成功: %d", report.Succeeded)
	utils.Infof("❌ 失败: %d", report.Failed)
	utils.Infof("⏱️  总耗时: %.2f秒", report.Duration)

	queueStats := br.engine.QueueStats()
	cacheStats := br.engine.CacheStats()
	utils.Infof("队列: 完成=%d 失败=%d 重试=%d 平均耗时=%.0fms",
		queueStats.Completed, queueStats.Failed, queueStats.Retried, queueStats.AvgProcessingMs)
	utils.Infof("缓存: 命中=%d 未命中=%d 淘汰=%d",
		cacheStats.Hits, cacheStats.Misses, cacheStats.Evictions)
	utils.Infof("熔断器状态: %s", br.engine.BreakerState())
	utils.Info("==================================================")

	// 显示失败的目标
	if report.Failed > 0 {
		utils.Warn("\n失败的目标:")
		for _, result := range report.Results {
			if !result.Success {
				utils.Warnf("  - %s: %s", result.TargetID, result.ErrorMessage)
			}
		}
	}
}
