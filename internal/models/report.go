package models

import "time"

// TargetResult 批量提取中单个目标的结果摘要
type TargetResult struct {
	TargetID      string        `json:"target_id"`
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Title         string        `json:"title,omitempty"`
	ContentLength int           `json:"content_length,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// BatchReport 批量提取汇总报告
type BatchReport struct {
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  float64        `json:"duration_seconds"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []TargetResult `json:"results"`
}
