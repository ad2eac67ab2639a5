package models

import "time"

// ExtractResult 一次内容提取的产出
// 作为缓存条目的值存储,按指纹键去重
type ExtractResult struct {
	TargetID      string        `json:"target_id"`      // 目标标识(URL)
	Title         string        `json:"title"`          // 页面标题
	Text          string        `json:"text"`           // 提取的正文文本
	Links         []string      `json:"links"`          // 页面内的绝对链接
	Scripts       []string      `json:"scripts"`        // 页面引用的脚本地址
	ContentLength int           `json:"content_length"` // 原始内容字节数
	StatusCode    int           `json:"status_code"`    // HTTP状态码(0表示未知)
	Mode          string        `json:"mode"`           // 提取模式(dynamic/static)
	ExtractedAt   time.Time     `json:"extracted_at"`   // 提取完成时间
	Duration      time.Duration `json:"duration"`       // 提取耗时
}
