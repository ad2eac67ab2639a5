package extract

import (
	"context"
	"strconv"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/pool"
	"github.com/rs/zerolog/log"
)

// ContentExtractor 内容提取器
// 驱动资源池借出的会话加载目标页面,解析出标题/正文/链接
// 提取失败时返回携带分类信息的错误,供重试控制器决策
type ContentExtractor struct {
	// 页面加载后等待渲染的时长,可被任务选项render_wait_ms覆盖
	RenderWait time.Duration

	// 提取模式标记,写入结果(dynamic/static)
	Mode string
}

// NewContentExtractor 创建内容提取器
func NewContentExtractor(renderWait time.Duration, mode string) *ContentExtractor {
	if renderWait <= 0 {
		renderWait = 2 * time.Second
	}
	if mode == "" {
		mode = "dynamic"
	}
	return &ContentExtractor{RenderWait: renderWait, Mode: mode}
}

// Extract 在给定会话上提取目标内容
func (e *ContentExtractor) Extract(ctx context.Context, sess *pool.Session, targetID string, options map[string]string) (*models.ExtractResult, error) {
	start := time.Now()

	wait := e.RenderWait
	if v, ok := options["render_wait_ms"]; ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			wait = time.Duration(ms) * time.Millisecond
		}
	}

	htmlContent, err := sess.Page().Navigate(ctx, targetID, wait)
	if err != nil {
		// 页面后端已负责错误分类,原样向上传递
		return nil, err
	}

	doc, err := parseDocument(htmlContent, targetID)
	if err != nil {
		return nil, models.NewClassifiedError(models.CategoryUnknown, err)
	}

	result := &models.ExtractResult{
		TargetID:      targetID,
		Title:         doc.Title,
		Text:          doc.Text,
		Links:         doc.Links,
		Scripts:       doc.Scripts,
		ContentLength: len(htmlContent),
		Mode:          e.Mode,
		ExtractedAt:   time.Now(),
		Duration:      time.Since(start),
	}

	log.Debug().
		Str("target", targetID).
		Str("session_id", sess.ID).
		Int("content_length", result.ContentLength).
		Int("links", len(result.Links)).
		Dur("duration", result.Duration).
		Msg("内容提取完成")

	return result, nil
}
