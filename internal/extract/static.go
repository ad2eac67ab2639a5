package extract

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/ExtractGuard/internal/models"
	"github.com/RecoveryAshes/ExtractGuard/internal/pool"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// StaticLauncher 静态HTTP提取后端
// 不启动真实浏览器,通过Colly发起请求,实现与浏览器后端相同的接口
// 适用于无需JavaScript渲染的目标,资源开销远低于浏览器实例
type StaticLauncher struct {
	Timeout   time.Duration // 单次请求超时
	UserAgent string
}

// NewStaticLauncher 创建静态提取后端
func NewStaticLauncher(timeout time.Duration) *StaticLauncher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StaticLauncher{
		Timeout:   timeout,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	}
}

// Launch 实现pool.Launcher
func (l *StaticLauncher) Launch(_ context.Context) (pool.Browser, error) {
	return &staticBrowser{launcher: l}, nil
}

// staticBrowser 静态后端的"浏览器实例"
// 无进程,仅作为会话容器存在
type staticBrowser struct {
	launcher *StaticLauncher
}

func (b *staticBrowser) NewPage(_ context.Context) (pool.Page, error) {
	return &staticPage{launcher: b.launcher}, nil
}

func (b *staticBrowser) Alive() bool {
	return true
}

func (b *staticBrowser) Close() error {
	return nil
}

// staticPage 静态后端的"页面"
// 每次Navigate使用独立的collector,避免Colly访问历史相互污染
type staticPage struct {
	launcher *StaticLauncher
}

// fetchState 单次请求的响应记录
type fetchState struct {
	status     int
	body       []byte
	retryAfter time.Duration
	err        error
}

// Navigate 请求目标URL并返回解压后的响应体
// 静态后端没有渲染阶段,wait参数被忽略
func (p *staticPage) Navigate(ctx context.Context, targetURL string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", models.NewClassifiedError(models.CategoryTimeout, err)
	}

	// 跳过证书验证,允许访问自签名/过期证书的站点
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: p.launcher.Timeout,
	}

	c := colly.NewCollector(
		colly.UserAgent(p.launcher.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetClient(httpClient)
	c.SetRequestTimeout(p.launcher.Timeout)
	c.WithTransport(httpClient.Transport)

	state := &fetchState{}

	c.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		body, err := decompressBody(r.Headers.Get("Content-Encoding"), r.Body)
		if err != nil {
			log.Warn().Err(err).Str("url", targetURL).Msg("响应解压失败,使用原始内容")
			body = r.Body
		}
		state.body = body
	})

	c.OnError(func(r *colly.Response, err error) {
		state.err = err
		if r != nil {
			state.status = r.StatusCode
			state.retryAfter = parseRetryAfter(r.Headers.Get("Retry-After"))
		}
	})

	if err := c.Visit(targetURL); err != nil {
		state.err = err
	}
	c.Wait()

	if state.status >= 400 {
		cause := state.err
		if cause == nil {
			cause = fmt.Errorf("目标返回错误状态")
		}
		ce := models.NewStatusError(state.status, cause)
		ce.RetryAfter = state.retryAfter
		return "", ce
	}
	if state.err != nil {
		return "", models.NewClassifiedError(classifyFetchError(state.err), state.err)
	}

	return string(state.body), nil
}

func (p *staticPage) Close() error {
	return nil
}

// classifyFetchError 对无状态码的请求失败做分类
func classifyFetchError(err error) models.ErrorCategory {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.CategoryTimeout
	case strings.Contains(msg, "connection reset"):
		return models.CategoryConnectionReset
	default:
		return models.CategoryNetwork
	}
}

// parseRetryAfter 解析Retry-After头部(仅支持秒数形式)
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// decompressBody 根据Content-Encoding解压响应体
// 支持gzip、deflate、br三种压缩格式,未知编码原样返回
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		log.Warn().Str("encoding", contentEncoding).Msg("未知的Content-Encoding")
		return body, nil
	}
}
