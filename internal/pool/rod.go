package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// RodLauncher 基于Rod的浏览器实例创建器
type RodLauncher struct {
	headless bool
}

// NewRodLauncher 创建Rod启动器
func NewRodLauncher(headless bool) *RodLauncher {
	return &RodLauncher{headless: headless}
}

// Launch 启动一个浏览器进程并建立连接
func (rl *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().Headless(rl.headless)

	// 允许访问自签名、过期或主机名不匹配的HTTPS站点
	l = l.Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	log.Debug().Str("control_url", controlURL).Msg("浏览器已启动")
	return &rodBrowser{browser: browser}, nil
}

// rodBrowser 包装rod.Browser实现Browser接口
type rodBrowser struct {
	browser *rod.Browser
}

// NewPage 创建新标签页作为会话载体
func (b *rodBrowser) NewPage(_ context.Context) (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败(浏览器可能已崩溃): %w", err)
	}
	return &rodPage{page: page}, nil
}

// Alive 存活探测: 能响应版本查询即视为存活
func (b *rodBrowser) Alive() bool {
	_, err := proto.BrowserGetVersion{}.Call(b.browser)
	return err == nil
}

// Close 关闭浏览器进程
func (b *rodBrowser) Close() error {
	return b.browser.Close()
}

// rodPage 包装rod.Page实现Page接口
type rodPage struct {
	page *rod.Page
}

// Navigate 导航到目标URL,等待加载完成后返回渲染后的HTML
func (p *rodPage) Navigate(ctx context.Context, url string, wait time.Duration) (string, error) {
	page := p.page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("页面导航失败: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("等待页面加载失败: %w", err)
	}

	// 给动态渲染留出时间
	if wait > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("读取页面内容失败: %w", err)
	}
	return html, nil
}

// Close 关闭标签页
func (p *rodPage) Close() error {
	return p.page.Close()
}
