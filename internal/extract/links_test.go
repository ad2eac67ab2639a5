package extract

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>示例页面</title>
	<style>body { color: red; }</style>
	<script src="/static/app.js"></script>
	<script>var inline = "secret";</script>
</head>
<body>
	<h1>欢迎</h1>
	<p>这是正文内容。</p>
	<a href="/about">关于</a>
	<a href="https://other.example.org/page">外部链接</a>
	<a href="/about">重复链接</a>
	<a href="mailto:admin@example.com">邮件</a>
	<a href="javascript:void(0)">脚本链接</a>
	<script src="https://cdn.example.com/lib.js"></script>
	<noscript>请启用JavaScript</noscript>
</body>
</html>`

// TestParseDocument 测试页面解析的标题、正文、链接和脚本提取
func TestParseDocument(t *testing.T) {
	doc, err := parseDocument(samplePage, "https://example.com/index.html")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	if doc.Title != "示例页面" {
		t.Errorf("标题 = %q, 期望 %q", doc.Title, "示例页面")
	}

	for _, want := range []string{"欢迎", "这是正文内容。"} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("正文应包含 %q, 实际: %q", want, doc.Text)
		}
	}
	// 内联脚本和样式不计入正文
	for _, absent := range []string{"secret", "color: red", "请启用JavaScript"} {
		if strings.Contains(doc.Text, absent) {
			t.Errorf("正文不应包含 %q", absent)
		}
	}

	wantLinks := []string{
		"https://example.com/about",
		"https://other.example.org/page",
	}
	if len(doc.Links) != len(wantLinks) {
		t.Fatalf("链接 = %v, 期望 %v", doc.Links, wantLinks)
	}
	for i, want := range wantLinks {
		if doc.Links[i] != want {
			t.Errorf("链接[%d] = %q, 期望 %q", i, doc.Links[i], want)
		}
	}

	wantScripts := []string{
		"https://example.com/static/app.js",
		"https://cdn.example.com/lib.js",
	}
	if len(doc.Scripts) != len(wantScripts) {
		t.Fatalf("脚本 = %v, 期望 %v", doc.Scripts, wantScripts)
	}
	for i, want := range wantScripts {
		if doc.Scripts[i] != want {
			t.Errorf("脚本[%d] = %q, 期望 %q", i, doc.Scripts[i], want)
		}
	}
}

// TestParseDocumentRelativeResolution 测试相对链接基于页面URL解析
func TestParseDocumentRelativeResolution(t *testing.T) {
	page := `<html><body>
		<a href="sub/page.html">相对路径</a>
		<a href="../up.html">上级路径</a>
		<a href="//cdn.example.net/asset">协议相对</a>
		<a href="#anchor">锚点</a>
	</body></html>`

	doc, err := parseDocument(page, "https://example.com/docs/index.html")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	want := []string{
		"https://example.com/docs/sub/page.html",
		"https://example.com/up.html",
		"https://cdn.example.net/asset",
		"https://example.com/docs/index.html#anchor",
	}
	if len(doc.Links) != len(want) {
		t.Fatalf("链接 = %v, 期望 %v", doc.Links, want)
	}
	for i := range want {
		if doc.Links[i] != want[i] {
			t.Errorf("链接[%d] = %q, 期望 %q", i, doc.Links[i], want[i])
		}
	}
}

// TestParseDocumentEmpty 测试空内容与破碎HTML的容错
func TestParseDocumentEmpty(t *testing.T) {
	doc, err := parseDocument("", "https://example.com/")
	if err != nil {
		t.Fatalf("空内容解析失败: %v", err)
	}
	if doc.Title != "" || doc.Text != "" || len(doc.Links) != 0 {
		t.Errorf("空内容应产生空文档: %+v", doc)
	}

	// html.Parse对破碎HTML容错,不应报错
	doc, err = parseDocument("<div><a href='/x'>未闭合", "https://example.com/")
	if err != nil {
		t.Fatalf("破碎HTML解析失败: %v", err)
	}
	if len(doc.Links) != 1 || doc.Links[0] != "https://example.com/x" {
		t.Errorf("链接 = %v, 期望提取到/x", doc.Links)
	}
}
