package extract

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// document 解析后的页面内容
type document struct {
	Title   string
	Text    string
	Links   []string
	Scripts []string
}

// parseDocument 解析HTML,提取标题、正文文本、链接和脚本地址
// 相对链接基于baseURL转换为绝对URL,重复链接去重
func parseDocument(htmlContent string, baseURL string) (*document, error) {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("解析baseURL失败: %w", err)
	}

	doc := &document{}
	seen := make(map[string]bool)
	var text strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "title":
				if doc.Title == "" && n.FirstChild != nil {
					doc.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				if link := resolveAttr(n, "href", base); link != "" && !seen[link] {
					seen[link] = true
					doc.Links = append(doc.Links, link)
				}
			case "script":
				if src := resolveAttr(n, "src", base); src != "" && !seen[src] {
					seen[src] = true
					doc.Scripts = append(doc.Scripts, src)
				}
				// 不进入script子树,内联脚本不计入正文
				return
			case "style", "noscript":
				return
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(trimmed)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	doc.Text = text.String()
	return doc, nil
}

// resolveAttr 读取节点属性并基于base转换为绝对的http(s)链接
// 非http(s)协议或无法解析的返回空
func resolveAttr(n *html.Node, key string, base *url.URL) string {
	for _, attr := range n.Attr {
		if attr.Key != key {
			continue
		}
		parsed, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil {
			return ""
		}
		absolute := base.ResolveReference(parsed)
		if absolute.Scheme != "http" && absolute.Scheme != "https" {
			return ""
		}
		return absolute.String()
	}
	return ""
}
