package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// GenerateKey 生成确定性缓存指纹
// 对目标ID和规范化后的选项集合做sha256,选项按键名排序,
// 保证逻辑相同的请求无论选项传入顺序如何都映射到同一个槽位
func GenerateKey(targetID string, options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(targetID)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(strings.ToLower(strings.TrimSpace(k)))
		sb.WriteByte('=')
		sb.WriteString(strings.TrimSpace(options[k]))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
