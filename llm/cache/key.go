package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/BaSui01/docintake/types"
)

// DeriveKey 计算内容寻址缓存键。
//
// 键为规范化 JSON 数组 [stage, version, sha256(content), params] 的 sha256 十六进制摘要。
// params 以规范化 JSON 参与计算，键顺序不同但语义相同的参数得到相同的键。
// 纯函数，跨进程稳定。
func DeriveKey(stage Stage, version string, content []byte, params any) (string, error) {
	sum := sha256.Sum256(content)
	payload := []any{string(stage), version, hex.EncodeToString(sum[:]), params}

	canonical, err := types.CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	return types.SHA256Hex(canonical), nil
}
