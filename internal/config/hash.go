package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash 返回配置的内容哈希（sha256 前 16 字节的 hex）。
// 该哈希进入所有缓存 key 与 run metadata：两份不同配置的缓存条目
// 绝不允许互相命中，两次同配置 run 必须能字节级对账。
// struct 的 JSON 序列化字段顺序固定，因此结果是确定的。
func (c *Config) Hash() string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Config 全部为可序列化的基础类型，到不了这里。
		panic(fmt.Sprintf("config hash: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

// EngineHash 只对引擎参数取哈希，供特征缓存使用：数据目录、HTTP 地址
// 这类与决策无关的字段变化不应引起缓存失效。
func (c *Config) EngineHash() string {
	raw, err := json.Marshal(struct {
		Engine EngineConfig `json:"engine"`
		Replay ReplayConfig `json:"replay"`
	}{c.Engine, c.Replay})
	if err != nil {
		panic(fmt.Sprintf("engine hash: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
