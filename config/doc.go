// Package config 提供 docintake 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → DOCINTAKE_* 环境变量 → 兼容环境变量
// （MAX_CONCURRENT_DOCS、EXTRACTION_MODEL、VISION_MODEL、OPENAI_API_KEY）
// 的顺序叠加，最后由 Validate 统一校验。
package config
