package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/types"
)

// WarmReport 预热结果
type WarmReport struct {
	Warmed  int `json:"warmed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// WarmPrompts 为每个带文档类型的 Schema 合成并缓存系统提示词。
// 键与批处理共享，预热后的首个批次直接命中提示词缓存。
func (o *Orchestrator) WarmPrompts(ctx context.Context, schemas []*types.SchemaDetails) (WarmReport, error) {
	var report WarmReport
	for _, d := range schemas {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if d == nil || d.Schema == nil {
			report.Skipped++
			continue
		}
		docType := normalizeType(d.DocumentType)
		if docType == "" {
			report.Skipped++
			continue
		}

		prompt := o.systemPrompt(ctx, docType, d.Schema)
		if prompt == extract.FallbackSystemPrompt {
			report.Failed++
			continue
		}
		report.Warmed++
		o.logger.Debug("prompt warmed", zap.String("schema_id", d.ID), zap.String("document_type", docType))
	}

	o.logger.Info("prompt cache warmed",
		zap.Int("warmed", report.Warmed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
