package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunLogWriter 每个文件追加一行 JSON 运行日志，用于离线回放与评估
type RunLogWriter struct {
	core zapcore.Core
	file *os.File
}

// NewRunLogWriter 以追加方式打开日志文件，目录不存在时创建
func NewRunLogWriter(path string) (*RunLogWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	w := newRunLogWriter(zapcore.Lock(f))
	w.file = f
	return w, nil
}

func newRunLogWriter(ws zapcore.WriteSyncer) *RunLogWriter {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	return &RunLogWriter{core: zapcore.NewCore(enc, ws, zapcore.InfoLevel)}
}

// Name 写入方名称
func (w *RunLogWriter) Name() string { return "runlog" }

// Write 逐文件写入一行
func (w *RunLogWriter) Write(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	for i := range job.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &job.Entries[i]
		fields := []zap.Field{
			zap.String("batch_id", e.BatchID),
			zap.Int("index", e.Index),
			zap.String("filename", e.Filename),
			zap.String("content_hash", e.ContentHash),
			zap.String("document_type", e.DocumentType),
			zap.String("schema_id", e.SchemaID),
			zap.String("workflow", e.Workflow),
			zap.String("strategy", job.Summary.Strategy),
			zap.String("status", e.Status),
			zap.Int("pages", e.Pages),
			zap.Int64("duration_ms", e.DurationMS),
		}
		if e.ErrorCode != "" {
			fields = append(fields, zap.String("error_code", e.ErrorCode))
		}
		if err := w.core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: now}, fields); err != nil {
			return fmt.Errorf("write run log: %w", err)
		}
	}
	return w.core.Sync()
}

// Close 关闭文件
func (w *RunLogWriter) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
