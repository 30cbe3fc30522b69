package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🖨️ PDF 栅格化（pdftoppm）
// =============================================================================

// Runner 执行外部命令，测试中可替换
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *zap.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Warn("command failed",
			zap.String("cmd", name),
			zap.Strings("args", args),
			zap.Duration("duration", time.Since(start)),
			zap.String("stderr", clip(errb.String(), 8<<10)),
			zap.Error(err),
		)
	} else {
		r.logger.Debug("command finished",
			zap.String("cmd", name),
			zap.Duration("duration", time.Since(start)),
			zap.Int("stdout_bytes", out.Len()),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// RasterizerConfig pdftoppm 参数
type RasterizerConfig struct {
	// Command pdftoppm 可执行文件路径
	Command string
	// DPI 渲染分辨率
	DPI int
	// MaxPages 最多渲染的页数，0 表示全部
	MaxPages int
}

// DefaultRasterizerConfig 返回默认栅格化配置
func DefaultRasterizerConfig() RasterizerConfig {
	return RasterizerConfig{Command: "pdftoppm", DPI: 150, MaxPages: 10}
}

// Rasterizer 调用 pdftoppm 把 PDF 渲染为逐页 PNG
type Rasterizer struct {
	cfg    RasterizerConfig
	runner Runner
	logger *zap.Logger
}

// RasterizerOption 栅格化选项
type RasterizerOption func(*Rasterizer)

// WithRunner 替换命令执行器
func WithRunner(r Runner) RasterizerOption {
	return func(z *Rasterizer) { z.runner = r }
}

// NewRasterizer 创建栅格化器
func NewRasterizer(cfg RasterizerConfig, logger *zap.Logger, opts ...RasterizerOption) *Rasterizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRasterizerConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	z := &Rasterizer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "pdf_rasterizer")),
	}
	z.runner = execRunner{logger: z.logger}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Rasterize 渲染 PDF，按页序返回 PNG 字节
func (z *Rasterizer) Rasterize(ctx context.Context, content []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docintake-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			z.logger.Warn("failed to remove temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, content, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "page")
	args := []string{"-r", strconv.Itoa(z.cfg.DPI), "-png"}
	if z.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(z.cfg.MaxPages))
	}
	args = append(args, in, prefix)

	if _, errb, err := z.runner.Run(ctx, z.cfg.Command, args...); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", z.cfg.Command, err, clip(string(errb), 512))
	}

	// page-1.png … 或零填充的 page-01.png …
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(prefix, matches[i]) < pageNumber(prefix, matches[j])
	})
	if z.cfg.MaxPages > 0 && len(matches) > z.cfg.MaxPages {
		matches = matches[:z.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s produced no images", z.cfg.Command)
	}

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		pages = append(pages, b)
	}
	return pages, nil
}

func pageNumber(prefix, path string) int {
	s := path[len(prefix)+1 : len(path)-len(".png")]
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
