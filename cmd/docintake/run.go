package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/internal/export"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📂 run 命令
// =============================================================================

// runOptions 离线处理参数
type runOptions struct {
	Dir          string
	Out          string
	Format       string
	DocumentType string
	SchemaID     string
	SchemaFile   string
	Workflow     string
	UserID       string
	TenantID     string
}

// processor 与 HTTP 层一致的批处理入口
type processor interface {
	Process(ctx context.Context, req batch.Request) (*batch.Result, error)
}

func runBatch(args []string) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.StringVar(&opts.Dir, "dir", "", "Directory of documents to process")
	fs.StringVar(&opts.Out, "out", "", "Output file; format follows the extension")
	fs.StringVar(&opts.Format, "format", "json", "Output format when writing to stdout")
	fs.StringVar(&opts.DocumentType, "document-type", "", "Document type hint")
	fs.StringVar(&opts.SchemaID, "schema-id", "", "Stored schema ID")
	fs.StringVar(&opts.SchemaFile, "schema", "", "Inline JSON schema file")
	fs.StringVar(&opts.Workflow, "workflow", "", "auto, basic or balanced")
	fs.StringVar(&opts.UserID, "user", "cli", "User charged for the run")
	fs.StringVar(&opts.TenantID, "tenant", "", "Tenant owning stored schemas")
	fs.Parse(args)

	if opts.Dir == "" {
		fmt.Fprintln(os.Stderr, "run: -dir is required")
		fs.Usage()
		os.Exit(2)
	}

	cfg := mustLoadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	res, err := runDir(ctx, a.orchestrator, opts, logger)
	// 先排空持久化再退出
	if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
		logger.Warn("shutdown error", zap.Error(cerr))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(os.Stderr, res)
	if res.Status == batch.StatusFailed {
		os.Exit(1)
	}
}

// runDir 读取目录、执行批处理并写出结果
func runDir(ctx context.Context, p processor, opts runOptions, logger *zap.Logger) (*batch.Result, error) {
	format, err := outputFormat(opts)
	if err != nil {
		return nil, err
	}
	req, err := buildRequest(opts, logger)
	if err != nil {
		return nil, err
	}

	res, err := p.Process(ctx, req)
	if err != nil {
		return nil, err
	}

	if opts.Out == "" {
		return res, export.Write(os.Stdout, format, res)
	}
	f, err := os.Create(opts.Out)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	if err := export.Write(f, format, res); err != nil {
		f.Close()
		return nil, err
	}
	return res, f.Close()
}

// outputFormat 有输出文件时按扩展名推断格式
func outputFormat(opts runOptions) (export.Format, error) {
	if opts.Out != "" {
		if ext := strings.TrimPrefix(filepath.Ext(opts.Out), "."); ext != "" {
			return export.ParseFormat(ext)
		}
	}
	return export.ParseFormat(opts.Format)
}

// buildRequest 收集目录下受支持的文件，按文件名排序以保证索引稳定
func buildRequest(opts runOptions, logger *zap.Logger) (batch.Request, error) {
	workflow, err := batch.ParseWorkflow(opts.Workflow)
	if err != nil {
		return batch.Request{}, err
	}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return batch.Request{}, fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	req := batch.Request{
		DocumentType: strings.TrimSpace(opts.DocumentType),
		SchemaID:     opts.SchemaID,
		Workflow:     workflow,
		UserID:       opts.UserID,
		TenantID:     opts.TenantID,
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !document.Supported(e.Name()) {
			logger.Info("skipping unsupported file", zap.String("file", e.Name()))
			continue
		}
		content, err := os.ReadFile(filepath.Join(opts.Dir, e.Name()))
		if err != nil {
			return batch.Request{}, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		req.Files = append(req.Files, batch.File{Filename: e.Name(), Content: content})
	}
	if len(req.Files) == 0 {
		return batch.Request{}, types.Errorf(types.ErrEmptyBatch, "no supported documents in %s", opts.Dir)
	}

	if opts.SchemaFile != "" {
		raw, err := os.ReadFile(opts.SchemaFile)
		if err != nil {
			return batch.Request{}, fmt.Errorf("read schema: %w", err)
		}
		req.InlineSchema = raw
	}
	return req, nil
}

// printSummary 输出批次汇总与失败文件
func printSummary(w io.Writer, res *batch.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Batch\t%s\n", res.BatchID)
	fmt.Fprintf(tw, "Status\t%s\n", res.Status)
	fmt.Fprintf(tw, "Strategy\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "Files\t%d ok / %d failed / %d total\n", res.Successful, res.Failed, res.Total)
	fmt.Fprintf(tw, "Pages\t%d (refunded %d)\n", res.TotalPages, res.RefundedPages)
	fmt.Fprintf(tw, "Duration\t%dms\n", res.DurationMS)
	for _, e := range res.Errors {
		fmt.Fprintf(tw, "  %s\t%s\n", e.Filename, e.Error)
	}
	tw.Flush()
}
