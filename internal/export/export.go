package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

// Format 导出格式
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat 解析导出格式，空串视为 json
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", types.Errorf(types.ErrInvalidRequest, "unsupported export format %q", s)
}

// ContentType 返回 HTTP Content-Type
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Extension 文件扩展名（含点）
func (f Format) Extension() string {
	return "." + string(f)
}

// Write 按格式写出批次结果
func Write(w io.Writer, f Format, r *batch.Result) error {
	switch f {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(r)
	case FormatCSV:
		return writeCSV(w, r)
	case FormatXLSX:
		return writeXLSX(w, r)
	}
	return types.Errorf(types.ErrInvalidRequest, "unsupported export format %q", f)
}

// =============================================================================
// 📋 表格化
// =============================================================================

var baseColumns = []string{
	"index", "filename", "status", "document_type", "workflow",
	"pages", "duration_ms", "error_code", "error",
}

// Table 把结果展开为二维表：固定列在前，抽取字段按首次出现顺序追加
func Table(r *batch.Result) (header []string, rows [][]string) {
	var fieldKeys []string
	seen := make(map[string]bool)
	for i := range r.Results {
		for _, k := range r.Results[i].Fields.Keys() {
			if !seen[k] {
				seen[k] = true
				fieldKeys = append(fieldKeys, k)
			}
		}
	}

	header = append(append([]string{}, baseColumns...), fieldKeys...)
	for i := range r.Results {
		o := &r.Results[i]
		row := []string{
			strconv.Itoa(o.Index),
			o.Filename,
			string(o.Status),
			o.DocumentType,
			string(o.Workflow),
			strconv.Itoa(o.Pages),
			strconv.FormatInt(o.DurationMS, 10),
			string(o.ErrorCode),
			o.Error,
		}
		for _, k := range fieldKeys {
			v, ok := o.Fields.Get(k)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, flatten(v.Interface()))
		}
		rows = append(rows, row)
	}
	return header, rows
}

// flatten 标量原样输出；标量列表用 "; " 连接；对象与对象列表编码为 JSON
func flatten(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			switch item.(type) {
			case map[string]any, []any:
				return jsonString(x)
			}
			parts = append(parts, flatten(item))
		}
		return strings.Join(parts, "; ")
	default:
		return jsonString(x)
	}
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func writeCSV(w io.Writer, r *batch.Result) error {
	header, rows := Table(r)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// =============================================================================
// 📊 XLSX
// =============================================================================

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

func writeXLSX(w io.Writer, r *batch.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	header, rows := Table(r)
	if err := setRow(f, resultsSheet, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, resultsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(resultsSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	summary := [][]any{
		{"batch_id", r.BatchID},
		{"status", string(r.Status)},
		{"strategy", string(r.Strategy)},
		{"document_type", r.DocumentType},
		{"schema_id", r.SchemaID},
		{"total", r.Total},
		{"successful", r.Successful},
		{"failed", r.Failed},
		{"total_pages", r.TotalPages},
		{"refunded_pages", r.RefundedPages},
		{"duration_ms", r.DurationMS},
	}
	for i, kv := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &kv); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return f.SetSheetRow(sheet, cell, &out)
}
