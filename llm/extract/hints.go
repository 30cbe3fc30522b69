package extract

import (
	"fmt"
	"strings"
)

// StructureHints 从 Markdown 表示中分析出的结构信息
type StructureHints struct {
	HasTables            bool     `json:"has_tables"`
	TableCount           int      `json:"table_count"`
	TableColumns         []string `json:"table_columns"`
	MultiRowEntries      bool     `json:"multi_row_entries"`
	HasMultiColumnLayout bool     `json:"has_multi_column_layout"`
	SectionCount         int      `json:"section_count"`
}

// AnalyzeStructure 分析 Markdown 的表格、章节与版式
func AnalyzeStructure(markdown string) StructureHints {
	h := StructureHints{TableColumns: []string{}}
	lines := strings.Split(markdown, "\n")

	var tableLines []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "|") {
			tableLines = append(tableLines, line)
		}
	}

	if len(tableLines) > 0 {
		h.HasTables = true
		for _, line := range lines {
			if strings.Contains(line, "---") && strings.Contains(line, "|") {
				h.TableCount++
			}
		}

		// 第一个非分隔行作为表头
		for _, line := range tableLines {
			if strings.Contains(line, "---") {
				continue
			}
			for _, col := range strings.Split(line, "|") {
				if c := strings.TrimSpace(col); c != "" {
					h.TableColumns = append(h.TableColumns, c)
				}
			}
			break
		}

		// 超过一半单元格为空的行视为跨行条目
		for _, line := range tableLines {
			if strings.Count(line, "|") <= 2 {
				continue
			}
			cells := strings.Split(line, "|")
			empty := 0
			for _, c := range cells {
				if strings.TrimSpace(c) == "" {
					empty++
				}
			}
			if float64(empty) > float64(len(cells))/2 {
				h.MultiRowEntries = true
				break
			}
		}
	}

	h2 := 0
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "#") {
			h.SectionCount++
		}
		if strings.HasPrefix(t, "## ") {
			h2++
		}
	}
	h.HasMultiColumnLayout = h2 > 3

	return h
}

// Lines 将结构提示渲染为提示词中的要点列表
func (h StructureHints) Lines() []string {
	var out []string
	if h.HasTables {
		count := h.TableCount
		if count == 0 {
			count = 1
		}
		cols := ""
		if len(h.TableColumns) > 0 {
			c := h.TableColumns
			if len(c) > 5 {
				c = c[:5]
			}
			cols = " with columns: " + strings.Join(c, ", ")
		}
		out = append(out, fmt.Sprintf("- Document contains %d table(s)%s", count, cols))
	}
	if h.MultiRowEntries {
		out = append(out, "- Tables have multi-row entries that need merging")
	}
	if h.HasMultiColumnLayout {
		out = append(out, "- Document has multi-column layout")
	}
	if h.SectionCount > 0 {
		out = append(out, fmt.Sprintf("- Document has %d sections", h.SectionCount))
	}
	return out
}

// Render 渲染为提示词片段，无提示时返回空串
func (h *StructureHints) Render() string {
	if h == nil {
		return ""
	}
	lines := h.Lines()
	if len(lines) == 0 {
		return ""
	}
	return "\n\nStructural hints from document analysis:\n" + strings.Join(lines, "\n") + "\n"
}
