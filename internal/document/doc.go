// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package document 将上传的文件物化为文本与页数。
//
// 支持纯文本（.txt/.md/.csv/.json）、图片、PDF、DOCX 与 XLSX。
// PDF 页数与文本层由 ledongthuc/pdf 解析（支持交叉引用流与对象流），
// 无文本层的扫描件可由 Rasterizer 调用 pdftoppm 渲染为页面图片。
package document
