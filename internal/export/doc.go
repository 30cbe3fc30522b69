// Package export 将批次结果写出为 JSON、CSV 或 XLSX。
//
// CSV 与 XLSX 共用 Table 展开规则：固定列在前，抽取字段按首次出现的
// 顺序追加；标量列表以 "; " 连接，对象及对象列表编码为 JSON 字符串。
package export
