package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

func sampleResult() *batch.Result {
	item := types.NewRecord()
	item.Set("description", types.StringValue("Widget"))
	item.Set("amount", types.NumberValue(12.5))

	first := types.NewRecord()
	first.Set("invoice_number", types.StringValue("A-1"))
	first.Set("total", types.NumberValue(480))
	first.Set("tags", types.ListValue(types.StringValue("x"), types.StringValue("y")))
	first.Set("line_items", types.ListValue(types.ObjectValue(item)))

	second := types.NewRecord()
	second.Set("vendor", types.StringValue("Acme"))
	second.Set("paid", types.BoolValue(true))

	return &batch.Result{
		BatchID:    "b-1",
		Status:     batch.StatusPartial,
		Strategy:   batch.StrategyOptimistic,
		Total:      3,
		Successful: 2,
		Failed:     1,
		TotalPages: 3,
		Results: []batch.Outcome{
			{Index: 0, Filename: "a.pdf", Status: batch.FileSuccess, Fields: first, Pages: 1, Workflow: batch.WorkflowBasic},
			{Index: 1, Filename: "b.pdf", Status: batch.FileSuccess, Fields: second, Pages: 1},
			{Index: 2, Filename: "c.pdf", Status: batch.FileFailed, Error: "boom", ErrorCode: types.ErrCapabilityFailed, Pages: 1},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "json": FormatJSON, "CSV": FormatCSV, " xlsx ": FormatXLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("pdf")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestFormat_ContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
	assert.Equal(t, ".xlsx", FormatXLSX.Extension())
}

func TestTable(t *testing.T) {
	header, rows := Table(sampleResult())

	assert.Equal(t, append(append([]string{}, baseColumns...), "invoice_number", "total", "tags", "line_items", "vendor", "paid"), header)
	require.Len(t, rows, 3)

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}

	assert.Equal(t, "480", rows[0][col("total")])
	assert.Equal(t, "x; y", rows[0][col("tags")])
	assert.JSONEq(t, `[{"description":"Widget","amount":12.5}]`, rows[0][col("line_items")])
	assert.Equal(t, "", rows[0][col("vendor")])
	assert.Equal(t, "true", rows[1][col("paid")])
	assert.Equal(t, "CAPABILITY_FAILED", rows[2][col("error_code")])
	assert.Equal(t, "boom", rows[2][col("error")])
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleResult()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "b-1", decoded["batch_id"])
	assert.Len(t, decoded["results"], 3)
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "index", records[0][0])
	assert.Equal(t, "a.pdf", records[1][1])
}

func TestWrite_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleResult()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "filename", rows[0][1])
	assert.Equal(t, "c.pdf", rows[3][1])

	status, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "partial", status)
	failed, err := f.GetCellValue(summarySheet, "B8")
	require.NoError(t, err)
	assert.Equal(t, "1", failed)
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Format("pdf"), sampleResult()))
}
