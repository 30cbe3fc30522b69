package extract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/docintake/types"
)

// FallbackSystemPrompt 提示词合成失败时使用，不写入缓存
const FallbackSystemPrompt = "You are an expert information extraction assistant. " +
	"Your task is to extract structured data from documents to match a specific schema exactly. " +
	"Pay close attention to nested fields and ensure all available details are captured."

const classifySystemPrompt = `You are a document classification assistant. Your job is to analyze a document snippet and identify the specific document type.

Common document types include:
- insurance_claim, medical_claim, auto_claim
- resume, cv
- invoice, receipt, purchase_order
- contract, agreement
- bank_statement, financial_statement
- form, application
- article, report
- generic (for unclassifiable documents)

Be specific when possible (e.g., 'insurance_claim' rather than just 'claim').
Respond with a JSON object of the form {"document_type": "<type>"}.`

const representationSystemPrompt = "You are an expert document summarizer and formatter. " +
	"Your goal is to convert the given document content into a clear, " +
	"human-readable markdown format. Preserve the structure and key information. " +
	`Respond with a JSON object of the form {"markdown_content": "<markdown>"}.`

const synthesisMetaPrompt = "You are an expert Prompt Engineer and Data Extraction Architect. " +
	"Your task is to generate a highly optimized *System Prompt* that will guide an AI assistant " +
	"to extract structured data from documents of any type. " +
	"Focus on clarity, constraint-setting, and schema alignment. " +
	`Respond with a JSON object of the form {"system_prompt": "<prompt>"}.`

func classifyUserPrompt(snippet string) string {
	return "Classify the following document content snippet:\n\n" + snippet
}

func representationInstruction(filename string) string {
	return fmt.Sprintf("Document filename: %s\n\n", filename) +
		"Please convert the following document content into a well-formatted markdown document.\n" +
		"Guidelines:\n" +
		"1. Use appropriate headers, lists, and tables to structure the data.\n" +
		"2. **Tables**: Ensure that each logical item corresponds to exactly one row in the table. " +
		"Do not split a single item's description or details across multiple table rows. " +
		"Merge multi-line text into a single cell/row.\n" +
		"3. **Layouts**: Be careful with multi-column layouts. Do not merge text from independent columns. " +
		"Visually separate distinct sections.\n" +
		"4. Preserve all key information values exactly as they appear.\n" +
		"\nReview the attached document images and generate the markdown."
}

func synthesisUserPrompt(documentType string, schema *types.Schema) string {
	body, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf("I need a system prompt for an AI that extracts data from a **%s**.\n", documentType) +
		"The extraction must strictly follow this JSON schema:\n" +
		"```json\n" + string(body) + "\n```\n" +
		"Instructions for the generated system prompt:\n" +
		"1. It must instruct the AI to act as an expert in reading this specific document type.\n" +
		"2. It must emphasize extracting nested fields (lists of objects) correctly by inferring structure from descriptions.\n" +
		"3. For document types with tables (invoices, receipts, bank statements, forms):\n" +
		"   - The AI must handle markdown tables where data may span multiple rows\n" +
		"   - The AI must carefully merge multi-row entries into single objects\n" +
		"4. It must enforce strict adherence to the schema keys.\n" +
		"5. The output should be ONLY the system prompt text, ready to be used."
}

func fieldsUserPrompt(req FieldsRequest) string {
	var fields strings.Builder
	for _, f := range req.Schema.Fields {
		fmt.Fprintf(&fields, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}

	return "Extract the following fields from the document. If a field is not present, " +
		"set it to null or an empty list as appropriate. Do not invent data.\n\n" +
		fmt.Sprintf("Document filename: %s\n\n", req.Filename) +
		"Schema fields (name and description):\n" +
		fields.String() + "\n" +
		"Also consider the following structural hints:" + req.Hints.Render() + "\n\n" +
		"Return a single JSON object where each key is exactly one of the field names above.\n\n" +
		"Document content begins below this line:\n" +
		"-----\n" +
		req.Content + "\n" +
		"-----\n"
}

func textRepresentationPrompt(filename, content string) string {
	return fmt.Sprintf("Document filename: %s\n\n", filename) +
		"Please convert the following document content into a well-formatted markdown document.\n" +
		"Guidelines:\n" +
		"1. Use appropriate headers, lists, and tables to structure the data.\n" +
		"2. **Tables**: Ensure that each logical item corresponds to exactly one row in the table. " +
		"Do not split a single item's description or details across multiple table rows. " +
		"Merge multi-line text into a single cell/row.\n" +
		"3. Preserve all key information values exactly as they appear.\n\n" +
		"Document content:\n" +
		"-----\n" +
		content + "\n" +
		"-----\n"
}

func dataURL(mediaType string, data []byte) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
