// Package llm holds the prompt and answer handling shared by extraction
// backends.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

const maxTextSnippet = 12000

const systemPrompt = `You read business documents for a procurement team: purchase orders, vendor invoices, freight invoices and customs documents.
Return ONLY a JSON object. No markdown, no text before or after the JSON.
Use ISO-8601 dates (YYYY-MM-DD). Money amounts are plain numbers without currency symbols.
If a field is not present in the document, omit it. Never invent values.`

// ClassificationPrompt asks for the document type only.
func ClassificationPrompt(req ports.ExtractRequest) string {
	types := make([]string, 0, len(domain.KnownDocumentTypes())+1)
	for _, t := range domain.KnownDocumentTypes() {
		types = append(types, string(t))
	}
	types = append(types, string(domain.DocumentUnknown))

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nDecide which kind of document this is.\n")
	b.WriteString(`Answer with {"document_type": one of [` + strings.Join(types, ", ") + `], "confidence": number from 0 to 1}.`)
	b.WriteString("\nUse unknown when the document is none of the listed kinds.\n")
	writeDocument(&b, req)
	return b.String()
}

// ExtractionPrompt asks for the fields of req.DocumentType shaped by
// req.TargetSchema.
func ExtractionPrompt(req ports.ExtractRequest) string {
	schema, err := json.MarshalIndent(req.TargetSchema, "", "  ")
	if err != nil {
		schema = []byte("{}")
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	fmt.Fprintf(&b, "\n\nThe document is a %s. Extract its fields.\n", strings.ReplaceAll(string(req.DocumentType), "_", " "))
	b.WriteString(`Answer with {"document_type": "` + string(req.DocumentType) + `", "confidence": number from 0 to 1, "fields": object}.`)
	b.WriteString("\nThe fields object must match this JSON Schema:\n")
	b.Write(schema)
	b.WriteString("\nCopy line item totals as printed; do not recompute them.\n")
	writeDocument(&b, req)
	return b.String()
}

// Prompt picks the prompt for the pass req describes.
func Prompt(req ports.ExtractRequest) string {
	if req.TargetSchema == nil {
		return ClassificationPrompt(req)
	}
	return ExtractionPrompt(req)
}

func writeDocument(b *strings.Builder, req ports.ExtractRequest) {
	if name := strings.TrimSpace(req.Filename); name != "" {
		b.WriteString("\nFilename: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		b.WriteString("\nThe document is attached as an image.\n")
		return
	}
	if len(text) > maxTextSnippet {
		text = text[:maxTextSnippet]
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(text)
	b.WriteString("\n")
}

// EnvelopeSchema is the JSON Schema of the answer object, used by backends
// that support constrained output.
func EnvelopeSchema(req ports.ExtractRequest) map[string]any {
	props := map[string]any{
		"document_type": map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	}
	required := []any{"document_type", "confidence"}
	if req.TargetSchema != nil {
		props["fields"] = req.TargetSchema
		required = append(required, "fields")
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
