package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kirillkom/docimport/internal/core/ports"
)

// ParseEnvelope reads a model answer. Malformed answers are not an error:
// the returned extraction carries whatever could be recovered, and the raw
// text as Fields, so the classifier can reject it as unknown.
func ParseEnvelope(answer string, req ports.ExtractRequest) ports.RawExtraction {
	text := stripCodeFence(answer)
	object := extractJSONObject(text)

	var envelope struct {
		DocumentType string          `json:"document_type"`
		Confidence   json.Number     `json:"confidence"`
		Fields       json.RawMessage `json:"fields"`
	}
	dec := json.NewDecoder(strings.NewReader(object))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		out := ports.RawExtraction{Fields: json.RawMessage(text)}
		if req.TargetSchema != nil {
			out.DocumentType = string(req.DocumentType)
		}
		return out
	}

	out := ports.RawExtraction{DocumentType: strings.TrimSpace(envelope.DocumentType)}
	if f, err := envelope.Confidence.Float64(); err == nil {
		out.Confidence = f
	}
	if req.TargetSchema == nil {
		return out
	}
	if out.DocumentType == "" {
		out.DocumentType = string(req.DocumentType)
	}
	fields := bytes.TrimSpace(envelope.Fields)
	if len(fields) == 0 || bytes.Equal(fields, []byte("null")) {
		// Some models answer with the fields at the top level.
		fields = json.RawMessage(object)
	}
	out.Fields = fields
	return out
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
