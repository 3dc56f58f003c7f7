// Package plaintext turns text-bearing uploads into plain text for the
// extraction model.
package plaintext

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// MaxChars caps the text handed to the model.
const MaxChars = 60000

type Extractor struct {
	maxChars int
}

func NewExtractor() *Extractor {
	return &Extractor{maxChars: MaxChars}
}

// ExtractText returns "" for images, which travel to the model as binary.
func (e *Extractor) ExtractText(ctx context.Context, mimeType string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		text string
		err  error
	)
	switch mimeType {
	case domain.MimePDF:
		text, err = pdfText(content)
	case domain.MimeXLSX:
		text, err = spreadsheetText(content)
	case domain.MimeCSV:
		text, err = csvText(content)
	case domain.MimeEmail:
		text, err = emailText(content)
	case domain.MimePlainText:
		text, err = utf8Text(content)
	default:
		if domain.IsImageMimeType(mimeType) {
			return "", nil
		}
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract text", fmt.Errorf("no text extractor for %s", mimeType))
	}
	if err != nil {
		return "", err
	}
	return e.truncate(strings.TrimSpace(text)), nil
}

func (e *Extractor) truncate(text string) string {
	if e.maxChars <= 0 || len(text) <= e.maxChars {
		return text
	}
	cut := e.maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// pdfText reads the text layer. Scanned PDFs yield "" and go to the model as
// page images.
func pdfText(content []byte) (text string, err error) {
	// The pdf reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func spreadsheetText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "# sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func csvText(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var b strings.Builder
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		b.WriteString(strings.Join(record, "\t"))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func utf8Text(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", domain.WrapError(domain.ErrValidation, "extract text", errors.New("text is not valid utf-8"))
	}
	return string(content), nil
}

// emailText keeps the headers a reader needs and the first text part.
func emailText(content []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		// Pasted email text without headers.
		return utf8Text(content)
	}
	var b strings.Builder
	dec := new(mime.WordDecoder)
	for _, key := range []string{"From", "To", "Date", "Subject"} {
		value := msg.Header.Get(key)
		if value == "" {
			continue
		}
		if decoded, err := dec.DecodeHeader(value); err == nil {
			value = decoded
		}
		fmt.Fprintf(&b, "%s: %s\n", key, value)
	}
	b.WriteString("\n")

	body, err := messageBody(msg.Header.Get("Content-Type"), msg.Body)
	if err != nil {
		return "", err
	}
	b.WriteString(body)
	return b.String(), nil
}

func messageBody(contentType string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read email body: %w", err)
		}
		return string(raw), nil
	}

	reader := multipart.NewReader(body, params["boundary"])
	var fallback string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read email part: %w", err)
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(partType, "multipart/"):
			nested, err := messageBody(part.Header.Get("Content-Type"), part)
			if err != nil {
				return "", err
			}
			if nested != "" {
				return nested, nil
			}
		case partType == "text/plain" || partType == "":
			raw, err := io.ReadAll(part)
			if err != nil {
				return "", fmt.Errorf("read email part: %w", err)
			}
			return string(raw), nil
		case partType == "text/html" && fallback == "":
			raw, err := io.ReadAll(part)
			if err != nil {
				return "", fmt.Errorf("read email part: %w", err)
			}
			fallback = string(raw)
		}
	}
	return fallback, nil
}
