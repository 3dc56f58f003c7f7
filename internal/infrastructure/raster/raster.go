// Package raster turns scanned documents into PNG pages for vision models.
package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// DefaultMaxPages bounds how many PDF pages are rendered per document.
const DefaultMaxPages = 4

// ToPNG returns one PNG per page. PNG input is returned unchanged.
func ToPNG(content []byte, mimeType string, maxPages int) ([][]byte, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case mimeType == domain.MimePDF:
		return pdfPages(content, maxPages)
	case mimeType == domain.MimePNG && !IsHEIC(content):
		return [][]byte{content}, nil
	default:
		page, err := imageToPNG(content, mimeType)
		if err != nil {
			return nil, err
		}
		return [][]byte{page}, nil
	}
}

func pdfPages(content []byte, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if n > maxPages {
		n = maxPages
	}
	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("render pdf page %d: %w", i+1, err)
		}
		encoded, err := encodePNG(img)
		if err != nil {
			return nil, err
		}
		pages = append(pages, encoded)
	}
	return pages, nil
}

func imageToPNG(content []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if IsHEIC(content) || mimeType == domain.MimeHEIC || mimeType == "image/heif" {
		img, err = heic.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("decode heic image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("decode %s image: %w", mimeType, err)
		}
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// IsHEIC sniffs the ftyp box brand.
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
