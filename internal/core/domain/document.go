package domain

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

type Origin string

const (
	OriginUpload     Origin = "upload"
	OriginCloudDrive Origin = "cloud_drive"
	OriginEmail      Origin = "email"
)

func ParseOrigin(raw string) Origin {
	switch Origin(strings.ToLower(strings.TrimSpace(raw))) {
	case OriginCloudDrive:
		return OriginCloudDrive
	case OriginEmail:
		return OriginEmail
	default:
		return OriginUpload
	}
}

// RawDocument is the payload handed to the classifier. Callers must not mutate
// Content after passing it on.
type RawDocument struct {
	Content  []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Origin   Origin `json:"origin"`
}

const (
	MimePDF         = "application/pdf"
	MimePNG         = "image/png"
	MimeJPEG        = "image/jpeg"
	MimeGIF         = "image/gif"
	MimeWEBP        = "image/webp"
	MimeTIFF        = "image/tiff"
	MimeHEIC        = "image/heic"
	MimeCSV         = "text/csv"
	MimeXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimePlainText   = "text/plain"
	MimeEmail       = "message/rfc822"
	MimeOctetStream = "application/octet-stream"
)

func DefaultSupportedMimeTypes() []string {
	return []string{
		MimePDF,
		MimePNG, MimeJPEG, MimeGIF, MimeWEBP, MimeTIFF, MimeHEIC,
		MimeCSV, MimeXLSX,
		MimePlainText, MimeEmail,
	}
}

var extensionMimeTypes = map[string]string{
	".pdf":  MimePDF,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".gif":  MimeGIF,
	".webp": MimeWEBP,
	".tif":  MimeTIFF,
	".tiff": MimeTIFF,
	".heic": MimeHEIC,
	".heif": MimeHEIC,
	".csv":  MimeCSV,
	".xlsx": MimeXLSX,
	".txt":  MimePlainText,
	".eml":  MimeEmail,
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// NormalizeMimeType strips parameters and lower-cases the media type. When the
// declared type is empty or generic, the filename extension decides.
func NormalizeMimeType(declared, filename string) string {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType != "" && mediaType != MimeOctetStream {
		return mediaType
	}
	return DetectMimeType(filename)
}

func DetectMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extensionMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
		return mt
	}
	return MimeOctetStream
}

func IsImageMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusClassified DocumentStatus = "classified"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded source file waiting for asynchronous classification.
type Document struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	MimeType    string            `json:"mime_type"`
	Origin      Origin            `json:"origin"`
	StoragePath string            `json:"storage_path"`
	Status      DocumentStatus    `json:"status"`
	Extraction  *ExtractionResult `json:"extraction,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
