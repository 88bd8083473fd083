package model

import "time"

// Document is the uploaded source artifact. It is immutable after creation
// except for PageCount and Language, which the extraction stage writes once.
type Document struct {
	ID         string
	Filename   string
	Locator    string // content-addressable storage locator (sha256 hex)
	SizeBytes  int64
	MimeType   string
	PageCount  int
	Language   string
	UploadedAt time.Time
}

// SupportedMimeTypes lists the upload types the pipeline accepts.
var SupportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}
