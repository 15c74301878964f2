package constants

import "strings"

// Upload formats accepted by the OCR stage.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	TEXT  = "TEXT"
)

// FileTypes holds the formats an upload can resolve to.
var FileTypes = []string{PDF, IMAGE, TEXT}

// AllowedExtensions holds the default allowed file extensions for uploads and the inbox.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
	"webp": {},
	"heic": {},
	"heif": {},
	"txt":  {},
	"md":   {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is an accepted upload extension.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MapExtToFormat maps a normalized extension to PDF, IMAGE or TEXT; "" when unsupported.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "png", "jpg", "jpeg", "bmp", "tif", "tiff", "webp", "heic", "heif":
		return IMAGE
	case "txt", "md":
		return TEXT
	default:
		return ""
	}
}

// IsHEIC reports whether ext names a HEIC/HEIF image, which tesseract cannot read directly.
func IsHEIC(ext string) bool {
	switch NormalizeExt(ext) {
	case "heic", "heif":
		return true
	}
	return false
}
