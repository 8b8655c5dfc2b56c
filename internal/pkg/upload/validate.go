package upload

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxDocumentBytes caps a single identity document.
const MaxDocumentBytes = 5 << 20

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".pdf":  true,
}

var allowedMime = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

var mimeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

var (
	ErrUnsupportedExtension = errors.New("only JPG, JPEG, PNG, WEBP and PDF documents are supported")
	ErrScriptableContent    = errors.New("HTML/XML content is not allowed")
	ErrUnsupportedType      = errors.New("document type is not supported")
	ErrTooLarge             = errors.New("document exceeds the 5 MiB limit")
)

// ValidateDocumentBySniff checks the filename extension and the first bytes
// (head) of an identity document. Returns the detected mime type.
func ValidateDocumentBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", ErrUnsupportedExtension
	}
	return sniff(head)
}

// ValidateDocumentBytes validates content without a filename (base64 uploads)
// and returns mime type and canonical extension.
func ValidateDocumentBytes(data []byte) (string, string, error) {
	if len(data) > MaxDocumentBytes {
		return "", "", ErrTooLarge
	}
	mime, err := sniff(data)
	if err != nil {
		return "", "", err
	}
	return mime, mimeExt[mime], nil
}

// ExtensionFor returns the canonical file extension for a detected mime type.
func ExtensionFor(mime string) string {
	return mimeExt[mime]
}

func sniff(head []byte) (string, error) {
	detected := http.DetectContentType(head)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = strings.TrimSpace(detected[:i])
	}

	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", ErrScriptableContent
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", ErrScriptableContent
	}
	if allowedMime[detected] {
		return detected, nil
	}
	return "", ErrUnsupportedType
}
