package upload

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType rejects files outside the image whitelist.
var ErrUnsupportedType = errors.New("unsupported image type: use JPG, PNG, GIF, WEBP, AVIF or BMP")

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".avif": true,
	".bmp":  true,
	// SVG is intentionally excluded: scriptable without sanitization.
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
	"image/bmp":  true,
}

// ValidateImageBySniff checks the provided filename (extension) and the first
// bytes (head) against a whitelist of image types. Returns the detected mime
// or an error.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", ErrUnsupportedType
	}

	detected := http.DetectContentType(head)

	// Block obvious scriptable types regardless of extension.
	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", fmt.Errorf("%w: html content is not allowed", ErrUnsupportedType)
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", fmt.Errorf("%w: svg/xml content is not allowed", ErrUnsupportedType)
	}

	// Some formats (e.g. AVIF) sniff as octet-stream depending on the Go
	// version; the extension whitelist already vouched for those.
	if detected == "application/octet-stream" && allowedExt[ext] {
		return detected, nil
	}

	if allowedMime[detected] {
		return detected, nil
	}

	return "", ErrUnsupportedType
}
