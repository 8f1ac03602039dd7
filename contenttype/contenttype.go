// Package contenttype maps file names to the Content-Type the server sends.
//
// The table is fixed and never consults the host's mime.types files.
package contenttype

import (
	"path/filepath"
	"strings"
)

// Default is sent for every extension missing from the table.
const Default = "application/octet-stream"

var types = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/vnd.microsoft.icon",
	".webp":  "image/webp",
	".txt":   "text/plain",
	".xml":   "text/xml",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".mp4":   "video/mp4",
	".mp3":   "audio/mpeg",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ForName returns the Content-Type for the extension of name.
// Extensions are matched case-insensitively.
func ForName(name string) string {
	if t, ok := types[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return Default
}
