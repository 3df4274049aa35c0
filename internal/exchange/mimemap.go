package exchange

import "strings"

// extensionMediaTypes is the build-once, read-only file-extension to
// media-type map used by cool-URL static file responses (spec §6).
// Unknown extensions fall back to application/octet-stream.
var extensionMediaTypes = map[string]string{
	"html":  "text/html; charset=UTF-8",
	"htm":   "text/html; charset=UTF-8",
	"js":    "text/javascript; charset=UTF-8",
	"mjs":   "text/javascript; charset=UTF-8",
	"cjs":   "text/javascript; charset=UTF-8",
	"css":   "text/css; charset=UTF-8",
	"json":  "application/json; charset=UTF-8",
	"jsonld": "application/ld+json; charset=UTF-8",
	"svg":   "image/svg+xml",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"webp":  "image/webp",
	"gif":   "image/gif",
	"bmp":   "image/bmp",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"mov":   "video/quicktime",
	"wav":   "audio/wav",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"wasm":  "application/wasm",
	"txt":   "text/plain; charset=UTF-8",
	"xml":   "application/xml",
	"map":   "application/json; charset=UTF-8",
}

const defaultMediaType = "application/octet-stream"

// mediaTypeForExtension returns the registered media type for a file path's
// extension, or application/octet-stream if unknown or extensionless.
func mediaTypeForExtension(path string) string {
	dot := strings.LastIndexByte(path, '.')
	slash := strings.LastIndexByte(path, '/')
	if dot <= slash {
		return defaultMediaType
	}
	ext := strings.ToLower(path[dot+1:])
	if mt, ok := extensionMediaTypes[ext]; ok {
		return mt
	}
	return defaultMediaType
}
