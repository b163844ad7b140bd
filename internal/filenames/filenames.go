// Package filenames derives safe PDF download names from user-supplied
// spreadsheet filenames and Content-Disposition headers. Shared by the
// render proxy (server side) and the conversion client.
package filenames

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultBase is used when sanitization leaves nothing usable.
const DefaultBase = "document"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._ -]`)

// SanitizeBase reduces a source filename to a filesystem-safe base name:
// path separators stripped, extension dropped, unsafe characters replaced
// with underscore. Empty results fall back to DefaultBase.
func SanitizeBase(source string) string {
	// Strip any path component, tolerating both separators.
	base := source
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimSpace(base)
	if base == "" || strings.Trim(base, "._ ") == "" {
		return DefaultBase
	}
	return base
}

// PDFName returns the sanitized base with a .pdf extension.
func PDFName(source string) string {
	return SanitizeBase(source) + ".pdf"
}

// AttachmentDisposition builds the Content-Disposition value the proxy
// attaches to PDF responses.
func AttachmentDisposition(source string) string {
	return `attachment; filename="` + PDFName(source) + `"`
}

var (
	extFilenameRe    = regexp.MustCompile(`(?i)filename\*\s*=\s*(?:utf-8|[a-z0-9-]+)''([^;]+)`)
	quotedFilenameRe = regexp.MustCompile(`(?i)filename\s*=\s*"([^"]+)"`)
	bareFilenameRe   = regexp.MustCompile(`(?i)filename\s*=\s*([^;\s]+)`)
)

// FromContentDisposition extracts the download filename from a
// Content-Disposition header. The RFC 5987 filename*= form is preferred,
// then the quoted filename= form. Returns "" when neither parses.
func FromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}

	if m := extFilenameRe.FindStringSubmatch(cd); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			return strings.TrimSpace(decoded)
		}
		return strings.TrimSpace(m[1])
	}
	if m := quotedFilenameRe.FindStringSubmatch(cd); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Fall back to the stdlib parser, then a bare token.
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	if m := bareFilenameRe.FindStringSubmatch(cd); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
