package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitforpdf/fitforpdf-web/internal/filenames"
)

// Downloader receives finished PDFs. The browser widget triggered a blob
// download; here the sink is injectable so tests can record instead.
type Downloader interface {
	Save(filename string, data []byte) error
}

// DirDownloader writes PDFs into a directory.
type DirDownloader struct {
	Dir string
}

// Save implements Downloader.
func (d DirDownloader) Save(filename string, data []byte) error {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	// The name is server- or sanitizer-derived; re-sanitize anyway so a
	// hostile Content-Disposition cannot escape the directory.
	safe := filenames.SanitizeBase(filename) + ".pdf"
	if err := os.WriteFile(filepath.Join(dir, safe), data, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// downloadName resolves the effective filename for a response: the
// Content-Disposition name when parseable, else one derived from the source
// file.
func downloadName(contentDisposition, sourceName string) string {
	if name := filenames.FromContentDisposition(contentDisposition); name != "" {
		return name
	}
	return filenames.PDFName(sourceName)
}
