package convert

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirDownloader_Save(t *testing.T) {
	dir := t.TempDir()
	d := DirDownloader{Dir: dir}

	if err := d.Save("report.pdf", []byte("%PDF-1.7")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Errorf("saved data = %q", data)
	}
}

func TestDirDownloader_SanitizesHostileNames(t *testing.T) {
	dir := t.TempDir()
	d := DirDownloader{Dir: dir}

	if err := d.Save("../../etc/passwd.pdf", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if name := entries[0].Name(); name != "passwd.pdf" {
		t.Errorf("saved as %q, want path components stripped", name)
	}
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		cd     string
		source string
		want   string
	}{
		{`attachment; filename="from-server.pdf"`, "local.csv", "from-server.pdf"},
		{"", "local.csv", "local.pdf"},
		{"attachment", "Q3 Report.xlsx", "Q3 Report.pdf"},
	}
	for _, tt := range tests {
		if got := downloadName(tt.cd, tt.source); got != tt.want {
			t.Errorf("downloadName(%q, %q) = %q, want %q", tt.cd, tt.source, got, tt.want)
		}
	}
}
