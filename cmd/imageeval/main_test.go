package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"eval", "/eval"},
		{"/eval/", "/eval"},
		{" /a/b ", "/a/b"},
	}
	for _, tt := range tests {
		if got := normalizeBasePath(tt.in); got != tt.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestImportThenExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "test.db")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"left/a.png", "right/a.png", "left/b.png", "right/b.png"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(name))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	archivePath := filepath.Join(dir, "pairs.zip")
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"import", "--db", db, "--media-dir", filepath.Join(dir, "media"),
		"--title", "Pairs", "--archive", archivePath, "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), `"Pairs" with 2 questions`) {
		t.Errorf("import output = %q", out.String())
	}

	out.Reset()
	root = rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"export", "--db", db, "--evaluation", "1", "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != `{"0":[],"1":[]}` {
		t.Errorf("export output = %q", got)
	}
}
