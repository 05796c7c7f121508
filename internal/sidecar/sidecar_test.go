package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPaths(t *testing.T) {
	tests := []struct {
		primary string
		want    []string
	}{
		{"/lib/a.jpg", []string{"/lib/a.txt", "/lib/a.json"}},
		{"/lib/clip.v2.MOV", []string{"/lib/clip.v2.txt", "/lib/clip.v2.json"}},
		{"/lib/noext", []string{"/lib/noext.txt", "/lib/noext.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.primary, func(t *testing.T) {
			got := Paths(tt.primary)
			if len(got) != 2 || got[0] != tt.want[0] || got[1] != tt.want[1] {
				t.Errorf("Paths(%q) = %v, want %v", tt.primary, got, tt.want)
			}
			if TextPath(tt.primary) != tt.want[0] || JSONPath(tt.primary) != tt.want[1] {
				t.Errorf("TextPath/JSONPath disagree with Paths for %q", tt.primary)
			}
		})
	}
}

func TestWriteJSON_IndentAndUnicode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	payload := map[string]any{"summary": "Zoë & <friends>", "tags": []string{"x"}}
	if err := WriteJSON(path, payload); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, `"summary": "Zoë & <friends>"`) {
		t.Errorf("unexpected encoding:\n%s", got)
	}
	if !strings.Contains(got, "\n  \"tags\": [\n    \"x\"\n  ]") {
		t.Errorf("expected two-space indent:\n%s", got)
	}
}

func TestWriteAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := WriteText(path, "first"); err != nil {
		t.Fatal(err)
	}
	if err := WriteText(path, "second"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only the target file, found %v", names)
	}
}

func TestWriteAtomic_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "a.txt")
	if err := WriteText(path, "x"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
