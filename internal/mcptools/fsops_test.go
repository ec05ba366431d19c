package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func callWrite(t *testing.T, h *WriteHandler, args WriteArgs) (string, bool) {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	result, err := h.Handle(context.Background(), argsJSON)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return text, result.IsError
}

func TestWriteCreatesNewFile(t *testing.T) {
	dir := chdirTemp(t)
	h := NewWriteHandler(nil)

	text, isErr := callWrite(t, h, WriteArgs{File: "new.txt", Content: "hello\nworld"})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}

	got, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello\nworld" {
		t.Fatalf("content = %q", got)
	}
}

func TestWriteOverwritesExistingFile(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("old"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	h := NewWriteHandler(nil)

	text, isErr := callWrite(t, h, WriteArgs{File: "existing.txt", Content: "new"})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "existing.txt"))
	if string(got) != "new" {
		t.Fatalf("content = %q, want overwritten", got)
	}
}

func TestWriteRejectsPathEscape(t *testing.T) {
	chdirTemp(t)
	h := NewWriteHandler(nil)

	_, isErr := callWrite(t, h, WriteArgs{File: "../outside.txt", Content: "x"})
	if !isErr {
		t.Fatal("expected error for path escaping working directory")
	}
}

func TestLsListsEntriesSorted(t *testing.T) {
	dir := chdirTemp(t)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte(""), 0644)    //nolint:errcheck
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte(""), 0644)    //nolint:errcheck
	os.Mkdir(filepath.Join(dir, "sub"), 0755)                      //nolint:errcheck

	handler := MakeLsHandler()
	argsJSON, _ := json.Marshal(LsArgs{})
	result, err := handler(context.Background(), argsJSON)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := result.Content[0].Text
	wantOrder := []string{"a.txt", "b.txt", "sub/"}
	prev := -1
	for _, w := range wantOrder {
		if !contains(text, w) {
			t.Fatalf("Ls output missing %q: %s", w, text)
		}
		idx := strings.Index(text, w)
		if idx < prev {
			t.Fatalf("Ls output not sorted, %q out of order: %s", w, text)
		}
		prev = idx
	}
}

func TestLsEmptyDirectory(t *testing.T) {
	chdirTemp(t)
	handler := MakeLsHandler()
	argsJSON, _ := json.Marshal(LsArgs{})
	result, err := handler(context.Background(), argsJSON)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !contains(result.Content[0].Text, "empty") {
		t.Fatalf("expected empty-directory message, got %s", result.Content[0].Text)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
