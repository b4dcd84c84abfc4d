package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHasTextLayer_Unreadable(t *testing.T) {
	path := writeFile(t, "scan.pdf", "not a pdf")
	if HasTextLayer(path) {
		t.Error("HasTextLayer = true for a non-PDF file")
	}
	if HasTextLayer(filepath.Join(t.TempDir(), "missing.pdf")) {
		t.Error("HasTextLayer = true for a missing file")
	}
}

func TestEnsureSearchable_RunsOCR(t *testing.T) {
	in := writeFile(t, "scan.pdf", "image-only")
	out := filepath.Join(t.TempDir(), "scan.searchable.pdf")

	var gotName string
	var gotArgs []string
	e := New("por+eng", func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	})

	if err := e.EnsureSearchable(context.Background(), in, out); err != nil {
		t.Fatalf("EnsureSearchable: %v", err)
	}
	if gotName != "ocrmypdf" {
		t.Errorf("command = %q, want ocrmypdf", gotName)
	}
	want := "--quiet --skip-text --optimize 3 --language por+eng " + in + " " + out
	if got := strings.Join(gotArgs, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestEnsureSearchable_OCRFailure(t *testing.T) {
	in := writeFile(t, "scan.pdf", "image-only")
	e := New("", func(context.Context, string, ...string) error {
		return errors.New("exit status 2")
	})

	err := e.EnsureSearchable(context.Background(), in, in+".out")
	var de *DependencyError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DependencyError", err)
	}
	if de.Stage != "ocr" {
		t.Errorf("Stage = %q, want ocr", de.Stage)
	}
}

func TestText_Unreadable(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-garbage")
	e := New("", nil)

	_, err := e.Text(path)
	var de *DependencyError
	if !errors.As(err, &de) || de.Stage != "extract" {
		t.Fatalf("error = %v, want extract DependencyError", err)
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	err := ExecRunner(context.Background(), "pdfsum-test-no-such-binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestCopyFile(t *testing.T) {
	src := writeFile(t, "a.pdf", "content")
	dst := filepath.Join(t.TempDir(), "b.pdf")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Errorf("copied %q", data)
	}
}
