// Package extract makes sure a PDF has a text layer and pulls its plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// sampledPages is how many leading pages HasTextLayer inspects.
	sampledPages = 3
	// minLayerChars is the minimum non-space text in the sample for a PDF to
	// count as searchable.
	minLayerChars = 30

	DefaultOCRLanguages = "por+eng"
)

// Runner executes an external command. Tests replace it to avoid ocrmypdf.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and folds its combined output into the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Extractor turns uploaded PDFs into plain text.
type Extractor struct {
	languages string
	run       Runner
	logger    *slog.Logger
}

// New creates an Extractor. languages is passed to ocrmypdf (e.g. "por+eng");
// a nil run selects ExecRunner.
func New(languages string, run Runner) *Extractor {
	if languages == "" {
		languages = DefaultOCRLanguages
	}
	if run == nil {
		run = ExecRunner
	}
	return &Extractor{languages: languages, run: run, logger: slog.Default()}
}

// HasTextLayer reports whether the first pages of the PDF carry extractable
// text. Unreadable files report false.
func HasTextLayer(path string) bool {
	f, r, err := openPDF(path)
	if err != nil {
		return false
	}
	defer f.Close()

	n := r.NumPage()
	if n > sampledPages {
		n = sampledPages
	}
	var sample strings.Builder
	for i := 1; i <= n; i++ {
		text, err := pageText(r, i)
		if err != nil {
			continue
		}
		sample.WriteString(text)
	}
	return len(strings.Join(strings.Fields(sample.String()), "")) > minLayerChars
}

// EnsureSearchable writes a PDF with a text layer to out. Files that already
// have one are copied; others are run through ocrmypdf.
func (e *Extractor) EnsureSearchable(ctx context.Context, in, out string) error {
	if HasTextLayer(in) {
		e.logger.Debug("text layer present, skipping OCR", "path", in)
		if err := copyFile(in, out); err != nil {
			return &DependencyError{Stage: "ocr", Err: err}
		}
		return nil
	}

	e.logger.Info("running OCR", "path", in, "languages", e.languages)
	err := e.run(ctx, "ocrmypdf",
		"--quiet",
		"--skip-text",
		"--optimize", "3",
		"--language", e.languages,
		in,
		out,
	)
	if err != nil {
		return &DependencyError{Stage: "ocr", Err: err}
	}
	return nil
}

// Text returns the plain text of every page, each followed by a newline.
// Pages that fail to decode are skipped.
func (e *Extractor) Text(path string) (string, error) {
	f, r, err := openPDF(path)
	if err != nil {
		return "", &DependencyError{Stage: "extract", Err: fmt.Errorf("opening PDF: %w", err)}
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		text, err := pageText(r, i)
		if err != nil {
			e.logger.Warn("skipping page", "path", path, "page", i, "error", err)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func openPDF(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			if f != nil {
				f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	return pdf.Open(path)
}

func pageText(r *pdf.Reader, i int) (text string, err error) {
	// The PDF library panics on some malformed content streams.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: %v", i, p)
		}
	}()

	page := r.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
