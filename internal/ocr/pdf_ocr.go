package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var rePDFPages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

func (e *Extractor) pdfPageCount(ctx context.Context, path string) (int, error) {
	// pdfinfo <in.pdf>
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdfinfo, path)
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w: %s", err, truncate(string(errb), 512))
	}
	m := rePDFPages.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo: no page count for %s", path)
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("pdfinfo: bad page count %q", m[1])
	}
	return n, nil
}

func (e *Extractor) pdfPage(ctx context.Context, path string, page int, lang string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "doctr-pp-*")
	if err != nil {
		return "", err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", path, "error", err)
		}
	}(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(page)
	// pdftoppm -f N -l N -r 150 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-f", n, "-l", n, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(string(errb), 512))
	}

	// pdftoppm zero-pads the page number depending on the document length
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no image for page %d", page)
	}
	return e.tesseract(ctx, matches[0], lang)
}
