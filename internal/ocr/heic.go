package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// convertHEIC converts a HEIC/HEIF file to a temporary PNG. cleanup removes it.
func (e *Extractor) convertHEIC(ctx context.Context, in string) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "doctr-heic-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	var args []string
	switch e.cfg.HeicConverter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		cleanup()
		return "", nil, fmt.Errorf("HEIC not supported: set ocr.heic_converter to one of: heif-convert | magick | sips")
	}

	if _, errb, err := e.runner.Run(ctx, e.cfg.HeicConverter, args...); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%s convert failed: %w: %s", e.cfg.HeicConverter, err, truncate(string(errb), 512))
	}
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}
	e.logger.Debug("ocr.heic_converted", "path", in, "converter", e.cfg.HeicConverter)
	return out, cleanup, nil
}
