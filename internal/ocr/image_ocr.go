package ocr

import (
	"context"
	"fmt"
)

func (e *Extractor) tesseract(ctx context.Context, path, lang string) (string, error) {
	args := []string{path, "stdout", "-l", e.TesseractLang(lang)}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
