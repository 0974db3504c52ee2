package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

type Config struct {
	// Binary is the tesseract executable name or path.
	Binary      string
	Lang        string
	TessdataDir string
	PSM         int
}

// Extractor runs tesseract over image uploads and registry screenshots.
type Extractor struct {
	cfg    Config
	runner Runner
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Extractor{cfg: cfg, runner: execRunner{}}
}

var (
	reBoxNoise   = regexp.MustCompile(`[│┃┆┇┊┋]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

func (e *Extractor) Extract(ctx context.Context, doc domain.RawDocument) (string, error) {
	if len(doc.Content) == 0 {
		return "", errors.New("ocr: empty image")
	}

	// tesseract stdin stdout -l <lang>
	args := []string{"stdin", "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	out, errb, err := e.runner.Run(ctx, bytes.NewReader(doc.Content), e.cfg.Binary, args...)
	if err != nil {
		detail := strings.TrimSpace(string(errb))
		if detail != "" {
			return "", fmt.Errorf("tesseract %s: %w: %s", doc.Filename, err, truncate(detail, 512))
		}
		return "", fmt.Errorf("tesseract %s: %w", doc.Filename, err)
	}
	return normalize(string(out)), nil
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")
	text = reBoxNoise.ReplaceAllString(text, "")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
