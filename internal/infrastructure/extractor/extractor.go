// Package extractor turns uploaded office documents and images into the
// text or inline image data sent to the model.
package extractor

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/safego"
)

// Category groups supported extensions.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
)

// textReader extracts plain text from a whole document held in memory.
type textReader func(data []byte) (string, error)

var (
	imageTypes = map[string]string{
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
		"webp": "image/webp",
	}

	documentReaders = map[string]textReader{
		"pdf":  readPDF,
		"doc":  readWord,
		"docx": readWord,
		"xls":  readSpreadsheet,
		"xlsx": readSpreadsheet,
		"ppt":  readPresentation,
		"pptx": readPresentation,
	}
)

// Extractor 文件内容提取器
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.With(zap.String("component", "extractor"))}
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Classify returns the category of filename, judged by its extension.
func Classify(filename string) (Category, bool) {
	ext := extension(filename)
	if _, ok := imageTypes[ext]; ok {
		return CategoryImage, true
	}
	if _, ok := documentReaders[ext]; ok {
		return CategoryDocument, true
	}
	return "", false
}

// IsSupported reports whether filename has a supported extension.
func (e *Extractor) IsSupported(filename string) bool {
	_, ok := Classify(filename)
	return ok
}

// Extract reads one upload. Images are returned base64-encoded without
// decoding; documents are returned as plain text. Any failure, including a
// panic inside a format library, is reported as *entity.FileExtractionError.
func (e *Extractor) Extract(ctx context.Context, up entity.Upload) (file entity.ExtractedFile, err error) {
	defer func() {
		if err != nil {
			err = &entity.FileExtractionError{Filename: up.Filename, Err: err}
		}
	}()
	defer safego.Recover(e.logger, "extract "+up.Filename, &err)

	if err := ctx.Err(); err != nil {
		return entity.ExtractedFile{}, err
	}
	if len(up.Data) == 0 {
		return entity.ExtractedFile{}, entity.ErrEmptyFile
	}

	ext := extension(up.Filename)
	if fallback, ok := imageTypes[ext]; ok {
		return entity.ExtractedFile{
			Kind:     entity.FileKindImage,
			Filename: up.Filename,
			Content:  base64.StdEncoding.EncodeToString(up.Data),
			MIMEType: detectImageType(up.Data, fallback),
		}, nil
	}

	read, ok := documentReaders[ext]
	if !ok {
		return entity.ExtractedFile{}, fmt.Errorf("%w: %q", entity.ErrUnsupportedFile, ext)
	}
	text, err := read(up.Data)
	if err != nil {
		return entity.ExtractedFile{}, err
	}

	e.logger.Debug("Document extracted",
		zap.String("filename", up.Filename),
		zap.Int("chars", len(text)),
	)
	return entity.ExtractedFile{
		Kind:     entity.FileKindText,
		Filename: up.Filename,
		Content:  text,
	}, nil
}

// detectImageType sniffs the content type and falls back to the one implied
// by the extension when the bytes are not recognised as an image.
func detectImageType(data []byte, fallback string) string {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	return fallback
}
