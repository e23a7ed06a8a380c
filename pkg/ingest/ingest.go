package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for file types no parser handles.
var ErrUnsupported = errors.New("unsupported file type")

// MaxUploadSize bounds attachments accepted by Parse.
const MaxUploadSize = 20 << 20

// Attachment is the normalized form of an upload: exactly one of Document or
// Table is set.
type Attachment struct {
	Name     string
	Document string
	Table    *Table
}

// Parser turns uploads into document text or tables.
type Parser struct {
	OCR *OCR
}

func NewParser(ocr *OCR) *Parser {
	return &Parser{OCR: ocr}
}

// Parse dispatches on the file extension.
func (p *Parser) Parse(ctx context.Context, name string, data []byte) (*Attachment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("%s exceeds the %d MB upload limit", name, MaxUploadSize>>20)
	}

	att := &Attachment{Name: filepath.Base(name)}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv":
		table, err := ParseCSV(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		att.Table = table
	case ".xlsx":
		table, err := ParseXLSX(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		att.Table = table
	case ".pdf":
		text, err := p.OCR.FromPDF(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from %s: %w", name, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("no text found in %s", name)
		}
		att.Document = text
	case ".html", ".htm":
		_, text, err := HTMLText(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		att.Document = text
	case ".txt", ".md", ".markdown", ".json", ".log":
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s is not valid UTF-8 text", name)
		}
		att.Document = string(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return att, nil
}
