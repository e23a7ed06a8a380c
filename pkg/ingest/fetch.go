package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// Source is the text of a fetched URL.
type Source struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads a URL and turns it into text. PDFs go through OCR.
type Fetcher struct {
	Client *http.Client
	OCR    *OCR
}

func NewFetcher(ocr *OCR) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 60 * time.Second}, OCR: ocr}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (*Source, error) {
	if strings.EqualFold(path.Ext(strings.SplitN(url, "?", 2)[0]), ".pdf") {
		text, err := f.OCR.FromURL(ctx, url)
		if err != nil {
			return nil, err
		}
		return &Source{URL: url, Title: path.Base(url), Text: text}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "research-chat/1.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	body := io.LimitReader(resp.Body, MaxUploadSize)

	switch {
	case mediaType == "application/pdf":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		text, err := f.OCR.FromPDF(ctx, data)
		if err != nil {
			return nil, err
		}
		return &Source{URL: url, Title: path.Base(url), Text: text}, nil
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text, err := HTMLText(body)
		if err != nil {
			return nil, err
		}
		if title == "" {
			title = url
		}
		return &Source{URL: url, Title: title, Text: text}, nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return &Source{URL: url, Title: url, Text: string(data)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mediaType)
	}
}
