package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const mistralOCRURL = "https://api.mistral.ai/v1/ocr"

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// OCR extracts PDF text with the Mistral OCR API.
type OCR struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOCR(apiKey string) *OCR {
	return &OCR{
		APIKey:  apiKey,
		BaseURL: mistralOCRURL,
		Model:   "mistral-ocr-latest",
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// FromURL extracts the text of a PDF reachable at url.
func (o *OCR) FromURL(ctx context.Context, url string) (string, error) {
	url = strings.Replace(url, "http://", "https://", 1)
	return o.run(ctx, url)
}

// FromPDF extracts the text of an uploaded PDF.
func (o *OCR) FromPDF(ctx context.Context, data []byte) (string, error) {
	return o.run(ctx, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString(data))
}

func (o *OCR) run(ctx context.Context, documentURL string) (string, error) {
	if o == nil || o.APIKey == "" {
		return "", fmt.Errorf("MISTRAL_API_KEY is not set")
	}

	reqBody := map[string]interface{}{
		"model": o.Model,
		"document": map[string]string{
			"type":         "document_url",
			"document_url": documentURL,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range parsed.Pages {
		sb.WriteString(fmt.Sprintf("- Page %d -\n", page.Index+1))
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
