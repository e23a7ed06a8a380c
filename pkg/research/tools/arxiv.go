package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/research-chat/pkg/research"
)

const arxivURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches papers through the arXiv Atom API.
type Arxiv struct {
	BaseURL string
	Client  *http.Client
}

var _ research.Retriever = (*Arxiv)(nil)

func NewArxiv() *Arxiv {
	return &Arxiv{BaseURL: arxivURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *Arxiv) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("API returned non-200 status code", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("API returned non-200 status code: %d", resp.StatusCode)
	}

	return ParseArxivFeed(body)
}

// ParseArxivFeed converts an Atom feed into search results. The PDF link is
// preferred as URL; the entry id is used otherwise.
func ParseArxivFeed(body []byte) ([]research.SearchResult, error) {
	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]research.SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := strings.TrimSpace(entry.ID)
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}

		title := collapseSpace(entry.Title)
		if title == "" {
			continue
		}
		content := collapseSpace(entry.Summary)
		if entry.Published != "" {
			content = fmt.Sprintf("(%s) %s", strings.SplitN(entry.Published, "T", 2)[0], content)
		}
		results = append(results, research.SearchResult{Title: title, URL: link, Content: content})
	}
	return results, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
