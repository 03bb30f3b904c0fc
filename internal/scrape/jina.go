package scrape

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/truth-cli/pkg/jina"
)

// minContentChars is the shortest Jina response treated as real content.
const minContentChars = 100

// JinaScraper renders pages through the Jina Reader, which handles
// JavaScript-heavy sites.
type JinaScraper struct {
	client jina.Client
}

// NewJinaScraper wraps a Jina client as a Scraper.
func NewJinaScraper(client jina.Client) *JinaScraper {
	return &JinaScraper{client: client}
}

func (j *JinaScraper) Name() string { return "jina" }

// Scrape fetches targetURL via Jina and rejects empty or challenge pages.
func (j *JinaScraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if reason := unusable(resp); reason != "" {
		return nil, eris.Errorf("jina: unusable response (%s)", reason)
	}

	url := resp.Data.URL
	if url == "" {
		url = targetURL
	}
	return &Page{
		URL:      url,
		Title:    resp.Data.Title,
		Markdown: resp.Data.Content,
		Source:   j.Name(),
	}, nil
}

// unusable reports why a Jina response should fall back to the next
// scraper, or "" when it has usable content.
func unusable(resp *jina.ReadResponse) string {
	if resp == nil {
		return "nil response"
	}
	if resp.Code != 0 && resp.Code != 200 {
		return "code " + strconv.Itoa(resp.Code)
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minContentChars {
		return "empty"
	}
	return textBlockReason(content)
}
