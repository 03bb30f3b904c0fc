package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/ingest"
	"github.com/sells-group/truth-cli/pkg/anthropic"
)

const extractPrompt = `You extract people from a company web page.

Return ONLY a JSON array. Each element is an object with these keys:
  "name": the person's full name
  "organization": the company or organization they belong to, or "" if not stated
  "email": their email address if it appears on the page, otherwise ""

Include only real, named individuals (staff, leadership, board members, authors).
Do not invent people, organizations or emails. Do not include generic mailboxes
such as info@ or sales@ as a person's email. If nobody is listed, return [].`

// PageFetcher returns the content of one page. *Chain satisfies it.
type PageFetcher interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithModel sets the Anthropic model.
func WithModel(model string) ExtractorOption {
	return func(x *Extractor) {
		x.model = model
	}
}

// WithMaxTokens caps the model response.
func WithMaxTokens(n int64) ExtractorOption {
	return func(x *Extractor) {
		x.maxTokens = n
	}
}

// WithMaxContentChars truncates page text before extraction.
func WithMaxContentChars(n int) ExtractorOption {
	return func(x *Extractor) {
		x.maxChars = n
	}
}

// WithTimeout bounds one Extract call.
func WithTimeout(d time.Duration) ExtractorOption {
	return func(x *Extractor) {
		x.timeout = d
	}
}

// Extractor turns a page URL into the people named on it.
type Extractor struct {
	pages     PageFetcher
	llm       anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
	timeout   time.Duration
}

// NewExtractor creates an Extractor.
func NewExtractor(pages PageFetcher, llm anthropic.Client, opts ...ExtractorOption) *Extractor {
	x := &Extractor{
		pages:     pages,
		llm:       llm,
		model:     "claude-haiku-4-5-20251001",
		maxTokens: 4096,
		maxChars:  60000,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract fetches rawURL and returns the people the model found on it.
func (x *Extractor) Extract(ctx context.Context, rawURL string) ([]ingest.Person, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	page, err := x.pages.Scrape(ctx, target)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: fetch page")
	}
	content, truncated := truncate(page.Markdown, x.maxChars)

	log := zap.L().With(zap.String("url", target), zap.String("source", page.Source))
	if truncated {
		log.Info("scrape: page truncated", zap.Int("max_chars", x.maxChars))
	}

	temp := 0.0
	resp, err := x.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     x.model,
		MaxTokens: x.maxTokens,
		System:    anthropic.CachedSystem(extractPrompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("URL: %s\nTitle: %s\n\n%s", page.URL, page.Title, content),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scrape: extract people")
	}
	resp.Usage.LogCost(x.model, "scrape_extract")

	people, err := ParsePeople(resp.Text())
	if err != nil {
		return nil, err
	}
	log.Info("scrape: people extracted", zap.Int("people", len(people)))
	return people, nil
}

// ValidateURL accepts absolute http(s) URLs and returns them trimmed.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrap(err, "scrape: invalid url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", eris.Errorf("scrape: invalid url %q: need an absolute http(s) url", raw)
	}
	return u.String(), nil
}

// ParsePeople reads the JSON array in a model response. Surrounding prose and
// code fences are ignored. Entries without a name are dropped.
func ParsePeople(text string) ([]ingest.Person, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, eris.New("scrape: model response has no JSON array")
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, eris.New("scrape: model response is not valid JSON")
	}

	var people []ingest.Person
	for _, v := range gjson.Parse(raw).Array() {
		if !v.IsObject() {
			continue
		}
		p := ingest.Person{
			Name:         firstString(v, "name", "full_name", "fullName"),
			FirstName:    firstString(v, "first_name", "firstName"),
			LastName:     firstString(v, "last_name", "lastName"),
			Organization: firstString(v, "organization", "company", "organisation"),
			Email:        firstString(v, "email"),
		}
		if p.Name == "" && p.FirstName == "" && p.LastName == "" {
			continue
		}
		people = append(people, p)
	}
	return people, nil
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}
