// Package scrape fetches a web page and extracts the people listed on it.
package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Page is a fetched page rendered as text.
type Page struct {
	URL      string
	Title    string
	Markdown string
	Source   string // "jina" or "local_http"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
	Name() string
}

// Chain tries scrapers in order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Nil scrapers are skipped so optional backends
// can be passed unconditionally.
func NewChain(scrapers ...Scraper) *Chain {
	c := &Chain{}
	for _, s := range scrapers {
		if s != nil {
			c.scrapers = append(c.scrapers, s)
		}
	}
	return c
}

// Scrape tries each scraper in order for targetURL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	if len(c.scrapers) == 0 {
		return nil, eris.New("scrape: no scrapers configured")
	}

	var lastErr error
	for _, s := range c.scrapers {
		page, err := s.Scrape(ctx, targetURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
	}
	return nil, eris.Wrapf(lastErr, "scrape: all scrapers failed for %s", targetURL)
}
