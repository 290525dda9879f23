package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
)

const (
	pageFetchTimeout = 15 * time.Second
	maxPageBytes     = 2 << 20
)

var ErrInvalidURL = errors.New("url must be an absolute http(s) address")

// Query parameters that only track the click and never identify the posting.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"ref", "source", "click_id", "fbclid", "gclid",
}

// PageFetcher downloads job posting pages.
type PageFetcher struct {
	client *resty.Client
}

func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout <= 0 {
		timeout = pageFetchTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; inbox-job-tracker/1.0)").
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &PageFetcher{client: client}
}

// Fetch returns the page body as text.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if _, err := parseHTTPURL(rawURL); err != nil {
		return "", err
	}
	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) > maxPageBytes {
		body = body[:maxPageBytes]
	}
	return string(body), nil
}

// PageText strips scripts, styles and markup and collapses whitespace.
func PageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, svg, nav, footer").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

// pageMetadata reads what a page says about itself in <title> and OpenGraph
// tags. It is the extraction used when no model is configured.
func pageMetadata(html string) (ExtractedJob, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ExtractedJob{}, false
	}
	meta := func(sel string) string {
		v, _ := doc.Find(sel).First().Attr("content")
		return strings.TrimSpace(v)
	}

	job := ExtractedJob{
		Title:        meta(`meta[property="og:title"]`),
		Company:      meta(`meta[property="og:site_name"]`),
		Description:  meta(`meta[property="og:description"]`),
		Location:     "Remote",
		Requirements: []string{},
	}
	if job.Title == "" {
		job.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if job.Description == "" {
		job.Description = meta(`meta[name="description"]`)
	}
	if job.Company == "" {
		job.Company = "Unknown"
	}
	return job, job.Title != ""
}

// CleanApplicationURL removes tracking parameters from a posting link.
// Unparseable input is returned unchanged.
func CleanApplicationURL(rawURL string) string {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// LinkImporter turns a posting URL into job details.
type LinkImporter struct {
	fetcher *PageFetcher
	llm     *LLMService
	log     *logging.Logger
}

func NewLinkImporter(fetcher *PageFetcher, llm *LLMService, log *logging.Logger) *LinkImporter {
	if log == nil {
		log = logging.NewNop()
	}
	return &LinkImporter{fetcher: fetcher, llm: llm, log: log}
}

// Extract fetches rawURL and extracts the posting. It never fails: any
// problem yields the "Extraction Failed" placeholder. The returned URL has
// tracking parameters removed. ErrInvalidURL is the only error, for input
// that is not a link at all.
func (l *LinkImporter) Extract(ctx context.Context, rawURL string) (ExtractedJob, string, error) {
	if _, err := parseHTTPURL(rawURL); err != nil {
		return ExtractedJob{}, "", err
	}
	clean := CleanApplicationURL(rawURL)

	html, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		l.log.Warn("page fetch failed", "url", rawURL, "err", err)
		return ExtractionFailedJob("The page could not be loaded."), clean, nil
	}

	if !l.llm.Enabled() {
		if job, ok := pageMetadata(html); ok {
			return job, clean, nil
		}
		return ExtractionFailedJob("The page did not describe a job."), clean, nil
	}

	job, err := l.llm.ExtractJobDetails(ctx, PageText(html))
	if err != nil {
		l.log.Warn("job extraction failed", "url", rawURL, "err", err)
		return ExtractionFailedJob("Job extraction failed."), clean, nil
	}
	return *job, clean, nil
}
