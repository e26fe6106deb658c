package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
)

const (
	maxPages      = 6
	maxConcurrent = 4
	maxBodyBytes  = 1 << 20
	fetchTimeout  = 10 * time.Second
	perHostDelay  = 500 * time.Millisecond

	userAgent = "quill/1.0 (+https://github.com/quillhq/quill)"
)

// ImageFinder fetches an answer's source pages and extracts their preview
// images from Open Graph and Twitter card metadata. Fetches are bounded,
// rate-limited per host, and individually best-effort.
type ImageFinder struct {
	client *http.Client
	logger log.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewImageFinder creates an ImageFinder. A nil client gets a default with a
// fetch timeout.
func NewImageFinder(client *http.Client, logger log.Logger) *ImageFinder {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageFinder{
		client:   client,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

var _ conversation.ImageFinder = (*ImageFinder)(nil)

// Find returns preview images for the given sources, in source order. Pages
// without usable metadata are skipped silently; a non-nil empty result means
// the lookup ran and found nothing.
func (f *ImageFinder) Find(ctx context.Context, sources []provider.Source) ([]conversation.Image, error) {
	if len(sources) > maxPages {
		sources = sources[:maxPages]
	}

	results := make([]*conversation.Image, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, src := range sources {
		g.Go(func() error {
			img, err := f.fetchPreview(ctx, src)
			if err != nil {
				// Best-effort per page, but a cancelled context stops the
				// whole lookup.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Debug("image lookup failed", "uri", src.URI, "error", err)
				return nil
			}
			results[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	images := make([]conversation.Image, 0, len(sources))
	for _, img := range results {
		if img != nil {
			images = append(images, *img)
		}
	}
	return images, nil
}

func (f *ImageFinder) fetchPreview(ctx context.Context, src provider.Source) (*conversation.Image, error) {
	pageURL, err := url.Parse(src.URI)
	if err != nil || pageURL.Host == "" {
		return nil, fmt.Errorf("unusable source URI %q", src.URI)
	}

	if err := f.limiter(pageURL.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URI, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		return nil, fmt.Errorf("not an HTML page: %s", ct)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	imageURL := metaContent(doc, `meta[property="og:image"]`)
	if imageURL == "" {
		imageURL = metaContent(doc, `meta[name="twitter:image"]`)
	}
	if imageURL == "" {
		return nil, fmt.Errorf("no preview image metadata")
	}

	resolved, err := pageURL.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("unusable image URL %q: %w", imageURL, err)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, fmt.Errorf("unsupported image URL scheme %q", resolved.Scheme)
	}

	title := src.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return &conversation.Image{
		ImageURL:  resolved.String(),
		SourceURL: src.URI,
		Title:     title,
	}, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func (f *ImageFinder) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(perHostDelay), 1)
		f.limiters[host] = l
	}
	return l
}
