package scanner

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ThumbnailResolver finds a cover image on an item's page.
type ThumbnailResolver struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

func NewThumbnailResolver(client *http.Client, userAgent string) *ThumbnailResolver {
	return &ThumbnailResolver{client: client, userAgent: userAgent, timeout: 15 * time.Second}
}

// Resolve returns the page's og:image (or twitter:image) as an absolute URL, "" when none.
func (t *ThumbnailResolver) Resolve(ctx context.Context, pageURL string) string {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("Thumbnail lookup failed for %s: %v", pageURL, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	var image string
	for _, sel := range []string{`meta[property="og:image"]`, `meta[name="twitter:image"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			image = strings.TrimSpace(content)
			break
		}
	}
	if image == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return image
	}
	ref, err := url.Parse(image)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
