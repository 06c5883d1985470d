package scanner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"

	"feedrelay/models"

	"github.com/mmcdole/gofeed"
)

// rawItem is a feed record as the API sends it. Only title is mandatory.
type rawItem struct {
	Title        string          `json:"title"`
	Magnet       string          `json:"magnet"`
	TorrentLinks []rawTorrent    `json:"torrent_links"`
	MediaURL     string          `json:"media_url"`
	URL          string          `json:"url"`
	PageURL      string          `json:"page_url"`
	Description  string          `json:"description"`
	Tags         json.RawMessage `json:"tags"`
	Thumbnail    string          `json:"thumbnail"`
	ThumbnailURL string          `json:"thumbnail_url"`
}

type rawTorrent struct {
	Magnet string `json:"magnet"`
	URL    string `json:"url"`
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".ts": true,
}

// ParseJSON decodes a JSON feed: either a top-level array or an object holding the array
// under "items", "data" or "results". Invalid records are skipped.
func ParseJSON(body []byte) ([]models.Item, error) {
	body = bytes.TrimSpace(body)
	var raws []rawItem
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode feed array: %w", err)
		}
	} else {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to decode feed object: %w", err)
		}
		for _, key := range []string{"items", "data", "results"} {
			if arr, ok := wrapper[key]; ok {
				if err := json.Unmarshal(arr, &raws); err != nil {
					return nil, fmt.Errorf("failed to decode feed %q: %w", key, err)
				}
				break
			}
		}
	}

	items := make([]models.Item, 0, len(raws))
	for i, raw := range raws {
		it, err := raw.validate()
		if err != nil {
			log.Printf("Skipping feed record %d: %v", i, err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (r rawItem) validate() (models.Item, error) {
	title := models.NormalizeTitle(r.Title)
	if title == "" {
		return models.Item{}, fmt.Errorf("missing title")
	}

	it := models.Item{
		Title:       title,
		Fingerprint: models.Fingerprint(title),
		Description: strings.TrimSpace(r.Description),
		Tags:        parseTags(r.Tags),
		Thumbnail:   firstNonEmpty(r.Thumbnail, r.ThumbnailURL),
		PageURL:     firstNonEmpty(r.PageURL, r.URL),
	}

	seen := make(map[string]bool)
	add := func(kind models.DescriptorKind, uri string) {
		uri = strings.TrimSpace(uri)
		if uri == "" || seen[uri] {
			return
		}
		seen[uri] = true
		it.Descriptors = append(it.Descriptors, models.Descriptor{Kind: kind, URI: uri})
	}

	if isMagnet(r.Magnet) {
		add(models.DescriptorMagnet, r.Magnet)
	}
	for _, t := range r.TorrentLinks {
		if isMagnet(t.Magnet) {
			add(models.DescriptorMagnet, t.Magnet)
		}
	}
	if isMediaURL(r.MediaURL) {
		add(models.DescriptorURL, r.MediaURL)
	}
	// A plain url pointing straight at a video file is a direct download too.
	if isMediaURL(r.URL) && hasVideoExtension(r.URL) {
		add(models.DescriptorURL, r.URL)
		if it.PageURL == r.URL {
			it.PageURL = r.PageURL
		}
	}

	if len(it.Descriptors) == 0 {
		return models.Item{}, fmt.Errorf("%q has no magnet or media url", title)
	}
	return it, nil
}

// ParseRSS decodes an RSS or Atom feed with gofeed. Magnets come from enclosures or links.
func ParseRSS(body []byte) ([]models.Item, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rss feed: %w", err)
	}

	items := make([]models.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		raw := rawItem{Title: entry.Title, Description: entry.Description}
		if len(entry.Categories) > 0 {
			raw.Tags, _ = json.Marshal(entry.Categories)
		}
		if entry.Image != nil {
			raw.Thumbnail = entry.Image.URL
		}
		for _, enc := range entry.Enclosures {
			switch {
			case isMagnet(enc.URL):
				raw.TorrentLinks = append(raw.TorrentLinks, rawTorrent{Magnet: enc.URL})
			case strings.HasPrefix(enc.Type, "video/") && raw.MediaURL == "":
				raw.MediaURL = enc.URL
			case strings.HasPrefix(enc.Type, "image/") && raw.Thumbnail == "":
				raw.Thumbnail = enc.URL
			}
		}
		if isMagnet(entry.Link) {
			raw.Magnet = entry.Link
		} else {
			raw.PageURL = entry.Link
		}

		it, err := raw.validate()
		if err != nil {
			log.Printf("Skipping rss entry %q: %v", entry.Title, err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// parseTags accepts either a JSON string array or one comma-separated string.
func parseTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil
		}
		list = strings.Split(joined, ",")
	}
	out := make([]string, 0, len(list))
	for _, t := range list {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isMagnet(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "magnet:?")
}

func isMediaURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func hasVideoExtension(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return videoExtensions[strings.ToLower(path.Ext(u.Path))]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
