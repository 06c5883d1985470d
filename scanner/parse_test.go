package scanner

import (
	"testing"

	"feedrelay/models"
)

func TestParseJSONValidation(t *testing.T) {
	body := []byte(`{"items": [
		{"title": "  Good   Item ", "torrent_links": [{"magnet": "magnet:?xt=urn:btih:1"}, {"magnet": "magnet:?xt=urn:btih:1"}],
		 "tags": "a, b ,", "thumbnail": "https://img.example.com/1.jpg", "url": "https://example.com/item/1"},
		{"title": "", "magnet": "magnet:?xt=urn:btih:2"},
		{"title": "No media"},
		{"title": "Direct", "url": "https://cdn.example.com/video/clip.MP4", "tags": ["x"]},
		{"title": "Bad magnet", "magnet": "http://not-a-magnet"}
	]}`)

	items, err := ParseJSON(body)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 valid items, got %d: %+v", len(items), items)
	}

	good := items[0]
	if good.Title != "Good Item" || good.Fingerprint != models.Fingerprint("Good Item") {
		t.Errorf("unexpected title/fingerprint: %+v", good)
	}
	if len(good.Descriptors) != 1 || good.Descriptors[0].Kind != models.DescriptorMagnet {
		t.Errorf("duplicate magnets should collapse: %+v", good.Descriptors)
	}
	if len(good.Tags) != 2 || good.Tags[0] != "a" || good.Tags[1] != "b" {
		t.Errorf("tags = %v", good.Tags)
	}
	if good.PageURL != "https://example.com/item/1" || good.Thumbnail == "" {
		t.Errorf("page/thumbnail = %q / %q", good.PageURL, good.Thumbnail)
	}

	direct := items[1]
	if d, ok := direct.Primary(); !ok || d.Kind != models.DescriptorURL {
		t.Errorf("expected direct url descriptor, got %+v", direct.Descriptors)
	}
	if direct.PageURL != "" {
		t.Errorf("media url should not double as page url: %q", direct.PageURL)
	}
}

func TestParseJSONArray(t *testing.T) {
	items, err := ParseJSON([]byte(`[{"title": "A", "magnet": "magnet:?xt=urn:btih:a"}]`))
	if err != nil || len(items) != 1 {
		t.Fatalf("items=%v err=%v", items, err)
	}
	if _, err := ParseJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}

func TestParseRSS(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item>
  <title>Episode 2</title>
  <link>https://example.com/ep2</link>
  <category>show</category>
  <enclosure url="magnet:?xt=urn:btih:ep2" type="application/x-bittorrent" length="0"/>
</item>
<item>
  <title>Episode 1</title>
  <link>magnet:?xt=urn:btih:ep1</link>
</item>
<item>
  <title>Text only</title>
  <link>https://example.com/text</link>
</item>
</channel></rss>`)

	items, err := ParseRSS(body)
	if err != nil {
		t.Fatalf("ParseRSS failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Episode 2" || items[0].PageURL != "https://example.com/ep2" {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if len(items[0].Tags) != 1 || items[0].Tags[0] != "show" {
		t.Errorf("tags = %v", items[0].Tags)
	}
	if d, _ := items[1].Primary(); d.URI != "magnet:?xt=urn:btih:ep1" {
		t.Errorf("descriptor = %+v", d)
	}
}
