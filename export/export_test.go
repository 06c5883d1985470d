package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"feedrelay/models"

	"github.com/spf13/afero"
)

type staticSource struct {
	records []models.UploadRecord
	err     error
	limit   int
}

func (s *staticSource) RecentRecords(limit int) ([]models.UploadRecord, error) {
	s.limit = limit
	return s.records, s.err
}

func TestWriteRSS(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &staticSource{records: []models.UploadRecord{
		{Token: "abc123", Name: "show.mp4", Size: 3 << 20, CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{Token: "def456", Name: "movie.part1.mkv", Size: 1024},
		{Token: "ghi789", Title: "Some Movie", Name: "some.part2.mkv", Part: 2, Parts: 2, Size: 1024},
	}}
	x := New(models.ExportConfig{RSSPath: "/out/feed.xml", Title: "Relay", Link: "https://example.com", Limit: 10}, fs, src)

	if err := x.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if src.limit != 10 {
		t.Errorf("limit %d was not passed through", src.limit)
	}
	data, err := afero.ReadFile(fs, "/out/feed.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := string(data)
	for _, want := range []string{"<rss", "<title>Relay</title>", "show.mp4", "movie.part1.mkv", "Some Movie (part 2/2)", "token:abc123", "3.0 MiB"} {
		if !strings.Contains(doc, want) {
			t.Errorf("feed missing %q", want)
		}
	}
	if ok, _ := afero.Exists(fs, "/out/feed.xml.tmp"); ok {
		t.Error("temp file left behind")
	}
}

func TestWriteDisabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	x := New(models.ExportConfig{}, fs, &staticSource{err: errors.New("must not be called")})
	if x.Enabled() {
		t.Fatal("no path means disabled")
	}
	if err := x.Write(); err != nil {
		t.Errorf("disabled export should be a no-op, got %v", err)
	}
}

func TestRenderPropagatesSourceError(t *testing.T) {
	x := New(models.ExportConfig{RSSPath: "/f.xml"}, afero.NewMemMapFs(), &staticSource{err: errors.New("db closed")})
	if _, err := x.Render(); err == nil || !strings.Contains(err.Error(), "db closed") {
		t.Errorf("unexpected error %v", err)
	}
}
