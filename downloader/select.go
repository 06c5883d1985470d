package downloader

import (
	"path/filepath"
	"strings"
)

// FileInfo is one file inside a swarm payload.
type FileInfo struct {
	Path   string // relative to the swarm data dir
	Length int64
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".ts": true,
}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// SelectVideo picks the largest file with a video extension.
func SelectVideo(files []FileInfo) (FileInfo, bool) {
	var best FileInfo
	found := false
	for _, f := range files {
		if !IsVideo(f.Path) {
			continue
		}
		if !found || f.Length > best.Length {
			best = f
			found = true
		}
	}
	return best, found
}
