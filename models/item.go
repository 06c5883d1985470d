package models

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// DescriptorKind tells how an item's media is fetched.
type DescriptorKind string

const (
	DescriptorMagnet DescriptorKind = "magnet"
	DescriptorURL    DescriptorKind = "url"
)

// Descriptor locates the media of an item: a magnet link for the swarm or a direct URL.
type Descriptor struct {
	Kind DescriptorKind `json:"kind"`
	URI  string         `json:"uri"`
}

// Item is one validated feed entry. Optional fields are empty when the feed did not carry them.
type Item struct {
	Title       string       `json:"title"`
	Fingerprint string       `json:"fingerprint"`
	Descriptors []Descriptor `json:"descriptors"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	PageURL     string       `json:"page_url,omitempty"`
}

// Primary returns the descriptor used for downloading. Magnets win over direct URLs.
func (it Item) Primary() (Descriptor, bool) {
	for _, d := range it.Descriptors {
		if d.Kind == DescriptorMagnet {
			return d, true
		}
	}
	if len(it.Descriptors) > 0 {
		return it.Descriptors[0], true
	}
	return Descriptor{}, false
}

// NormalizeTitle trims the title and collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// Fingerprint is the hex SHA-1 of the normalized title.
func Fingerprint(title string) string {
	sum := sha1.Sum([]byte(NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}
