package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/afero"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultMaxNameLength = 200
	minBaseLength        = 10
)

// SanitizeFilename turns name into something every filesystem and the platform accept:
// ASCII only, no separators or control characters, at most maxLen bytes, extension kept.
func SanitizeFilename(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxNameLength
	}

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !validExtension(ext) {
		base, ext = name, ""
	}

	base = cleanComponent(toASCII(base))
	if base == "" {
		base = "unnamed"
	}

	budget := maxLen - len(ext)
	if budget < minBaseLength {
		budget = minBaseLength
	}
	if len(base) > budget {
		base = strings.TrimRight(base[:budget], " ._")
		if base == "" {
			base = "unnamed"
		}
	}
	return base + ext
}

// toASCII decomposes accented letters and drops whatever is left outside ASCII.
func toASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, out)
}

func cleanComponent(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if strings.ContainsRune(`<>:"/\|?*`, r) || r < 0x20 || r == 0x7f {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	return strings.Trim(cleaned, " ._")
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

// UniquePath returns dir/name, or dir/name_N.ext for the first N that does not exist yet.
func UniquePath(fs afero.Fs, dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := fs.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i < 10000; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := fs.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
