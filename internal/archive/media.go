package archive

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedMediaURL aborts the whole ingestion run: an attachment url
// that matches no known template means the archive format has drifted, and a
// silently incomplete database is worse than a clear failure.
var ErrUnsupportedMediaURL = errors.New("archive: unsupported media url format")

// ParsedMedia is the id/filename decomposition of one attachment url.
type ParsedMedia struct {
	Type     string // models.MediaImage, MediaGif, or MediaVideo
	ID       string
	Filename string
	OrigURL  string
}

// The three attachment url templates the export uses, distinguished by path
// prefix. Each decomposes differently after the prefix:
//
//	image: <messageID>/<mediaID>/<filename>
//	gif:   <mediaID>/<filename>
//	video: <mediaID>/<skip>/<skip>/<filename>
var mediaURLPrefixes = []struct {
	mediaType string
	prefix    string
}{
	{"image", "https://ton.twitter.com/dm/"},
	{"gif", "https://video.twimg.com/dm_gif/"},
	{"video", "https://video.twimg.com/dm_video/"},
}

// ParseMediaURL decomposes an attachment url into its media id and filename.
func ParseMediaURL(url string) (ParsedMedia, error) {
	for _, t := range mediaURLPrefixes {
		if !strings.HasPrefix(url, t.prefix) {
			continue
		}
		comps := strings.Split(url[len(t.prefix):], "/")
		m := ParsedMedia{Type: t.mediaType, OrigURL: url}
		switch t.mediaType {
		case "image":
			if len(comps) != 3 {
				return ParsedMedia{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaURL, url)
			}
			m.ID, m.Filename = comps[1], comps[2]
		case "gif":
			if len(comps) != 2 {
				return ParsedMedia{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaURL, url)
			}
			m.ID, m.Filename = comps[0], comps[1]
		case "video":
			if len(comps) != 4 {
				return ParsedMedia{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaURL, url)
			}
			m.ID, m.Filename = comps[0], comps[3]
		}
		return m, nil
	}
	return ParsedMedia{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaURL, url)
}
