// Package storage serves the media files shipped inside an archive. Twitter
// lays attachments out flat, named "<messageID>-<filename>", in one directory
// for individual conversations and another for groups.
package storage

import (
	"context"
	"io"

	"github.com/disintegration/imaging"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

const (
	IndividualMediaDir = "direct_messages_media"
	GroupMediaDir      = "direct_messages_group_media"
)

// MediaStore opens one attachment by its on-disk name.
type MediaStore interface {
	Open(ctx context.Context, fromGroup bool, name string) (io.ReadCloser, error)
}

// ProbeDimensions decodes just enough of a still image to learn its size.
// Videos are never probed; their dimensions stay unknown.
func ProbeDimensions(r io.Reader, mediaType string) (width, height int, err error) {
	if mediaType != models.MediaImage && mediaType != models.MediaGif {
		return 0, 0, nil
	}
	img, err := imaging.Decode(r)
	if err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}
