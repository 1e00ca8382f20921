package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
)

// maxImageDimension bounds downscaled images; platform uploads reject
// very large frames long before this.
const maxImageDimension = 2048

var noopCleanup = func() {}

// prepareMedia validates a media attachment against the account size
// limit. Oversized images are downscaled into a temp file; the returned
// cleanup removes it after the send. Oversized non-image files are
// rejected.
func prepareMedia(m bus.MediaAttachment, maxMB int) (bus.MediaAttachment, func(), error) {
	info, err := os.Stat(m.Path)
	if err != nil {
		return m, noopCleanup, fmt.Errorf("stat media: %w", err)
	}

	limit := int64(maxMB) * 1024 * 1024
	if maxMB <= 0 || info.Size() <= limit {
		return m, noopCleanup, nil
	}

	if !isImagePath(m.Path) {
		return m, noopCleanup, fmt.Errorf("media %s exceeds %dMB limit", filepath.Base(m.Path), maxMB)
	}

	img, err := imaging.Open(m.Path, imaging.AutoOrientation(true))
	if err != nil {
		return m, noopCleanup, fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)

	tmp, err := os.CreateTemp("", "larkpipe-media-*.jpg")
	if err != nil {
		return m, noopCleanup, fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := imaging.Save(img, tmpPath, imaging.JPEGQuality(85)); err != nil {
		os.Remove(tmpPath)
		return m, noopCleanup, fmt.Errorf("save downscaled image: %w", err)
	}

	out := bus.MediaAttachment{Path: tmpPath, ContentType: "image/jpeg", Caption: m.Caption}
	return out, func() { os.Remove(tmpPath) }, nil
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	default:
		return false
	}
}
