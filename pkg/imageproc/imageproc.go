// Package imageproc normalises user supplied pictures before storage.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	// ProfileMaxEdge bounds both sides of a stored profile picture.
	ProfileMaxEdge = 1024
	// ProfileJPEGQuality is the JPEG quality profile pictures are stored at.
	ProfileJPEGQuality = 80
)

var ErrUnsupportedImage = errors.New("imageproc: unsupported image format")

// NormalizeProfilePicture decodes a JPEG, PNG or WebP upload, fits it inside
// ProfileMaxEdge while keeping the aspect ratio, and re-encodes it as JPEG.
func NormalizeProfilePicture(r io.Reader, filename string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, err := decode(raw, filename)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() > ProfileMaxEdge || b.Dy() > ProfileMaxEdge {
		img = imaging.Fit(img, ProfileMaxEdge, ProfileMaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(ProfileJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, filename string) (image.Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case strings.Contains(ct, "webp") || (ct == "application/octet-stream" && ext == ".webp"):
		img, err := webp.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return img, nil
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "png"), strings.Contains(ct, "gif"):
		img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
}
