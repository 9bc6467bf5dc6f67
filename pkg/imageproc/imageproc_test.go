package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeProfilePictureDownscalesToJPEG(t *testing.T) {
	out, err := NormalizeProfilePicture(bytes.NewReader(pngFixture(t, 2048, 1024)), "me.png")
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestNormalizeProfilePictureKeepsSmallImages(t *testing.T) {
	out, err := NormalizeProfilePicture(bytes.NewReader(pngFixture(t, 64, 48)), "me.png")
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestNormalizeProfilePictureRejectsNonImages(t *testing.T) {
	_, err := NormalizeProfilePicture(strings.NewReader("%PDF-1.4 not a picture"), "cv.pdf")
	require.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = NormalizeProfilePicture(strings.NewReader(""), "empty.jpg")
	require.ErrorIs(t, err, ErrUnsupportedImage)
}
