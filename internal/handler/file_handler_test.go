package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/pkg/storage"
)

func newFileFixture(t *testing.T) (*FileHandler, *storage.LocalBlobStore, *storage.URLSigner) {
	t.Helper()
	signer := storage.NewURLSigner("file-secret")
	blobs, err := storage.NewLocalBlobStore(t.TempDir(), 1<<20, signer, "https://api.test")
	require.NoError(t, err)
	return NewFileHandler(blobs, signer), blobs, signer
}

func TestFileHandlerDownload(t *testing.T) {
	h, blobs, _ := newFileFixture(t)
	objectPath := "Schools/s1/Assignments/a1/note.txt"
	require.NoError(t, blobs.PutFile(context.Background(), objectPath, bytes.NewBufferString("hello")))

	downloadURL, err := blobs.DownloadURL(context.Background(), objectPath)
	require.NoError(t, err)
	parsed, err := url.Parse(downloadURL)
	require.NoError(t, err)

	c, w := newTestContext(http.MethodGet, "/files/"+objectPath+"?"+parsed.RawQuery, nil, "")
	c.Params = gin.Params{{Key: "path", Value: "/" + objectPath}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestFileHandlerRejectsTokenForOtherPath(t *testing.T) {
	h, blobs, signer := newFileFixture(t)
	require.NoError(t, blobs.PutFile(context.Background(), "Schools/s1/private.pdf", bytes.NewBufferString("x")))

	token, err := signer.Sign("Schools/s1/public.pdf")
	require.NoError(t, err)

	c, w := newTestContext(http.MethodGet, "/files/Schools/s1/private.pdf?token="+url.QueryEscape(token), nil, "")
	c.Params = gin.Params{{Key: "path", Value: "/Schools/s1/private.pdf"}}
	h.Download(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFileHandlerMissingObject(t *testing.T) {
	h, _, signer := newFileFixture(t)
	token, err := signer.Sign("Schools/s1/gone.pdf")
	require.NoError(t, err)

	c, w := newTestContext(http.MethodGet, "/files/Schools/s1/gone.pdf?token="+url.QueryEscape(token), nil, "")
	c.Params = gin.Params{{Key: "path", Value: "/Schools/s1/gone.pdf"}}
	h.Download(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
