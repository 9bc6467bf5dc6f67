package handler

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/response"
	"github.com/noah-isme/mili-llama-api/pkg/storage"
)

type fileReader interface {
	GetFile(ctx context.Context, objectPath string) (io.ReadCloser, error)
}

type tokenVerifier interface {
	Verify(token string) (string, error)
}

// FileHandler serves the durable download URLs handed out for uploads.
type FileHandler struct {
	blobs  fileReader
	signer tokenVerifier
}

func NewFileHandler(blobs fileReader, signer tokenVerifier) *FileHandler {
	return &FileHandler{blobs: blobs, signer: signer}
}

// Download godoc
// @Summary Download an uploaded file
// @Description The token is issued with the download URL and is bound to the path.
// @Tags Files
// @Produce octet-stream
// @Param path path string true "Object path"
// @Param token query string true "Download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{path} [get]
func (h *FileHandler) Download(c *gin.Context) {
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	signed, err := h.signer.Verify(c.Query("token"))
	if err != nil || signed != objectPath {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid download token"))
		return
	}

	rc, err := h.blobs.GetFile(c.Request.Context(), objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "File not found"))
		return
	}
	if err != nil {
		response.Error(c, appErrors.Transport(err, "Failed to open file"))
		return
	}
	defer rc.Close()
	streamFile(c, objectPath[strings.LastIndex(objectPath, "/")+1:], rc)
}
