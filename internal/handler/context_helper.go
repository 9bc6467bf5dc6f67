package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mili-llama-api/internal/middleware"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireClaims writes 401 and returns nil when the request is anonymous.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims
}

func noopClose() error { return nil }

// formAttachment opens the optional multipart file field. The returned close
// function must be called once the upload finished.
func formAttachment(c *gin.Context, field string) (*service.Attachment, func() error, error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, noopClose, nil
	}
	if err != nil {
		return nil, noopClose, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid file upload")
	}
	file, err := header.Open()
	if err != nil {
		return nil, noopClose, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid file upload")
	}
	return &service.Attachment{FileName: header.Filename, Content: file}, file.Close, nil
}
