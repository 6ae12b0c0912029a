package handler

import (
	"errors"
	"net/http"

	"docuflow/internal/apperror"
	"docuflow/internal/middleware"
	"docuflow/internal/model"
	"docuflow/internal/service"
	"docuflow/internal/storage"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// writeError maps err to its status code. The cause is attached to the gin
// context so the request logger records it; the client only sees the message.
func writeError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	_ = c.Error(err)
	c.JSON(status, response.Error(status, apperror.MessageOf(err)))
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, apperror.Validation(msg))
}

// pathID parses the :id parameter, answering 400 itself when it is malformed.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "ID inválido.")
		return uuid.Nil, false
	}
	return id, true
}

// currentUser answers 401 itself when Authenticate did not run.
func currentUser(c *gin.Context) (*model.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		writeError(c, apperror.Unauthorized("Token no proporcionado."))
		return nil, false
	}
	return user, true
}

// uploadBodyLimit leaves room for the form fields around a maximum-size file.
const uploadBodyLimit = storage.MaxUploadSize + 1<<20

var errUploadTooLarge = apperror.Validation("el archivo supera el tamaño máximo de 10MB")

// formFile returns the optional "file" part of a multipart request. It must run
// before anything else reads the form, since it caps the request body first.
// The returned closer must be called once the upload is consumed.
func formFile(c *gin.Context) (*service.Upload, func(), error) {
	if c.Request.ContentLength > uploadBodyLimit {
		return nil, func() {}, errUploadTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, uploadBodyLimit)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, func() {}, errUploadTooLarge
		case errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart):
			return nil, func() {}, nil
		}
		return nil, func() {}, apperror.Validation("archivo inválido: " + err.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, apperror.Validation("no se pudo leer el archivo")
	}
	return &service.Upload{Filename: fh.Filename, Size: fh.Size, Content: f}, func() { _ = f.Close() }, nil
}
