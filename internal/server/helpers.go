package server

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"unicode"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/storage"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed page/page_size query parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	maxPageSize      = 100
	defaultPageSize  = 50
	maxUploadsPerMsg = 10
)

// parsePagination extracts page and page_size query parameters.
func parsePagination(c *fiber.Ctx, defaultSize int) Pagination {
	size := c.QueryInt("page_size", defaultSize)
	if size <= 0 {
		size = defaultSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	return Pagination{Page: page, PageSize: size}
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = RespondWithError(c, models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// conversationParam parses the :id conversation parameter and tags the
// request context with it for logging.
func conversationParam(c *fiber.Ctx) (uint, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return 0, err
	}
	c.SetUserContext(middleware.WithConversationID(c.UserContext(), id))
	return id, nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "messageId" -> "message ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

// currentUser returns the id set by the auth middleware.
func currentUser(c *fiber.Ctx) uint {
	id, _ := middleware.UserID(c)
	return id
}

// parseBody decodes the request body into dst, answering 400 on failure.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		_ = RespondWithError(c, models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// statusForError maps an error kind to its HTTP status.
func statusForError(err error) int {
	switch models.ErrorCode(err) {
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeConflict:
		return fiber.StatusConflict
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError writes err as an ErrorResponse. Store failures are logged
// and reported without their cause.
func RespondWithError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	var appErr *models.AppError
	if status == fiber.StatusInternalServerError || !errors.As(err, &appErr) {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
			Code:  models.CodeInternal,
		})
	}
	return c.Status(status).JSON(models.ErrorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
	})
}

// readUploads reads every multipart file under field. A request that is not
// multipart carries no uploads.
func readUploads(c *fiber.Ctx, field string) ([]storage.UploadInput, error) {
	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("Invalid multipart form")
	}
	headers := form.File[field]
	if len(headers) > maxUploadsPerMsg {
		return nil, models.NewValidationError("Too many files")
	}
	uploads := make([]storage.UploadInput, 0, len(headers))
	for _, fh := range headers {
		in, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, in)
	}
	return uploads, nil
}

func readUpload(fh *multipart.FileHeader) (storage.UploadInput, error) {
	f, err := fh.Open()
	if err != nil {
		return storage.UploadInput{}, models.NewValidationError("Unreadable file " + fh.Filename)
	}
	defer func() { _ = f.Close() }()
	content, err := io.ReadAll(f)
	if err != nil {
		return storage.UploadInput{}, models.NewValidationError("Unreadable file " + fh.Filename)
	}
	return storage.UploadInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}
