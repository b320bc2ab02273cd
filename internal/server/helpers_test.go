package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeParam(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"userId", "user ID"},
		{"messageId", "message ID"},
		{"conversationId", "conversation ID"},
		{"token", "token"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, humanizeParam(tt.param))
		})
	}
}

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		p := parsePagination(c, 25)
		return c.JSON(fiber.Map{"page": p.Page, "page_size": p.PageSize})
	})

	tests := []struct {
		query    string
		page     float64
		pageSize float64
	}{
		{"", 1, 25},
		{"?page=3&page_size=10", 3, 10},
		{"?page=0&page_size=-4", 1, 25},
		{"?page_size=1000", 1, maxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			var body map[string]float64
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.page, body["page"])
			assert.Equal(t, tt.pageSize, body["page_size"])
		})
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		param  string
		value  string
		status int
		msg    string
	}{
		{"id", "42", http.StatusOK, ""},
		{"id", "abc", http.StatusBadRequest, "Invalid ID"},
		{"id", "0", http.StatusBadRequest, "Invalid ID"},
		{"userId", "-3", http.StatusBadRequest, "Invalid user ID"},
	}
	for _, tt := range tests {
		t.Run(tt.param+"="+tt.value, func(t *testing.T) {
			app := fiber.New()
			app.Get("/items/:"+tt.param, func(c *fiber.Ctx) error {
				id, err := parseID(c, tt.param)
				if err != nil {
					return nil
				}
				return c.JSON(fiber.Map{"id": id})
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items/"+tt.value, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.msg != "" {
				var body models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.msg, body.Error)
				assert.Equal(t, models.CodeValidation, body.Code)
			}
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.NewNotFoundError("Message", 1), fiber.StatusNotFound},
		{models.NewForbiddenError("no"), fiber.StatusForbidden},
		{models.NewConflictError("dup"), fiber.StatusConflict},
		{models.NewValidationError("bad"), fiber.StatusBadRequest},
		{models.NewUnauthorizedError("who"), fiber.StatusUnauthorized},
		{models.NewInternalError(errors.New("db down")), fiber.StatusInternalServerError},
		{errors.New("plain"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusForError(tt.err), tt.err.Error())
	}
}

func TestRespondWithErrorHidesStoreFailures(t *testing.T) {
	app := fiber.New()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return RespondWithError(c, models.NewInternalError(errors.New("pq: connection refused")))
	})
	app.Get("/gone", func(c *fiber.Ctx) error {
		return RespondWithError(c, models.NewNotFoundError("Conversation", 9))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Internal server error", body.Error)
	assert.NotContains(t, body.Error, "connection refused")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/gone", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Conversation with ID 9 not found", body.Error)
	assert.Equal(t, models.CodeNotFound, body.Code)
}
