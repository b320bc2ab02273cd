package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"parley/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageBody struct {
	ID          uint    `json:"id"`
	Content     *string `json:"content"`
	Type        string  `json:"type"`
	IsEdited    bool    `json:"is_edited"`
	IsForwarded bool    `json:"is_forwarded"`
	IsDeleted   bool    `json:"is_deleted"`
	Attachments []struct {
		FileURL   string `json:"file_url"`
		MediaType string `json:"media_type"`
	} `json:"attachments"`
}

type historyBody struct {
	Messages []messageBody `json:"messages"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

func messagePath(id uint, rest ...string) string {
	return fmt.Sprintf("/api/messages/%d", id) + strings.Join(rest, "")
}

func TestSendAndReadMessages(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := h.user("alice"), h.user("bob"), h.user("carol")
	conv, err := h.convs.CreatePrivate(context.Background(), alice, bob)
	require.NoError(t, err)

	resp := h.do(http.MethodPost, convPath(conv.ID, "/messages"), alice, fiber.Map{"content": "  hello  "})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	first := decode[messageBody](t, resp)
	require.NotNil(t, first.Content)
	assert.Equal(t, "hello", *first.Content)
	assert.Equal(t, string(models.MessageText), first.Type)

	resp = h.do(http.MethodPost, convPath(conv.ID, "/messages"), alice, fiber.Map{"content": "   "})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, convPath(conv.ID, "/messages"), carol, fiber.Map{"content": "let me in"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = h.do(http.MethodPost, convPath(conv.ID, "/messages"), bob, fiber.Map{"content": "hi back", "reply_to_id": first.ID})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = h.do(http.MethodGet, convPath(conv.ID, "/unread"), alice, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode[map[string]int](t, resp)["unread_count"])

	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages?page_size=1"), alice, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	history := decode[historyBody](t, resp)
	assert.Equal(t, 1, history.PageSize)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi back", *history.Messages[0].Content, "newest first")

	resp = h.do(http.MethodPost, convPath(conv.ID, "/read"), alice, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[map[string]int](t, resp)["marked"])
	resp = h.do(http.MethodPost, convPath(conv.ID, "/read"), alice, nil)
	assert.Equal(t, 0, decode[map[string]int](t, resp)["marked"])

	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages"), carol, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSendMessageWithAttachments(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	conv, err := h.convs.CreatePrivate(context.Background(), alice, bob)
	require.NoError(t, err)

	resp := h.upload(convPath(conv.ID, "/messages"), alice, "files", "shot.png", pngFixture(t), map[string]string{"content": "look"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	msg := decode[messageBody](t, resp)
	assert.Equal(t, string(models.MessageImage), msg.Type)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, string(models.AttachmentImage), msg.Attachments[0].MediaType)

	resp = h.do(http.MethodGet, msg.Attachments[0].FileURL, 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// a rejected file with no text leaves nothing to send
	resp = h.upload(convPath(conv.ID, "/messages"), alice, "files", "run.exe", []byte("MZ"), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.upload(convPath(conv.ID, "/messages"), alice, "files", "shot.png", pngFixture(t), map[string]string{"reply_to_id": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMessageMutationRoutes(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := h.user("alice"), h.user("bob"), h.user("carol")
	conv, err := h.convs.CreatePrivate(context.Background(), alice, bob)
	require.NoError(t, err)
	other, err := h.convs.CreatePrivate(context.Background(), alice, carol)
	require.NoError(t, err)

	resp := h.do(http.MethodPost, convPath(conv.ID, "/messages"), alice, fiber.Map{"content": "first draft"})
	msg := decode[messageBody](t, resp)

	resp = h.do(http.MethodPatch, messagePath(msg.ID), bob, fiber.Map{"content": "hijack"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = h.do(http.MethodPatch, messagePath(msg.ID), alice, fiber.Map{"content": "final"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	edited := decode[messageBody](t, resp)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "final", *edited.Content)

	resp = h.do(http.MethodPut, messagePath(msg.ID, "/reaction"), bob, fiber.Map{"emoji": "👍"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "👍", decode[map[string]interface{}](t, resp)["emoji"])
	resp = h.do(http.MethodPut, messagePath(msg.ID, "/reaction"), bob, fiber.Map{"emoji": ""})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp = h.do(http.MethodDelete, messagePath(msg.ID, "/reaction"), bob, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = h.do(http.MethodDelete, messagePath(msg.ID, "/reaction"), bob, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages/search?q=FIN"), bob, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, resp)["total"])
	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages/search"), bob, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, messagePath(msg.ID, "/forward"), alice, fiber.Map{"conversation_id": other.ID})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, decode[messageBody](t, resp).IsForwarded)
	resp = h.do(http.MethodPost, messagePath(msg.ID, "/forward"), bob, fiber.Map{"conversation_id": other.ID})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = h.do(http.MethodPost, messagePath(msg.ID, "/forward"), alice, fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, "/api/messages/delivered", bob, fiber.Map{"message_ids": []uint{msg.ID, msg.ID}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[map[string]int](t, resp)["marked"])
	resp = h.do(http.MethodPost, "/api/messages/delivered", carol, fiber.Map{"message_ids": []uint{msg.ID}})
	assert.Equal(t, 0, decode[map[string]int](t, resp)["marked"], "messages the caller cannot see are ignored")

	resp = h.do(http.MethodDelete, messagePath(msg.ID), bob, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = h.do(http.MethodDelete, messagePath(msg.ID)+"?for_everyone=true", bob, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = h.do(http.MethodDelete, messagePath(msg.ID), alice, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages"), alice, nil)
	assert.Empty(t, decode[historyBody](t, resp).Messages)
	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages"), bob, nil)
	assert.Len(t, decode[historyBody](t, resp).Messages, 1)

	resp = h.do(http.MethodDelete, messagePath(msg.ID)+"?for_everyone=true", alice, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = h.do(http.MethodGet, convPath(conv.ID, "/messages"), bob, nil)
	history := decode[historyBody](t, resp)
	require.Len(t, history.Messages, 1)
	assert.True(t, history.Messages[0].IsDeleted)

	resp = h.do(http.MethodPatch, messagePath(9999), alice, fiber.Map{"content": "x"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
