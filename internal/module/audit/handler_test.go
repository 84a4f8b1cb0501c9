package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/middleware"
)

type stubReader struct {
	query Query
	page  *Page
}

func (s *stubReader) List(ctx context.Context, query Query) (*Page, error) {
	s.query = query
	return s.page, nil
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    json.RawMessage       `json:"data"`
	Error   *failure.Presentation `json:"error"`
}

func get(t *testing.T, reader Reader, target string) (*http.Response, envelope) {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(zerolog.Nop())})
	app.Get("/audit", NewAuditHandler(reader).List)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp, env
}

func TestAuditHandler_List(t *testing.T) {
	reader := &stubReader{page: &Page{Records: []Record{}, Page: 2, Limit: 10, Total: 12, TotalPages: 2}}

	resp, env := get(t, reader, "/audit?page=2&limit=10&action=resend_otp")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Query{Page: 2, Limit: 10, Action: "resend_otp"}, reader.query)

	var page Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(12), page.Total)
}

func TestAuditHandler_InvalidAction(t *testing.T) {
	resp, env := get(t, &stubReader{}, "/audit?action=delete_everything")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Error.Message, "action must be one of")
}

func TestAuditHandler_NotStored(t *testing.T) {
	resp, env := get(t, nil, "/audit")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, failure.NotFound, env.Error.Kind)
	assert.False(t, env.Success)
}
