// Package testutil holds helpers shared by the recognition test suites.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Client drives an http.Handler as one caller. A zero Token sends no
// Authorization header; a zero Company sends no X-Company header.
type Client struct {
	Handler http.Handler
	Token   string
	Company string
}

// NewClient creates an anonymous client of h
func NewClient(h http.Handler) Client {
	return Client{Handler: h}
}

// WithToken returns a copy of the client that sends a bearer token
func (c Client) WithToken(token string) Client {
	c.Token = token
	return c
}

// WithCompany returns a copy of the client that names its company in a header
func (c Client) WithCompany(company string) Client {
	c.Company = company
	return c
}

// Do sends body as JSON. A string body is sent verbatim.
func (c Client) Do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err, "failed to marshal request body")
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.Company != "" {
		req.Header.Set("X-Company", c.Company)
	}

	w := httptest.NewRecorder()
	c.Handler.ServeHTTP(w, req)
	return w
}

// Data decodes the data member of a success envelope
func Data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), w.Body.String())
	require.True(t, envelope.Success, w.Body.String())

	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out), w.Body.String())
	return out
}

// ErrorCode returns the code of an error envelope
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Success bool `json:"success"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), w.Body.String())
	require.False(t, envelope.Success, w.Body.String())
	require.NotNil(t, envelope.Error, w.Body.String())
	return envelope.Error.Code
}

// RequireStatus fails the test with the response body when the status differs
func RequireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
}
