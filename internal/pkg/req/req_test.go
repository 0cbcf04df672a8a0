package req_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/req"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func bind(contentType, body string) (credentials, *errs.CustomError) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}

	var dst credentials
	err := req.BindJSON(httptest.NewRecorder(), r, &dst)
	return dst, err
}

func TestBindJSON(t *testing.T) {
	got, err := bind("application/json; charset=utf-8", `{"username":"alice","password":"secret1"}`)
	require.Nil(t, err)
	assert.Equal(t, credentials{Username: "alice", Password: "secret1"}, got)
}

func TestBindJSON_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		code        int
	}{
		{name: "wrong media type", contentType: "text/plain", body: `{}`, code: errs.ErrUnsupportedMediaType},
		{name: "syntax error", contentType: "application/json", body: `{"username":`, code: errs.ErrInvalidJSONFormat},
		{name: "unknown field", contentType: "application/json", body: `{"username":"a","admin":true}`, code: errs.ErrInvalidJSONFormat},
		{name: "trailing data", contentType: "application/json", body: `{"username":"a"} {"username":"b"}`, code: errs.ErrExtraContentInBody},
		{
			name:        "too large",
			contentType: "application/json",
			body:        `{"username":"` + strings.Repeat("a", int(req.MaxJSONBodySize)) + `"}`,
			code:        errs.ErrRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bind(tt.contentType, tt.body)
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, req.BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", req.BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, req.BearerToken(r))
}
