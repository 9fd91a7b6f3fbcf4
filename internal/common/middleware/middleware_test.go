package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipproof-backend/internal/common/errors"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(), ErrorHandler())
	r.Use(handlers...)
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHTTPStatus(t *testing.T) {
	tests := map[errors.ErrorCode]int{
		errors.ErrCodeInvalidHash:        http.StatusBadRequest,
		errors.ErrCodeMissingFields:      http.StatusBadRequest,
		errors.ErrCodeBadRequest:         http.StatusBadRequest,
		errors.ErrCodeUnauthorized:       http.StatusUnauthorized,
		errors.ErrCodeNotFound:           http.StatusNotFound,
		errors.ErrCodeConflict:           http.StatusConflict,
		errors.ErrCodeRenderFailure:      http.StatusInternalServerError,
		errors.ErrCodePersistenceFailure: http.StatusInternalServerError,
		errors.ErrCodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestErrorHandler_AppError(t *testing.T) {
	r := newRouter()
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(errors.NewInvalidHashError("abc"))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, "INVALID_HASH", body.Code)
	assert.Contains(t, body.Message, "64-character")
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}

func TestErrorHandler_InternalIsGeneric(t *testing.T) {
	r := newRouter()
	r.GET("/persist", func(c *gin.Context) {
		_ = c.Error(errors.NewPersistenceError("insert proof", stderrors.New("connection refused to 10.0.0.5")))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(stderrors.New("boom"))
	})

	for _, path := range []string{"/persist", "/plain"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		body := decodeError(t, w)
		assert.Equal(t, internalMessage, body.Message, path)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
		assert.NotContains(t, w.Body.String(), "insert proof")
		assert.NotEmpty(t, body.RequestID)
	}
}

func TestRecovery(t *testing.T) {
	r := newRouter()
	r.GET("/panic", func(c *gin.Context) { panic("secret detail") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}

func TestLoggerAndMetrics_PassThrough(t *testing.T) {
	r := newRouter(Logger(), Metrics())
	r.GET("/ok/:id", func(c *gin.Context) { c.String(http.StatusOK, "fine") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok/1?x=y", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fine", w.Body.String())
}

// signInitData builds init data signed the way Telegram does it.
func signInitData(t *testing.T, token string, userID int64, authDate time.Time) string {
	t.Helper()
	user, err := json.Marshal(map[string]interface{}{"id": userID, "first_name": "Ada"})
	require.NoError(t, err)

	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	values.Set("user", string(user))

	pairs := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, k+"="+v[0])
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(token))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func TestTelegramInitData(t *testing.T) {
	const token = "12345:TEST"
	r := newRouter(TelegramInitData(token, time.Hour))
	r.GET("/me", func(c *gin.Context) {
		id, ok := TelegramUserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "ok": ok})
	})

	t.Run("absent header passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":0,"ok":false}`, w.Body.String())
	})

	t.Run("valid header sets user", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(InitDataHeader, signInitData(t, token, 777, time.Now()))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":777,"ok":true}`, w.Body.String())
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(InitDataHeader, signInitData(t, "other", 777, time.Now()))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
	})

	t.Run("expired is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(InitDataHeader, signInitData(t, token, 777, time.Now().Add(-2*time.Hour)))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTelegramInitData_NoTokenIsNoop(t *testing.T) {
	r := newRouter(TelegramInitData("", time.Hour))
	r.GET("/me", func(c *gin.Context) {
		_, ok := TelegramUserID(c)
		c.JSON(http.StatusOK, gin.H{"ok": ok})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(InitDataHeader, "garbage")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":false}`, w.Body.String())
}
