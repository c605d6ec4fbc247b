package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	tokens "linkwave/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTResolver(t *testing.T) {
	opts := tokens.DefaultOptions([]byte("test-secret"))
	res := JWTResolver{Opts: opts}
	tok, _, err := tokens.Generate(opts, "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	uid, err := res.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	uid, err = res.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	_, err = res.Resolve(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, ErrNoIdentity)

	other := tokens.DefaultOptions([]byte("other-secret"))
	bad, _, err := tokens.Generate(other, "alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/ws?token="+bad, nil)
	_, err = res.Resolve(req)
	assert.Error(t, err)
}

func TestHeaderResolver(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := HeaderResolver{}.Resolve(req)
	assert.ErrorIs(t, err, ErrNoIdentity)

	req.Header.Set("X-User-Id", " bob ")
	uid, err := HeaderResolver{}.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "bob", uid)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(HeaderResolver{}))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "carol")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())
}
