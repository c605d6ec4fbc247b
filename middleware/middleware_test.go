package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() { gin.SetMode(gin.TestMode) }

func TestOrigin(t *testing.T) {
	r := gin.New()
	r.Use(Origin([]string{"https://app.example.com"}))
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/other", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path, origin string
		want         int
	}{
		{"/ws", "https://app.example.com", http.StatusOK},
		{"/ws", "https://APP.example.com", http.StatusOK},
		{"/ws", "https://evil.example.com", http.StatusForbidden},
		{"/ws", "", http.StatusOK},
		{"/other", "https://evil.example.com", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s origin=%q", tc.path, tc.origin)
	}
}

func TestManagerStopsOnAbort(t *testing.T) {
	m := NewManager()
	var calls []string
	m.Add(func(c *gin.Context) { calls = append(calls, "a") })
	m.Add(func(c *gin.Context) { calls = append(calls, "b"); c.AbortWithStatus(http.StatusTeapot) })
	m.Add(func(c *gin.Context) { calls = append(calls, "c") })

	r := gin.New()
	r.Use(m.Handlers()...)
	r.GET("/", func(c *gin.Context) { calls = append(calls, "handler") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouteOptAuth(t *testing.T) {
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	GET(r, "/open", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{})
	GET(r, "/closed", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{Auth: deny})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/closed", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// Origin 排在 Recovery 和 AccessLog 之后仍要在 handler 之前生效
func TestManagerChainOrder(t *testing.T) {
	m := NewManager()
	m.Add(Recovery())
	m.Add(AccessLog())
	m.Add(Origin([]string{"https://app.example.com"}))

	reached := false
	r := gin.New()
	r.Use(m.Handlers()...)
	r.GET("/ws", func(c *gin.Context) { reached = true; c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, reached)

	// 快照之后再 Add 不影响已取出的链
	hs := m.Handlers()
	m.Add(func(c *gin.Context) { c.Next() })
	assert.Len(t, hs, 3)
	assert.Len(t, m.Handlers(), 4)
}
