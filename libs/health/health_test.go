package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveReadiness(m *Manager) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/readyz", ReadinessHandler(m))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func TestReadinessReflectsFlagAndChecks(t *testing.T) {
	m := NewManager(false)
	if w := serveReadiness(m); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", w.Code)
	}

	m.SetReady(true)
	if w := serveReadiness(m); w.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", w.Code)
	}

	m.AddCheck("redis", func(context.Context) error { return errors.New("down") })
	if w := serveReadiness(m); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing check, got %d", w.Code)
	}
}
