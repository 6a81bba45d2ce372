package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"canvasServer/backend/internal/canvas"
	"canvasServer/backend/internal/event"
	"canvasServer/backend/internal/pubsub"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type noopRegistry struct {
	active map[string]bool
}

func (r *noopRegistry) MarkBridgeActive(canvasID string) bool {
	if r.active[canvasID] {
		return false
	}
	r.active[canvasID] = true
	return true
}

func (r *noopRegistry) MarkBridgeInactive(canvasID string) {}

func (r *noopRegistry) BroadcastLocal(ctx context.Context, canvasID string, d event.Delivered) int {
	return 0
}

func newRouter(t *testing.T, ping PingFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	bridges := canvas.NewBridges(ctx, pubsub.NewMemory(), &noopRegistry{active: map[string]bool{}}, canvas.BridgeOptions{})
	t.Cleanup(func() {
		cancel()
		bridges.Wait()
	})

	h := NewCanvasHandler(bridges, ping)
	r := gin.New()
	r.GET("/uuid", h.NewCanvasID)
	r.GET("/sub/:canvasId", h.Subscribe)
	r.GET("/healthz", h.Healthz)
	return r
}

func do(r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestNewCanvasID(t *testing.T) {
	r := newRouter(t, nil)
	w, body := do(r, "/uuid")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	id, _ := body["uuid"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("uuid = %q: %v", id, err)
	}
	if !canvas.ValidID(id) {
		t.Fatalf("issued id %q is not a valid canvas id", id)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := newRouter(t, nil)
	_, first := do(r, "/sub/c1")
	_, second := do(r, "/sub/c1")
	if first["started"] != true || second["started"] != false || first["canvasId"] != "c1" {
		t.Fatalf("first = %v, second = %v", first, second)
	}

	w, _ := do(r, "/sub/bad.id")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid canvas id status = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	w, body := do(newRouter(t, nil), "/healthz")
	if w.Code != http.StatusOK || body["message"] != "ok" {
		t.Fatalf("healthz = %d %v", w.Code, body)
	}

	down := func(ctx context.Context) error { return errors.New("dial tcp: connection refused") }
	w, _ = do(newRouter(t, down), "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with backend down = %d", w.Code)
	}
}
