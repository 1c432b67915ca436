package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"BusinessServer/apps/business/internal/handler"
	"BusinessServer/apps/business/internal/middleware"
	"BusinessServer/apps/business/internal/service"
	"BusinessServer/consts"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/protocol"
	"BusinessServer/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRelationService struct{}

func (stubRelationService) RequestFriend(context.Context, uint64, uint64, string) (*service.Result, error) {
	return &service.Result{PairID: 1, Created: true, Notified: 1}, nil
}

func (stubRelationService) RemoveFriend(context.Context, uint64, uint64) (*service.Result, error) {
	return nil, service.ErrNotFound
}

func (stubRelationService) ListFriends(context.Context, uint64) ([]*service.FriendView, error) {
	return nil, nil
}

func (stubRelationService) HandleInbound(context.Context, *protocol.Frame) {}

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	logger.ReplaceGlobal(zap.NewNop())
	gin.SetMode(gin.TestMode)
	return InitRouter(handler.NewFriendHandler(stubRelationService{}), opts)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestFriendRoutesAndTrace(t *testing.T) {
	r := newTestRouter(t, Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/friend", bytes.NewBufferString(`{"account_id":1,"friend_account_id":2}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(util.HeaderXRequestID, "trace-123")
	r.ServeHTTP(w, req)

	var body struct {
		Code    int32  `json:"code"`
		TraceID string `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int32(consts.CodeSuccess), body.Code)
	assert.Equal(t, "trace-123", body.TraceID)
	assert.Equal(t, "trace-123", w.Header().Get(util.HeaderXRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/friend/1/2", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int32(consts.CodeNotFriend), body.Code)
	assert.NotEmpty(t, body.TraceID)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newTestRouter(t, Options{
		HTTPMetrics: middleware.NewHTTPMetrics(reg),
		Gatherer:    reg,
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/friend/list/5", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `business_http_requests_total{method="GET",route="/api/v1/friend/list/:account_id",status="200"} 1`))
}

func TestRateLimitedRoutes(t *testing.T) {
	r := newTestRouter(t, Options{RateLimiter: middleware.NewRateLimiter(0.001, 1, nil)})

	codes := make([]int32, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/friend/list/5", nil))
		var body struct {
			Code int32 `json:"code"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		codes = append(codes, body.Code)
	}
	assert.Equal(t, []int32{consts.CodeSuccess, consts.CodeTooManyRequests}, codes)

	// 健康检查不受限流影响
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
