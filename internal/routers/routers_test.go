package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatSync/config"
	"github.com/Gopher0727/ChatSync/internal/api"
	"github.com/Gopher0727/ChatSync/internal/handlers"
	"github.com/Gopher0727/ChatSync/internal/middlewares"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/session"
	"github.com/Gopher0727/ChatSync/internal/utils"
	"github.com/Gopher0727/ChatSync/middleware/jwt"
	"github.com/Gopher0727/ChatSync/utils/ratelimit"
)

// stubBackend 只实现路由测试用到的接口
type stubBackend struct {
	seq atomic.Int64
}

func (b *stubBackend) ListChannels(context.Context, string) ([]model.Channel, error) {
	return []model.Channel{{ID: "general", Name: "general"}}, nil
}
func (b *stubBackend) CreateChannel(_ context.Context, _ string, name string, _ []string) (model.Channel, error) {
	return model.Channel{ID: name, Name: name}, nil
}
func (b *stubBackend) ListMessages(context.Context, string) ([]model.WireMessage, error) {
	return nil, nil
}
func (b *stubBackend) SendChannelMessage(_ context.Context, _ string, text string, _ model.SendOptions) (model.WireMessage, error) {
	n := b.seq.Add(1)
	return model.WireMessage{ID: "m" + strconv.FormatInt(n, 10), AuthorID: "u1", TS: n * 100, Text: &text}, nil
}
func (b *stubBackend) SendThreadMessage(ctx context.Context, parentID, text string) (model.WireMessage, error) {
	return b.SendChannelMessage(ctx, "", text, model.SendOptions{})
}
func (b *stubBackend) SendDMMessage(ctx context.Context, _ string, text string, opts model.SendOptions) (model.WireMessage, error) {
	return b.SendChannelMessage(ctx, "", text, opts)
}
func (b *stubBackend) GetOrCreateDMRoom(context.Context, []string) (api.DMRoom, error) {
	return api.DMRoom{ID: "room"}, nil
}
func (b *stubBackend) EditMessage(context.Context, string, string) (model.WireMessage, error) {
	return model.WireMessage{}, nil
}
func (b *stubBackend) DeleteMessage(context.Context, string) error { return nil }
func (b *stubBackend) GetPinnedMessages(context.Context, string) ([]string, error) {
	return nil, nil
}
func (b *stubBackend) GetSavedMessages(context.Context) ([]string, error) { return nil, nil }

func newEngine(t *testing.T, limits config.RateLimitConfig) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sess := session.New(model.User{ID: "u1", DisplayName: "Alice"}, "p1", &stubBackend{})
	t.Cleanup(func() { sess.Close() })

	pool := utils.NewWorkerPool(2, 8, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	tokens := jwt.NewTokenManager("secret", 1, 1)
	token, err := tokens.GenerateToken("u1", "Alice")
	require.NoError(t, err)

	mw := middlewares.NewMiddlewareManager(tokens, "u1", ratelimit.NewMemoryLimiter(), nil)
	r := gin.New()
	SetupRoutes(r, &limits, mw, pool, handlers.NewSessionHandler(sess, nil))
	return r, token
}

func request(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Auth(t *testing.T) {
	r, token := newEngine(t, config.RateLimitConfig{})

	w := request(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/api/v1/me", "", "").Code)

	w = request(r, http.MethodGet, "/api/v1/me", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"u1"`)
}

func TestSetupRoutes_Flow(t *testing.T) {
	r, token := newEngine(t, config.RateLimitConfig{})

	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/v1/channels/refresh", token, "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/v1/channels/general/switch", token, "").Code)

	w := request(r, http.MethodPost, "/api/v1/channels/general/messages", token, `{"text":"hi"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"m1"`)

	w = request(r, http.MethodPost, "/api/v1/channels/general/messages/m1/thread", token, `{"text":"re"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"parentId":"m1"`)

	w = request(r, http.MethodGet, "/api/v1/channels/general/messages", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"threadCount":1`)

	w = request(r, http.MethodGet, "/api/v1/channels/general/activity", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unreadCount":0`)

	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/v1/messages/m1/save", token, "").Code)
	assert.Contains(t, request(r, http.MethodGet, "/api/v1/saved", token, "").Body.String(), `"m1"`)
}

func TestSetupRoutes_SendRateLimit(t *testing.T) {
	r, token := newEngine(t, config.RateLimitConfig{SendPerMinute: 1})

	require.Equal(t, http.StatusCreated, request(r, http.MethodPost, "/api/v1/channels/general/messages", token, `{"text":"one"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, request(r, http.MethodPost, "/api/v1/channels/general/messages", token, `{"text":"two"}`).Code)

	// 其他意图不受发送配额影响
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/v1/channels", token, "").Code)
}
