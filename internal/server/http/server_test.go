package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/compare"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository"
	"github.com/and161185/qris-classifier/internal/repository/memory"
	"github.com/and161185/qris-classifier/internal/service"
	"github.com/and161185/qris-classifier/internal/storage"
	"github.com/and161185/qris-classifier/internal/validate"
)

const (
	tinyJPEG      = "data:image/jpeg;base64,/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAAYEBQYFBAYGBQYHBwYIChAKCgkJChQODwwQFxQYGBcUFhYaHSUfGhsjHBYWICwgIyYnKSopGR8tMC0oMCUoKSj/2wBDAQcHBwoIChMKChMoGhYaKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCj/wAARCAABAAEDASIAAhEBAxEB/8QAFQABAQAAAAAAAAAAAAAAAAAAAAv/xAAUEAEAAAAAAAAAAAAAAAAAAAAA/8QAFQEBAQAAAAAAAAAAAAAAAAAAAAX/xAAUEQEAAAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCdABmX/9k="
	adminEmail    = "admin@qris.local"
	adminPassword = "admin-password"
	userLimit     = 5
	anonLimit     = 3
)

type slowClassifier struct {
	err   error
	delay time.Duration
}

func (c slowClassifier) Classify(ctx context.Context, _ []model.Image) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.delay):
	}
	return "restaurant", c.err
}

// flakyUsers fails every read with a connection error while down is set.
type flakyUsers struct {
	*memory.UserRepo
	down atomic.Bool
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

func (f *flakyUsers) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.UserRepo.GetByID(ctx, id)
}

func (f *flakyUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.UserRepo.GetByEmail(ctx, email)
}

func (f *flakyUsers) GetByAPIKeyHash(ctx context.Context, hash []byte) (*model.User, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.UserRepo.GetByAPIKeyHash(ctx, hash)
}

type harnessConfig struct {
	cls      classifier.Classifier
	timeout  time.Duration
	maxBytes int64
	users    repository.UserRepository // served through storage.New when set
}

type harness struct {
	h        http.Handler
	auth     *service.AuthServiceImpl
	store    *storage.Storage
	admin    model.User
	adminKey string
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	if cfg.cls == nil {
		cfg.cls = classifier.NewStatic(classifier.Restaurant)
	}
	if cfg.timeout == 0 {
		cfg.timeout = time.Second
	}

	st := storage.NewInMemory()
	if cfg.users != nil {
		st = storage.New(cfg.users, memory.NewLogRepo(0), limiter.NewMemory(), log)
	}
	auth := service.NewAuthService(st.Users, []byte("test-secret"), time.Hour, userLimit, log)
	res, err := auth.EnsureBootstrapAdmin(context.Background(), service.BootstrapAdmin{Email: adminEmail, Password: adminPassword})
	require.NoError(t, err)

	classify := service.NewClassifyService(cfg.cls, compare.NewWithFallback(nil, 0, log), st.Logs, cfg.timeout, log)
	admin := service.NewAdminService(st.Users, st.Logs, st.Limiter, st, "static", "test", log)

	srv := New(Deps{
		Auth:      auth,
		Classify:  classify,
		Admin:     admin,
		Limiter:   st.Limiter,
		Validator: validate.New(cfg.maxBytes),
	}, Options{Window: time.Hour, AnonymousLimit: anonLimit}, log)

	return &harness{h: srv.Handler(), auth: auth, store: st, admin: res.User, adminKey: res.GeneratedAPIKey}
}

type response struct {
	*httptest.ResponseRecorder
	body map[string]any
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) response {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)

	out := response{ResponseRecorder: rec}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out.body)
	}
	return out
}

func (r response) errorCode() string {
	e, _ := r.body["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

func (r response) data() map[string]any {
	d, _ := r.body["data"].(map[string]any)
	return d
}

func bearer(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }
func apiKey(key string) map[string]string { return map[string]string{"X-API-Key": key} }

func classifyBody(name string) map[string]any {
	b := map[string]any{"images": map[string]any{"image1": tinyJPEG}}
	if name != "" {
		b["businessName"] = name
	}
	return b
}

func (h *harness) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/auth?action=login", map[string]string{"email": email, "password": password}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	tok, _ := resp.data()["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func (h *harness) createUser(t *testing.T, email string, limit int) (string, string) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/auth?action=create-user",
		map[string]any{"email": email, "rateLimit": limit, "password": "user-password"}, apiKey(h.adminKey))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	user := resp.data()["user"].(map[string]any)
	return user["id"].(string), resp.data()["apiKey"].(string)
}

func TestEndToEnd_LoginThenClassify(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	tok := h.login(t, adminEmail, adminPassword)

	resp := h.do(t, http.MethodPost, "/classify", classifyBody("Warung Makan Sederhana"), bearer(tok))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, true, resp.body["success"])

	data := resp.data()
	require.Equal(t, "restaurant", data["businessType"])
	require.NotEmpty(t, data["processedAt"])
	cmp, ok := data["comparison"].(map[string]any)
	require.True(t, ok, "comparison must be present")
	_, isBool := cmp["isMatch"].(bool)
	require.True(t, isBool)

	rl := resp.body["rateLimit"].(map[string]any)
	require.EqualValues(t, userLimit, rl["limit"])
	require.EqualValues(t, userLimit-1, rl["remaining"])
	require.Equal(t, strconv.Itoa(userLimit), resp.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, strconv.Itoa(userLimit-1), resp.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, resp.Header().Get("X-RateLimit-Reset"))
}

func TestClassify_EchoesRequestIDAndRecordsLog(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	body := classifyBody("")
	body["metadata"] = map[string]any{"requestId": "test_req_1", "clientVersion": "1.0.0"}

	resp := h.do(t, http.MethodPost, "/api/classify", body, apiKey(h.adminKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, "test_req_1", resp.data()["requestId"])
	require.NotContains(t, resp.data(), "comparison")

	logs, err := h.store.Logs.ListRequests(context.Background(), model.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "test_req_1", logs[0].RequestID)
	require.Equal(t, http.StatusOK, logs[0].StatusCode)
	require.Equal(t, "restaurant", logs[0].BusinessType)
	require.Equal(t, h.admin.ID, *logs[0].UserID)
}

func TestClassify_AnonymousGets401Then429(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	for i := 0; i < anonLimit; i++ {
		resp := h.do(t, http.MethodPost, "/classify", classifyBody(""), nil)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		require.Equal(t, "AUTHENTICATION_REQUIRED", resp.errorCode())
		require.Equal(t, strconv.Itoa(anonLimit-i-1), resp.Header().Get("X-RateLimit-Remaining"))
	}

	resp := h.do(t, http.MethodPost, "/classify", classifyBody(""), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", resp.errorCode())
	require.NotEmpty(t, resp.Header().Get("Retry-After"))
	details := resp.body["error"].(map[string]any)["details"].(map[string]any)
	require.Greater(t, details["retryAfter"].(float64), float64(0))

	// invalid credentials share the anonymous budget
	resp = h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey("qris_bogus"))
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestClassify_PerUserBudget(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	_, key := h.createUser(t, "limited@example.com", 1)

	resp := h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(key))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.EqualValues(t, 0, resp.body["rateLimit"].(map[string]any)["remaining"])

	resp = h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(key))
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "0", resp.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, resp.Header().Get("Retry-After"))
}

func TestClassify_DeactivatedKeyLooksLikeUnknownKey(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	id, key := h.createUser(t, "gone@example.com", 10)

	resp := h.do(t, http.MethodPut, "/auth?userId="+id, map[string]any{"isActive": false}, apiKey(h.adminKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	deactivated := h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(key))
	unknown := h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey("qris_does_not_exist"))
	require.Equal(t, http.StatusUnauthorized, deactivated.Code)
	require.Equal(t, unknown.Code, deactivated.Code)
	require.Equal(t, unknown.body["error"], deactivated.body["error"])
}

func TestClassify_RegeneratedKeyReplacesOld(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	_, oldKey := h.createUser(t, "rotate@example.com", 10)

	resp := h.do(t, http.MethodPost, "/api-keys?action=regenerate", nil, apiKey(oldKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	newKey := resp.data()["apiKey"].(string)
	require.NotEqual(t, oldKey, newKey)

	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(oldKey)).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/classify", classifyBody(""), bearer(newKey)).Code)
}

func TestClassify_PrecheckRunsBeforeAuth(t *testing.T) {
	h := newHarness(t, harnessConfig{maxBytes: 1024})

	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader("images=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_CONTENT_TYPE")

	big := strings.Repeat("x", 2048)
	resp := h.do(t, http.MethodPost, "/classify", `{"images":{"image1":"`+big+`"}}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	require.Equal(t, "REQUEST_TOO_LARGE", resp.errorCode())
}

func TestClassify_ChunkedBodyOverCeiling(t *testing.T) {
	h := newHarness(t, harnessConfig{maxBytes: 1024})
	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{"images":{"image1":"`+strings.Repeat("A", 4096)+`"}}`))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", h.adminKey)
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClassify_ValidationFailures(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	cases := []struct {
		body any
		code string
	}{
		{map[string]any{"images": map[string]any{}}, "NO_IMAGES_PROVIDED"},
		{map[string]any{"images": map[string]any{"image1": "not-a-data-uri"}}, "INVALID_IMAGE_FORMAT"},
		{`{"images":`, "INVALID_REQUEST_BODY"},
	}
	for _, tc := range cases {
		resp := h.do(t, http.MethodPost, "/classify", tc.body, apiKey(h.adminKey))
		require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
		require.Equal(t, tc.code, resp.errorCode())
	}

	six := map[string]any{}
	for i := 1; i <= 6; i++ {
		six[fmt.Sprintf("image%d", i)] = tinyJPEG
	}
	resp := h.do(t, http.MethodPost, "/classify", map[string]any{"images": six}, apiKey(h.adminKey))
	require.Equal(t, "TOO_MANY_IMAGES", resp.errorCode())
}

func TestClassify_CollaboratorErrors(t *testing.T) {
	slow := newHarness(t, harnessConfig{cls: slowClassifier{delay: time.Second}, timeout: 20 * time.Millisecond})
	resp := slow.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(slow.adminKey))
	require.Equal(t, http.StatusGatewayTimeout, resp.Code)
	require.Equal(t, "CLASSIFICATION_TIMEOUT", resp.errorCode())

	failing := newHarness(t, harnessConfig{cls: slowClassifier{err: errors.New("upstream 503")}})
	resp = failing.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(failing.adminKey))
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, "INTERNAL_SERVER_ERROR", resp.errorCode())
	require.NotContains(t, resp.Body.String(), "upstream 503")
}

func TestClassifyStatus_DoesNotConsumeBudget(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	for i := 0; i < 3; i++ {
		resp := h.do(t, http.MethodGet, "/classify", nil, apiKey(h.adminKey))
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "ok", resp.body["status"])
		require.Equal(t, strconv.Itoa(userLimit), resp.Header().Get("X-RateLimit-Remaining"))
		user := resp.body["user"].(map[string]any)
		require.Equal(t, adminEmail, user["email"])
	}
}

func TestMiddleware_PreflightAndHeaders(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	resp := h.do(t, http.MethodOptions, "/classify", nil, map[string]string{"Origin": "https://app.example"})
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	for _, r := range []response{resp, h.do(t, http.MethodGet, "/nope", nil, nil)} {
		require.Equal(t, "DENY", r.Header().Get("X-Frame-Options"))
		require.NotEmpty(t, r.Header().Get("Content-Security-Policy"))
		require.NotEmpty(t, r.Header().Get("X-Request-ID"))
	}
}

func TestRouting_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	resp := h.do(t, http.MethodGet, "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "NOT_FOUND", resp.errorCode())

	resp = h.do(t, http.MethodPatch, "/classify", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	require.Equal(t, "METHOD_NOT_ALLOWED", resp.errorCode())
}

func TestHealth(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	for _, p := range []string{"/health", "/api/health"} {
		resp := h.do(t, http.MethodGet, p, nil, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "degraded", resp.body["status"])
		require.Equal(t, true, resp.body["degraded"])
		require.Equal(t, "test", resp.body["version"])
	}
}

func TestClassify_ConcurrentRequestsShareOneBudget(t *testing.T) {
	const n = 10
	h := newHarness(t, harnessConfig{})
	_, key := h.createUser(t, "burst@example.com", n)
	raw, err := json.Marshal(classifyBody(""))
	require.NoError(t, err)

	codes := make([]int, 2*n)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-API-Key", key)
			rec := httptest.NewRecorder()
			h.h.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	count := map[int]int{}
	for _, c := range codes {
		count[c]++
	}
	require.Equal(t, map[int]int{http.StatusOK: n, http.StatusTooManyRequests: n}, count)
}

func TestClassify_AdminKeyWorksDuringStoreOutage(t *testing.T) {
	users := &flakyUsers{UserRepo: memory.NewUserRepo()}
	h := newHarness(t, harnessConfig{users: users})
	_, userKey := h.createUser(t, "plain@example.com", 10)

	resp := h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(h.adminKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = h.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, false, resp.body["degraded"])

	users.down.Store(true)

	resp = h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(h.adminKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.True(t, h.store.Degraded())
	require.Contains(t, h.store.Reason(), "connection refused")

	resp = h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(userKey))
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = h.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, "degraded", resp.body["status"])
	require.Equal(t, true, resp.body["degraded"])

	users.down.Store(false)

	resp = h.do(t, http.MethodPost, "/classify", classifyBody(""), apiKey(userKey))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.False(t, h.store.Degraded())
}

func TestRecover(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
}
