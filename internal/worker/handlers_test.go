package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/kv/memory"
	"github.com/thebtf/chartsense/internal/worker/auth"
)

var testNow = time.Date(2026, 3, 15, 14, 5, 9, 0, time.UTC)

// testService creates a ready Service over an in-memory backend with a fixed clock.
func testService(t *testing.T, mutate ...func(*config.Config)) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.Backend = "memory"
	cfg.Timezone = "UTC"
	for _, m := range mutate {
		m(cfg)
	}

	svc := NewService("test-version", cfg, memory.NewStore(), nil,
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, svc.Init(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func do(t *testing.T, svc *Service, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHandleMessage_RoundTrip(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodPost, "/api/message",
		`{"action":"saveChatSession","data":{"providerLabel":"Google Gemini","rating":"Bullish","confidence":"High","body":"Cup and handle."}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.NotZero(t, out["sessionId"])

	rec, out = do(t, svc, http.MethodPost, "/api/message", `{"action":"getChatSessions"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions, ok := out["sessions"].([]interface{})
	require.True(t, ok, "sessions should be an array")
	require.Len(t, sessions, 1)

	first := sessions[0].(map[string]interface{})
	assert.Equal(t, "Google Gemini", first["providerLabel"])
	assert.Equal(t, "14:05:09", first["displayTime"])
	assert.Equal(t, "Cup and handle.", first["body"])
}

func TestHandleMessage_Errors(t *testing.T) {
	svc := testService(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "not json",
			body:       `{nope`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown action",
			body:       `{"action":"selfDestruct"}`,
			wantStatus: http.StatusOK,
			wantError:  "unknown action: selfDestruct",
		},
		{
			name:       "bad date",
			body:       `{"action":"getChatSessions","date":"soon"}`,
			wantStatus: http.StatusOK,
			wantError:  "date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, svc, http.MethodPost, "/api/message", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, out["success"])
			if tt.wantError != "" {
				assert.Contains(t, out["error"], tt.wantError)
			}
		})
	}
}

func TestSessionsREST(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, out["sessions"])

	rec, out = do(t, svc, http.MethodGet, "/api/sessions/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats, present := out["stats"]
	assert.True(t, present)
	assert.Nil(t, stats)

	rec, _ = do(t, svc, http.MethodPost, "/api/sessions", `{"providerLabel":"OpenRouter","body":"Range-bound."}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, out = do(t, svc, http.MethodGet, "/api/sessions?date=2026-03-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["sessions"], 1)

	rec, out = do(t, svc, http.MethodGet, "/api/sessions/days", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"2026-03-15"}, out["days"])

	rec, out = do(t, svc, http.MethodGet, "/api/sessions/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	statsMap := out["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), statsMap["todaySessions"])
	assert.Equal(t, "2026-03-15", statsMap["oldestDate"])

	rec, _ = do(t, svc, http.MethodDelete, "/api/sessions/today", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, out = do(t, svc, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, []interface{}{}, out["sessions"])
}

func TestSessionsREST_BadInput(t *testing.T) {
	svc := testService(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"bad date", http.MethodGet, "/api/sessions?date=2026-99-01", ""},
		{"save not json", http.MethodPost, "/api/sessions", "plain text"},
		{"analysis not json", http.MethodPost, "/api/analysis", "{"},
		{"analysis without provider", http.MethodPost, "/api/analysis", `{"text":"Rating: Bullish"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, svc, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["success"])
		})
	}
}

func TestSaveAnalysis(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodPost, "/api/analysis",
		`{"provider":"openai","text":"**Rating**: Bearish\nConfidence Level: low\n\nLower highs on the 4h."}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["success"])

	records, err := svc.Store().List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "OpenAI GPT", records[0].ProviderLabel)
	assert.EqualValues(t, "Bearish", records[0].Rating)
	assert.EqualValues(t, "Low", records[0].Confidence)
	assert.Equal(t, "Lower highs on the 4h.", records[0].Body)
}

func TestRetentionEndpoint(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodPost, "/api/retention", "")
	require.Equal(t, http.StatusOK, rec.Code)
	retention := out["retention"].(map[string]interface{})
	assert.Equal(t, "2026-03-08", retention["cutoff"])
	assert.Equal(t, "2026-03-15", retention["clearedToday"])
}

func TestProvidersEndpoint(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := out["providers"].([]interface{})
	require.Len(t, list, 5)
	assert.Equal(t, "anthropic", list[0].(map[string]interface{})["id"])
}

func TestPromptEndpoint(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodGet, "/api/prompt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["prompt"], "Rating: <Bullish|Bearish|Neutral>")
	assert.Contains(t, out["prompt"], "Trading Recommendation")

	_, out = do(t, svc, http.MethodGet, "/api/prompt?instructions=Only+volume.", "")
	assert.Contains(t, out["prompt"], "Only volume.")
	assert.NotContains(t, out["prompt"], "Trading Recommendation")
}

func TestHealthAndVersion(t *testing.T) {
	svc := testService(t)

	rec, out := do(t, svc, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "memory", out["backend"])
	assert.Equal(t, "2026-03-15", out["lastRetention"])

	rec, out = do(t, svc, http.MethodGet, "/api/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-version", out["version"])
}

func TestNotReady(t *testing.T) {
	svc := testService(t)
	svc.ready.Store(false)

	rec, _ := do(t, svc, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, out := do(t, svc, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, out["success"])
}

// withOrigin serves a request carrying a browser Origin header.
func withOrigin(t *testing.T, svc *Service, method, target, origin, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Host = "127.0.0.1:37877"
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

func TestCORSPreflight(t *testing.T) {
	svc := testService(t)

	for _, origin := range []string{"chrome-extension://abcdefghijklmnop", "http://localhost:5173", "http://127.0.0.1:37877"} {
		rec := withOrigin(t, svc, http.MethodOptions, "/api/message", origin, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, origin)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	}

	// Non-browser clients send no Origin and get no CORS headers.
	rec, _ := do(t, svc, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestForeignOriginRejected(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()
	const evil = "https://evil.example.com"

	_, err := svc.Store().Save(ctx, sessionFieldsFixture())
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"read sessions", http.MethodGet, "/api/sessions", ""},
		{"preflight", http.MethodOptions, "/api/sessions/today", ""},
		{"clear today", http.MethodDelete, "/api/sessions/today", ""},
		{"plain text message", http.MethodPost, "/api/message", `{"action":"clearTodaysSessions"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := withOrigin(t, svc, tt.method, tt.target, evil, tt.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.NotContains(t, rec.Body.String(), "Consolidating")
		})
	}

	records, err := svc.Store().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAuthRequired(t *testing.T) {
	const secret = "hunter2"
	svc := testService(t, func(c *config.Config) { c.AuthSecret = secret })

	// Health stays open.
	rec, _ := do(t, svc, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, svc, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.Issue([]byte(secret), "test", time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/message", bytes.NewBufferString(`{"action":"getSessionStats"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsPublished(t *testing.T) {
	svc := testService(t)

	srv := httptest.NewServer(svc.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return svc.sseBroadcaster.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Store().Save(context.Background(), sessionFieldsFixture())
	require.NoError(t, err)

	buf := make([]byte, 0, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !bytes.Contains(buf, []byte("event: session_saved")) {
		chunk := make([]byte, 1024)
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	assert.Contains(t, string(buf), "event: session_saved")
	assert.Contains(t, string(buf), `"date":"2026-03-15"`)
}

func TestIndexPage(t *testing.T) {
	svc := testService(t)

	rec, _ := do(t, svc, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/assets/app.js")

	rec, _ = do(t, svc, http.MethodGet, "/assets/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, svc, http.MethodGet, "/assets/missing.js", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
