package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/convoflow/internal/account"
	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/matcher"
	"github.com/ignite/convoflow/internal/metrics"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/provider"
	"github.com/ignite/convoflow/internal/reply"
	"github.com/ignite/convoflow/internal/storage"
)

const salesGoal = "提升產品銷售轉化"

// cannedChat answers classification prompts with unparseable text so the
// keyword rules decide.
type cannedChat struct{}

func (cannedChat) Chat(_ context.Context, _ []provider.Message, opts provider.Options) (*provider.Response, error) {
	if strings.Contains(opts.SystemPrompt, "You classify chat messages") {
		return &provider.Response{Content: "n/a"}, nil
	}
	return &provider.Response{Content: "好的，我幫你看看"}, nil
}

type staticUsage struct{}

func (staticUsage) Usage() provider.UsageReport {
	return provider.UsageReport{
		Total:      provider.ProviderUsage{Requests: 2},
		ByProvider: map[provider.ID]provider.ProviderUsage{"openai": {Requests: 2}},
	}
}

type testServer struct {
	handler  http.Handler
	orch     *orchestrator.Orchestrator
	sched    *orchestrator.ManualScheduler
	registry *account.Registry
}

func newTestServer(t *testing.T, accounts []config.AccountConfig, opts RouteOptions) *testServer {
	t.Helper()
	registry := account.NewRegistry(accounts)
	classifier := intent.NewClassifier(cannedChat{}, intent.NewContextStore())
	generator := reply.NewGenerator(cannedChat{}, classifier)
	sched := &orchestrator.ManualScheduler{}
	m := metrics.New()

	orch := orchestrator.New(orchestrator.Deps{
		Classifier: classifier,
		Generator:  generator,
		Matcher:    matcher.New(registry, matcher.DefaultMinScore),
		Store:      storage.NewMemoryStore(),
		Metrics:    m,
		Scheduler:  sched,
	}, orchestrator.Settings{})
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	h := NewHandlers(orch, classifier, generator, reply.Config{PersonaName: "小美"}, registry, staticUsage{})
	hc := NewHealthChecker(nil, nil, orch, "test")
	return &testServer{
		handler:  NewServer(h, hc, m, opts).Handler(),
		orch:     orch,
		sched:    sched,
		registry: registry,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var threeAccounts = []config.AccountConfig{
	{ID: "acc-1", Name: "小美"},
	{ID: "acc-2", Name: "阿強"},
	{ID: "acc-3", Name: "王顧問"},
}

func startBody(users ...string) map[string]any {
	targets := make([]map[string]string, 0, len(users))
	for _, u := range users {
		targets = append(targets, map[string]string{"id": u})
	}
	return map[string]any{"goal": salesGoal, "target_users": targets}
}

func TestStartAndGetExecution(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})

	rec := s.do(t, http.MethodPost, "/api/executions", startBody("u1", "u2"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Execution](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.StatusRunning, created.Status)
	assert.Equal(t, domain.CategorySalesConversion, created.Intent.Category)

	rec = s.do(t, http.MethodGet, "/api/executions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.Execution](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 2, got.Queue.TotalUsers)

	rec = s.do(t, http.MethodGet, "/api/executions?status=running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Executions []domain.Execution `json:"executions"`
		Count      int                `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = s.do(t, http.MethodGet, "/api/executions?status=paused", nil)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestStartExecution_Errors(t *testing.T) {
	s := newTestServer(t, nil, RouteOptions{})

	rec := s.do(t, http.MethodPost, "/api/executions", map[string]any{"goal": " ", "target_users": []map[string]string{{"id": "u1"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/executions", startBody("u1", "u2", "u3"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource_shortage")

	req := httptest.NewRequest(http.MethodPost, "/api/executions", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestExecutionLifecycle(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})
	created := decode[domain.Execution](t, s.do(t, http.MethodPost, "/api/executions", startBody("u1", "u2")))
	base := "/api/executions/" + created.ID

	rec := s.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusPaused, decode[domain.Execution](t, rec).Status)

	rec = s.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusRunning, decode[domain.Execution](t, rec).Status)

	rec = s.do(t, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusCompleted, decode[domain.Execution](t, rec).Status)

	rec = s.do(t, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/executions/missing/rematch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRematchStartsPlanningExecution(t *testing.T) {
	s := newTestServer(t, nil, RouteOptions{})
	created := decode[domain.Execution](t, s.do(t, http.MethodPost, "/api/executions", startBody("solo")))
	assert.Equal(t, domain.StatusPlanning, created.Status)

	s.registry.Upsert(domain.Account{ID: "late", Name: "小美", Status: domain.AccountOnline, Role: domain.AccountRoleSender})

	rec := s.do(t, http.MethodPost, "/api/executions/"+created.ID+"/rematch", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusRunning, decode[domain.Execution](t, rec).Status)
}

func TestInbound(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{InboundToken: "bridge-secret"})
	created := decode[domain.Execution](t, s.do(t, http.MethodPost, "/api/executions", startBody("u1", "u2")))
	require.True(t, s.sched.RunNext())

	body := map[string]string{"execution_id": created.ID, "customer_id": "u1", "text": "這個多少錢？"}

	rec := s.do(t, http.MethodPost, "/api/inbound", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inbound", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/inbound", body, "Authorization", "Bearer bridge-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Accepted bool                `json:"accepted"`
		Signal   orchestrator.Signal `json:"signal"`
	}](t, rec)
	assert.True(t, resp.Accepted)
	assert.Equal(t, orchestrator.SignalMedium, resp.Signal.Tier)

	body["execution_id"] = "missing"
	rec = s.do(t, http.MethodPost, "/api/inbound", body, "Authorization", "Bearer bridge-secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})

	rec := s.do(t, http.MethodPost, "/api/intent/classify", map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/intent/classify", map[string]any{"message": "價格多少錢？", "user_id": "u9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Intent        intent.Intent `json:"intent"`
		ShouldHandoff bool          `json:"should_handoff"`
	}](t, rec)
	assert.Equal(t, intent.PriceInquiry, resp.Intent.Category)
	assert.False(t, resp.ShouldHandoff)
}

func TestReply(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})

	rec := s.do(t, http.MethodPost, "/api/reply", map[string]any{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/reply", map[string]any{"message": "你好", "user_id": "u1", "user_name": "Amy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Body.String())
}

func TestAccounts(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})

	rec := s.do(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Accounts []domain.Account `json:"accounts"`
	}](t, rec)
	assert.Len(t, list.Accounts, 3)

	rec = s.do(t, http.MethodPut, "/api/accounts/acc-2/status", map[string]string{"status": "Offline"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AccountOffline, decode[domain.Account](t, rec).Status)

	rec = s.do(t, http.MethodPut, "/api/accounts/acc-2/status", map[string]string{"status": "Sleeping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/accounts/nobody/status", map[string]string{"status": "Online"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsage(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})
	rec := s.do(t, http.MethodGet, "/api/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[provider.UsageReport](t, rec)
	assert.Equal(t, 2, report.Total.Requests)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, threeAccounts, RouteOptions{})

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "up", health.Checks["campaigns"].Status)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/health/live", nil)
	assert.Contains(t, rec.Body.String(), "alive")

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegradedWhileCampaignPlans(t *testing.T) {
	s := newTestServer(t, nil, RouteOptions{})
	s.do(t, http.MethodPost, "/api/executions", startBody("solo"))

	health := decode[HealthStatus](t, s.do(t, http.MethodGet, "/health", nil))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "degraded", health.Checks["campaigns"].Status)
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "ping failed: refused"},
	}))
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "not configured"},
		"redis":    {Status: "up"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "down", Message: "ping failed"},
	}))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", formatUptime(42e9))
	assert.Equal(t, "1h 0m 5s", formatUptime(3605e9))
}
