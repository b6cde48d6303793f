package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
	"github.com/mohamaddakhiliuad/tenantorders/internal/clock"
	"github.com/mohamaddakhiliuad/tenantorders/internal/idempotency"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
	"github.com/mohamaddakhiliuad/tenantorders/internal/tenancy"
	"github.com/mohamaddakhiliuad/tenantorders/internal/testutil"
	"github.com/mohamaddakhiliuad/tenantorders/internal/uow"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	clk := clock.NewSystem()
	m := metrics.New(prometheus.NewRegistry())
	policy := tenancy.NewPolicy(nil)
	uows := uow.NewFactory(store, policy, clk, uow.WithMetrics(m))

	srv := httptest.NewServer(NewRouter(Deps{
		Orders:      app.NewOrderService(uows, idempotency.NewCoordinator(store, idempotency.WithMetrics(m)), clk, app.WithIdempotencyTTL(time.Hour)),
		Queries:     app.NewQueryService(store, policy),
		Customers:   app.NewCustomerService(uows),
		Store:       store,
		Metrics:     m,
		CORSOrigins: []string{"http://localhost:5173"},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, tenant string, headers map[string]string, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	return res, string(raw)
}

func TestRouter_OrderLifecycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	res, body := do(t, srv, http.MethodPost, "/customers", "acme", nil, `{"name":"Ada"}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create customer: %d %s", res.StatusCode, body)
	}
	var customer customerResponse
	_ = json.Unmarshal([]byte(body), &customer)

	orderBody := fmt.Sprintf(`{"customer_id":%d,"amount":"100.00","currency":"usd"}`, customer.ID)
	res, body = do(t, srv, http.MethodPost, "/orders", "acme", map[string]string{idempotencyHeader: "idem-1"}, orderBody)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.StatusCode, body)
	}
	var created createOrderResponse
	_ = json.Unmarshal([]byte(body), &created)

	res, body = do(t, srv, http.MethodPost, "/orders", "acme", map[string]string{idempotencyHeader: "idem-1"}, orderBody)
	if res.StatusCode != http.StatusOK || !strings.Contains(body, fmt.Sprintf(`"id":%d`, created.ID)) {
		t.Fatalf("expected replay of order %d, got %d %s", created.ID, res.StatusCode, body)
	}

	path := fmt.Sprintf("/orders/%d", created.ID)
	res, body = do(t, srv, http.MethodGet, path, "acme", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get order: %d %s", res.StatusCode, body)
	}
	etag := res.Header.Get("ETag")

	res, body = do(t, srv, http.MethodGet, path, "other", nil, "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected other tenant to get 404, got %d %s", res.StatusCode, body)
	}

	res, body = do(t, srv, http.MethodPost, path+"/place", "acme", map[string]string{"If-Match": etag}, "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"placed"`) {
		t.Fatalf("place: %d %s", res.StatusCode, body)
	}

	res, body = do(t, srv, http.MethodPost, path+"/cancel", "acme", map[string]string{"If-Match": etag}, `{"reason":"late"}`)
	if res.StatusCode != http.StatusConflict || res.Header.Get("Retry-After") == "" {
		t.Fatalf("expected retryable conflict on stale version, got %d %s", res.StatusCode, body)
	}

	res, body = do(t, srv, http.MethodGet, fmt.Sprintf("/customers/%d/orders", customer.ID), "acme", nil, "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, fmt.Sprintf(`"id":%d`, created.ID)) {
		t.Fatalf("list orders: %d %s", res.StatusCode, body)
	}

	res, body = do(t, srv, http.MethodGet, "/metrics", "", nil, "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, `tenantorders_idempotency_decisions_total{outcome="duplicate"} 1`) {
		t.Fatalf("expected idempotency metrics exported, got %d", res.StatusCode)
	}
}

func TestRouter_TenantAndUnknownRoutes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	res, _ := do(t, srv, http.MethodGet, "/tenant", "", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without tenant, got %d", res.StatusCode)
	}
	res, body := do(t, srv, http.MethodGet, "/tenant", "acme", nil, "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, `"tenant_id":"acme"`) {
		t.Fatalf("unexpected tenant response %d %s", res.StatusCode, body)
	}
	res, body = do(t, srv, http.MethodGet, "/nope", "acme", nil, "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	var notFound errorResponse
	if err := json.Unmarshal([]byte(body), &notFound); err != nil {
		t.Fatalf("decode not found body: %v", err)
	}
	if notFound.Code != codeNotFound || !strings.Contains(notFound.Error, "GET /nope") {
		t.Fatalf("unexpected not found body %+v", notFound)
	}
	res, _ = do(t, srv, http.MethodGet, "/health", "", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", res.StatusCode)
	}
}
