package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/config"
	"tablecrm-orders-go/internal/session"
)

const validToken = "good-token"

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type crmFake struct {
	mu    sync.Mutex
	posts map[string][]string
}

func (f *crmFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token != validToken {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Not authenticated"}`))
		return
	}
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.posts[r.URL.Path] = append(f.posts[r.URL.Path], string(body))
		f.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case path == "/payboxes/":
		w.Write([]byte(`[{"id":1,"name":"Касса"}]`))
	case path == "/organizations/" || path == "/warehouses/" || path == "/price_types/":
		w.Write([]byte(`{"result":[],"count":0}`))
	case path == "/contragents/" && r.Method == http.MethodGet:
		w.Write([]byte(`{"result":[{"id":5,"name":"Ann","phone":"+7 (999) 123-45-67"},{"id":6,"first_name":"Bob","last_name":"Lee"}],"count":2}`))
	case path == "/contragents/" && r.Method == http.MethodPost:
		w.Write([]byte(`[{"id":900}]`))
	case path == "/docs_sales/" && r.Method == http.MethodGet:
		w.Write([]byte(`[{"id":10,"status":true,"goods":[{"nomenclature":7,"nomenclature_name":"Milk","price":50}]},{"id":11,"status":false}]`))
	case path == "/docs_sales/" && r.Method == http.MethodPost:
		w.Write([]byte(`[{"id":77,"number":"12"}]`))
	case path == "/categories_tree/":
		w.Write([]byte(`[{"key":1,"name":"Dairy","children":[{"key":2,"name":"Cheese","parent":1}]}]`))
	case path == "/nomenclatures/":
		w.Write([]byte(`[{"id":20,"name":"Gouda","price":400}]`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not Found"}`))
	}
}

func setupServer(t *testing.T) (*Server, *crmFake) {
	t.Helper()
	fake := &crmFake{posts: make(map[string][]string)}
	crm := httptest.NewServer(fake)
	t.Cleanup(crm.Close)

	cfg := &config.Config{
		TableCRMAPIURL:  crm.URL,
		ClientsPageSize: 100,
		ClientsMaxTotal: 500,
		OrdersPageSize:  20,
	}
	var sessions *session.Manager
	metrics := NewMetrics("test", func() int { return sessions.Count() })
	sessions = session.NewManager(cfg, nil, testLogger(), session.WithObserver(metrics))
	s, err := NewServer(Options{APIURL: crm.URL, ProxyTarget: crm.URL}, sessions, metrics, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return s, fake
}

func doJSON(t *testing.T, s *Server, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/app/session", "", map[string]any{"token": validToken})
	if w.Code != http.StatusOK {
		t.Fatalf("login code %v: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, w, &resp)
	if resp.SessionID == "" {
		t.Fatal("no session id")
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), sessionCookie+"=") {
		t.Fatal("session cookie not set")
	}
	return resp.SessionID
}

type draftBody struct {
	Order struct {
		Client *struct {
			ID string `json:"id"`
		} `json:"client"`
		Items []json.RawMessage `json:"items"`
	} `json:"order"`
	Total decimal.Decimal `json:"total"`
}

func TestHealthAndAuth(t *testing.T) {
	s, _ := setupServer(t)

	if w := doJSON(t, s, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz code %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/app/clients", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous clients code %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/app/clients", "unknown", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown session code %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/app/session", "", map[string]any{"token": "bad"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token code %v", w.Code)
	}

	sid := login(t, s)
	if w := doJSON(t, s, http.MethodGet, "/app/session", sid, nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected":true`) {
		t.Fatalf("status %v: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodDelete, "/app/session", sid, nil); w.Code != http.StatusNoContent {
		t.Fatalf("logout code %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/app/session", sid, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("after logout code %v", w.Code)
	}
}

func TestClientSearch(t *testing.T) {
	s, _ := setupServer(t)
	sid := login(t, s)

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"9991234567", 1},
		{"bob", 1},
		{"nobody", 0},
	}
	for _, tt := range tests {
		w := doJSON(t, s, http.MethodGet, "/app/clients?q="+tt.query, sid, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("clients code %v", w.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, w, &resp)
		if resp.Count != tt.want {
			t.Errorf("q=%q count = %d, want %d", tt.query, resp.Count, tt.want)
		}
	}
}

func TestOrderFlow(t *testing.T) {
	s, fake := setupServer(t)
	sid := login(t, s)

	// products come from order history
	w := doJSON(t, s, http.MethodGet, "/app/products?q=milk", sid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("products %v: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/app/draft/items", sid, map[string]any{"product_id": "404", "quantity": 1})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown product code %v", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, "/app/draft/items", sid, map[string]any{"product_id": "7", "quantity": 5})
	if w.Code != http.StatusCreated {
		t.Fatalf("add item code %v: %s", w.Code, w.Body.String())
	}
	var draft draftBody
	decodeBody(t, w, &draft)
	if !draft.Total.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("total = %s", draft.Total)
	}

	w = doJSON(t, s, http.MethodPatch, "/app/draft/items/0", sid, map[string]any{"quantity": 2})
	decodeBody(t, w, &draft)
	if w.Code != http.StatusOK || !draft.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("update %v total %s", w.Code, draft.Total)
	}
	if w := doJSON(t, s, http.MethodPatch, "/app/draft/items/3", sid, map[string]any{"quantity": 2}); w.Code != http.StatusBadRequest {
		t.Fatalf("out of range code %v", w.Code)
	}

	if w := doJSON(t, s, http.MethodPost, "/app/draft/submit", sid, nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete submit code %v: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/app/clients/placeholder", sid, map[string]any{"phone": "+79990000001"})
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"id":"new-`) {
		t.Fatalf("placeholder %v: %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, s, http.MethodGet, "/app/reference", sid, nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Касса") {
		t.Fatalf("reference %v: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/app/draft/submit?conduct=true", sid, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit code %v: %s", w.Code, w.Body.String())
	}
	var result struct {
		Success    bool   `json:"success"`
		DocumentID string `json:"document_id"`
		Conducted  bool   `json:"conducted"`
	}
	decodeBody(t, w, &result)
	if !result.Success || result.DocumentID != "77" || !result.Conducted {
		t.Fatalf("result = %+v", result)
	}

	if got := fake.posts["/contragents/"]; len(got) != 1 {
		t.Fatalf("placeholder client not created: %v", got)
	}
	sale := fake.posts["/docs_sales/"][0]
	if !strings.Contains(sale, `"contragent":900`) || !strings.Contains(sale, `"paybox":1`) || !strings.Contains(sale, `"status":true`) {
		t.Fatalf("sale payload = %s", sale)
	}

	w = doJSON(t, s, http.MethodGet, "/app/draft", sid, nil)
	decodeBody(t, w, &draft)
	if len(draft.Order.Items) != 0 {
		t.Fatalf("draft kept after submit: %s", w.Body.String())
	}
}

func TestOrdersAndCategories(t *testing.T) {
	s, _ := setupServer(t)
	sid := login(t, s)

	w := doJSON(t, s, http.MethodGet, "/app/orders?filter=active", sid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("orders %v: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodGet, "/app/orders?filter=bogus", sid, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter code %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/app/orders?limit=x", sid, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code %v", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/app/categories/flat?q=chee", sid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Cheese") || strings.Contains(w.Body.String(), "Dairy") {
		t.Fatalf("flat %v: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/app/categories/2/products", sid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Gouda") {
		t.Fatalf("category products %v: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/app/products?q=gouda", sid, nil)
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("category product not searchable: %s", w.Body.String())
	}
}

func TestServerlessProxy(t *testing.T) {
	s, _ := setupServer(t)

	w := doJSON(t, s, http.MethodGet, "/proxy", "", nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Path is required") {
		t.Fatalf("missing path %v: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/proxy?path=/payboxes/&token="+validToken, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Касса") {
		t.Fatalf("proxied %v: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing")
	}

	w = doJSON(t, s, http.MethodGet, "/proxy?path=/payboxes/&token=bad", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status not reflected: %v", w.Code)
	}
}

func TestReverseProxy(t *testing.T) {
	s, _ := setupServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/payboxes/?token="+validToken, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Касса") {
		t.Fatalf("reverse proxy %v: %s", w.Code, w.Body.String())
	}

	sessions := session.NewManager(&config.Config{}, nil, testLogger())
	broken, err := NewServer(Options{ProxyTarget: "http://127.0.0.1:1"}, sessions, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, broken, http.MethodGet, "/api/v1/payboxes/", "", nil)
	if w.Code != http.StatusInternalServerError || w.Body.String() != "Proxy error" {
		t.Fatalf("proxy failure %v: %q", w.Code, w.Body.String())
	}
}

func TestReverseProxyKeepsSingleCORSHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	sessions := session.NewManager(&config.Config{}, nil, testLogger())
	s, err := NewServer(Options{ProxyTarget: upstream.URL}, sessions, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	w := doJSON(t, s, http.MethodGet, "/api/v1/x", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %v: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Values("Access-Control-Allow-Origin"); len(got) != 1 || got[0] != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Values("Access-Control-Allow-Methods"); len(got) != 1 || got[0] == "GET" {
		t.Fatalf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupServer(t)
	doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	login(t, s)

	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	body := w.Body.String()
	for _, name := range []string{"http_requests_total", "tablecrm_requests_total", "active_sessions"} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %s missing", name)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := setupServer(t)
	w := doJSON(t, s, http.MethodOptions, "/app/clients", "", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight %v", w.Code)
	}
}
