package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/auth"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/dispatcher"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

const (
	testSecret  = "test-secret-key-at-least-32-characters-long"
	waitTimeout = 2 * time.Second
)

// stubTransport acknowledges every connection immediately and lets tests
// inject inbound broker messages.
type stubTransport struct {
	mu       sync.Mutex
	handlers []func(session.Event)
}

func (s *stubTransport) Connect(_ string, _ session.ConnectOptions, handler func(session.Event)) (session.Connection, error) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()

	handler(session.Event{Type: session.EventConnAck})
	return &stubConnection{}, nil
}

// deliver emits an inbound message on the most recent connection.
func (s *stubTransport) deliver(t *testing.T, msg *session.InboundMessage) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handlers) == 0 {
		t.Fatal("no connection to deliver on")
	}
	s.handlers[len(s.handlers)-1](session.Event{Type: session.EventMessage, Message: msg})
}

type stubConnection struct {
	mu    sync.Mutex
	ended bool
}

func (c *stubConnection) Subscribe(_ context.Context, _ string, qos byte) (byte, error) {
	return qos, nil
}
func (c *stubConnection) Unsubscribe(context.Context, string) error { return nil }
func (c *stubConnection) Publish(context.Context, string, []byte, byte, bool) error {
	return nil
}
func (c *stubConnection) End(bool) error {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	return nil
}
func (c *stubConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.ended
}

// memStore is an in-memory BrokerStore.
type memStore struct {
	mu   sync.Mutex
	rows map[string]brokerconfig.Config
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]brokerconfig.Config)}
}

func (m *memStore) Get(_ context.Context, identity string) (*brokerconfig.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.rows[identity]
	if !ok {
		return nil, brokerconfig.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (m *memStore) Put(_ context.Context, identity string, cfg brokerconfig.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[identity] = *cfg.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[identity]; !ok {
		return brokerconfig.ErrNotFound
	}
	delete(m.rows, identity)
	return nil
}

func (m *memStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// testEnv is a server wired to a running dispatcher.
type testEnv struct {
	srv       *Server
	bus       *bus.Bus
	disp      *dispatcher.Dispatcher
	transport *stubTransport
	http      *httptest.Server
}

func newTestEnv(t *testing.T, store BrokerStore) *testEnv {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	b := bus.New()
	tr := &stubTransport{}

	d, err := dispatcher.New(dispatcher.Options{
		Bus:       b,
		Transport: tr,
		Resolver: brokerconfig.ResolveFunc(func(context.Context, string) (*brokerconfig.Config, error) {
			return &brokerconfig.Config{URL: "mqtt://stub:1883"}, nil
		}),
	})
	if err != nil {
		t.Fatalf("dispatcher.New() error = %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:   log,
		Bus:      b,
		Sessions: d,
		Store:    store,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	return &testEnv{srv: srv, bus: b, disp: d, transport: tr, http: ts}
}

func token(t *testing.T, role auth.Role, identities ...string) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, identities, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func (e *testEnv) connect(t *testing.T, key, identity string) {
	t.Helper()
	err := e.bus.Publish(bus.Request(bus.EventConnect, key), bus.ConnectRequest{SessionKey: key, Identity: identity})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func waitSessions(t *testing.T, d *dispatcher.Dispatcher, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if len(d.Sessions()) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Sessions() = %v, want %d live sessions", d.Sessions(), want)
}

func TestNew_Validation(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	d, err := dispatcher.New(dispatcher.Options{Bus: bus.New(), Transport: &stubTransport{}})
	if err != nil {
		t.Fatalf("dispatcher.New() error = %v", err)
	}

	tests := []struct {
		name string
		deps Deps
	}{
		{name: "missing logger", deps: Deps{Bus: bus.New(), Sessions: d}},
		{name: "missing bus", deps: Deps{Logger: log, Sessions: d}},
		{name: "missing sessions", deps: Deps{Logger: log, Bus: bus.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil) //nolint:errcheck // static URL
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "abc-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/v1/sessions", nil) //nolint:errcheck // static URL
	req.Header.Set("Origin", "http://admin.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://admin.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	foreign, err := auth.GenerateToken("tester", auth.RoleAdmin, nil, "another-secret-that-is-32-chars-long", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		tok        string
		wantStatus int
	}{
		{name: "no token", tok: "", wantStatus: http.StatusUnauthorized},
		{name: "foreign secret", tok: foreign, wantStatus: http.StatusUnauthorized},
		{name: "client role", tok: token(t, auth.RoleClient), wantStatus: http.StatusForbidden},
		{name: "admin role", tok: token(t, auth.RoleAdmin), wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/v1/sessions", tt.tok, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAuth_MalformedHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/sessions", nil) //nolint:errcheck // static URL
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	var apiErr Error
	decodeBody(t, resp, &apiErr)
	if apiErr.Code != ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeUnauthorized)
	}
}

func TestSessions_ListGetDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := token(t, auth.RoleAdmin)

	env.connect(t, "k1", "sensor-1")
	env.connect(t, "k2", "sensor-2")
	waitSessions(t, env.disp, 2)

	resp := env.do(t, http.MethodGet, "/api/v1/sessions", admin, "")
	var list struct {
		Sessions []sessionView `json:"sessions"`
		Count    int           `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 2 || list.Sessions[0].Key != "k1" || list.Sessions[1].Key != "k2" {
		t.Fatalf("list = %+v", list)
	}
	if list.Sessions[0].ID == "" {
		t.Error("session id should be set")
	}

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/k1", admin, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET k1 status = %d", resp.StatusCode)
	}
	var view sessionView
	decodeBody(t, resp, &view)
	if view.Key != "k1" {
		t.Errorf("Key = %q, want k1", view.Key)
	}

	if resp := env.do(t, http.MethodGet, "/api/v1/sessions/nope", admin, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET unknown status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/sessions/k1", admin, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("DELETE status = %d, want 202", resp.StatusCode)
	}
	waitSessions(t, env.disp, 1)
	if _, ok := env.disp.Session("k1"); ok {
		t.Error("k1 should have finished")
	}

	if resp := env.do(t, http.MethodDelete, "/api/v1/sessions/k1", admin, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestBrokerConfigs_NoStore(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/broker-configs", token(t, auth.RoleAdmin), "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var apiErr Error
	decodeBody(t, resp, &apiErr)
	if apiErr.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeUnavailable)
	}
}

func TestBrokerConfigs_CRUD(t *testing.T) {
	store := newMemStore()
	env := newTestEnv(t, store)
	admin := token(t, auth.RoleAdmin)

	resp := env.do(t, http.MethodPut, "/api/v1/broker-configs/sensor-1", admin,
		`{"url":"mqtts://broker:8883","username":"u","password":"secret","tls":{"ca":"PEM","key":"KEY"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}
	var put map[string]any
	decodeBody(t, resp, &put)
	if _, leaked := put["password"]; leaked {
		t.Error("PUT response leaked password")
	}
	if put["hasPassword"] != true {
		t.Errorf("hasPassword = %v, want true", put["hasPassword"])
	}

	stored, err := store.Get(context.Background(), "sensor-1")
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored.Password != "secret" || stored.TLS == nil || stored.TLS.Key != "KEY" {
		t.Errorf("stored config lost secrets: %+v", stored)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/broker-configs/sensor-1", admin, "")
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["url"] != "mqtts://broker:8883" || got["identity"] != "sensor-1" {
		t.Errorf("GET body = %v", got)
	}
	if tlsView, ok := got["tls"].(map[string]any); !ok || tlsView["key"] != nil {
		t.Errorf("GET tls = %v, want key redacted", got["tls"])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/broker-configs", admin, "")
	var list struct {
		Identities []string `json:"identities"`
		Count      int      `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Identities[0] != "sensor-1" {
		t.Errorf("list = %+v", list)
	}

	if resp := env.do(t, http.MethodDelete, "/api/v1/broker-configs/sensor-1", admin, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}
	if _, err := store.Get(context.Background(), "sensor-1"); !errors.Is(err, brokerconfig.ErrNotFound) {
		t.Errorf("store.Get() after delete error = %v", err)
	}
	if resp := env.do(t, http.MethodDelete, "/api/v1/broker-configs/sensor-1", admin, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/broker-configs/sensor-1", admin, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET deleted status = %d, want 404", resp.StatusCode)
	}
}

func TestBrokerConfigs_PutValidation(t *testing.T) {
	env := newTestEnv(t, newMemStore())
	admin := token(t, auth.RoleAdmin)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "invalid json", body: `{`, wantCode: ErrCodeBadRequest},
		{name: "missing url", body: `{"username":"u"}`, wantCode: ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, "/api/v1/broker-configs/x", admin, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var apiErr Error
			decodeBody(t, resp, &apiErr)
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.cfg.Port = 0

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
